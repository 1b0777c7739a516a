// Package main provides the quadfork CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/quadfork/pkg/config"
	"github.com/orneryd/quadfork/pkg/forking"
	"github.com/orneryd/quadfork/pkg/rdf"
	"github.com/orneryd/quadfork/pkg/storage"
	"github.com/orneryd/quadfork/pkg/transport"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quadfork",
		Short: "quadfork - optimistic forking layer over a quad store",
		Long: `quadfork keeps pending inserts and deletes for named graphs in shadow
graphs next to the base data, so reads see the fork while the base stays
untouched until the changes are persisted to a SPARQL endpoint.

Quads are read and written as JSON lines in the RDF/JS term shape:
  {"subject":"http://ex/a","predicate":"http://ex/p",
   "object":{"termType":"Literal","value":"1"},"graph":"http://ex/g"}`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (env QUADFORK_* overrides it)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Print change notifications")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quadfork v%s (%s)\n", version, commit)
		},
	})

	addCmd := &cobra.Command{
		Use:   "add [file]",
		Short: "Record inserts from a JSON-lines file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	addCmd.Flags().String("graph", "", "Graph for quads that carry none")
	rootCmd.AddCommand(addCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete [file]",
		Short: "Record deletes from a JSON-lines file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	deleteCmd.Flags().String("graph", "", "Graph for quads that carry none")
	rootCmd.AddCommand(deleteCmd)

	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Print the forked view of a pattern",
		RunE:  runMatch,
	}
	matchCmd.Flags().String("graph", "", "Graph IRI")
	matchCmd.Flags().String("subject", "", "Subject IRI")
	matchCmd.Flags().String("predicate", "", "Predicate IRI")
	matchCmd.Flags().String("object", "", "Object literal value")
	matchCmd.Flags().String("object-iri", "", "Object IRI")
	matchCmd.Flags().String("format", "json", "Output format: json or nquads")
	rootCmd.AddCommand(matchCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show graphs with pending changes",
		RunE:  runStatus,
	})

	mergedCmd := &cobra.Command{
		Use:   "merged",
		Short: "Materialize and print the merged view of a graph",
		RunE:  runMerged,
	}
	mergedCmd.Flags().String("graph", "", "Graph IRI")
	mergedCmd.Flags().String("format", "json", "Output format: json or nquads")
	_ = mergedCmd.MarkFlagRequired("graph")
	rootCmd.AddCommand(mergedCmd)

	persistCmd := &cobra.Command{
		Use:   "persist",
		Short: "Push pending changes to the SPARQL endpoint and clear them",
		RunE:  runPersist,
	}
	persistCmd.Flags().String("endpoint", "", "SPARQL update endpoint (overrides config)")
	persistCmd.Flags().Bool("dry-run", false, "Print the updates instead of sending them")
	rootCmd.AddCommand(persistCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write a graph and its pending changes as JSON",
		RunE:  runExport,
	}
	exportCmd.Flags().String("graph", "", "Graph IRI")
	_ = exportCmd.MarkFlagRequired("graph")
	rootCmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load a graph and its pending changes written by export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().String("graph", "", "Graph IRI")
	_ = importCmd.MarkFlagRequired("graph")
	rootCmd.AddCommand(importCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session is an opened store for the duration of one command.
type session struct {
	cfg    *config.Config
	engine *storage.BadgerEngine
	store  *forking.Store
}

func openSession(cmd *cobra.Command, tr transport.Transport) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.LoadFromEnvOrFile(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Runtime.ApplyRuntimeMemory()

	engine, err := storage.NewBadgerEngineWithOptions(cfg.BadgerOptions())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	store := forking.New(engine, tr, cfg.ForkOptions())
	if verbose {
		store.RegisterObserver(forking.NewObserver(func(c rdf.Changes) error {
			fmt.Fprintf(os.Stderr, "notified: +%d -%d\n", len(c.Inserts), len(c.Deletes))
			return nil
		}), forking.NamedKey("cli"))
	}
	return &session{cfg: cfg, engine: engine, store: store}, nil
}

// Close delivers pending notifications before closing the engine.
func (s *session) Close() error {
	s.store.Close()
	return s.engine.Close()
}

func runAdd(cmd *cobra.Command, args []string) error {
	return runMutation(cmd, args[0], (*forking.Store).AddAll, "recorded %d inserts\n")
}

func runDelete(cmd *cobra.Command, args []string) error {
	return runMutation(cmd, args[0], (*forking.Store).RemoveStatements, "recorded %d deletes\n")
}

func runMutation(cmd *cobra.Command, path string, apply func(*forking.Store, []rdf.Quad) error, msg string) error {
	graph, _ := cmd.Flags().GetString("graph")

	quads, err := readQuadsFile(path, graph)
	if err != nil {
		return err
	}

	sess, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := apply(sess.store, quads); err != nil {
		return err
	}
	fmt.Printf(msg, len(quads))
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	graph, _ := cmd.Flags().GetString("graph")
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	object, _ := cmd.Flags().GetString("object")
	objectIRI, _ := cmd.Flags().GetString("object-iri")
	format, _ := cmd.Flags().GetString("format")

	var p rdf.Pattern
	if graph != "" {
		p.Graph = rdf.NamedNode(graph)
	}
	if subject != "" {
		p.Subject = rdf.NamedNode(subject)
	}
	if predicate != "" {
		p.Predicate = rdf.NamedNode(predicate)
	}
	switch {
	case objectIRI != "":
		p.Object = rdf.NamedNode(objectIRI)
	case object != "":
		p.Object = rdf.Literal(object)
	}

	sess, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	quads, err := sess.store.Match(p)
	if err != nil {
		return err
	}
	return writeQuads(os.Stdout, quads, format)
}

func runStatus(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	changed, err := sess.store.ChangedGraphs()
	if err != nil {
		return err
	}
	total, err := sess.engine.Count()
	if err != nil {
		return err
	}

	size, err := sess.engine.DiskSize()
	if err != nil {
		return err
	}

	fmt.Printf("📊 quadfork status (%s)\n", sess.cfg.Store.DataDir)
	fmt.Printf("   Stored quads:   %d\n", total)
	fmt.Printf("   On disk:        %s\n", config.FormatMemorySize(size))
	fmt.Printf("   Memory limit:   %s\n", sess.cfg.Runtime.DescribeMemory())
	fmt.Printf("   Changed graphs: %d\n", len(changed))
	for _, g := range changed {
		set, err := sess.store.Shadows(rdf.NamedNode(g))
		if err != nil {
			return err
		}
		fmt.Printf("   • %s  +%d -%d\n", g, len(set.Additions), len(set.Removals))
	}
	return nil
}

func runMerged(cmd *cobra.Command, args []string) error {
	graph, _ := cmd.Flags().GetString("graph")
	format, _ := cmd.Flags().GetString("format")

	sess, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	quads, err := sess.store.MergedQuads(rdf.NamedNode(graph))
	if err != nil {
		return err
	}
	return writeQuads(os.Stdout, quads, format)
}

func runPersist(cmd *cobra.Command, args []string) error {
	endpoint, _ := cmd.Flags().GetString("endpoint")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFromEnvOrFile(configPath)
	if err != nil {
		return err
	}
	if endpoint != "" {
		cfg.Transport.Endpoint = endpoint
	}

	var tr transport.Transport
	switch httpCfg := cfg.HTTPConfig(); {
	case dryRun:
		tr = transport.Func(func(_ context.Context, g rdf.Term, deletes, inserts []rdf.Quad) error {
			fmt.Println(transport.RenderUpdate(g, deletes, inserts))
			return nil
		})
	case httpCfg == nil:
		return fmt.Errorf("no endpoint configured: pass --endpoint, set QUADFORK_ENDPOINT or use --dry-run")
	default:
		if tr, err = transport.NewHTTPTransport(httpCfg); err != nil {
			return err
		}
	}

	sess, err := openSession(cmd, tr)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changed, err := sess.store.ChangedGraphs()
	if err != nil {
		return err
	}
	if err := sess.store.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ persist failed: %v\n", err)
		return err
	}
	fmt.Printf("✅ persisted %d graphs\n", len(changed))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	graph, _ := cmd.Flags().GetString("graph")

	sess, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	set, err := sess.store.Shadows(rdf.NamedNode(graph))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(set)
}

func runImport(cmd *cobra.Command, args []string) error {
	graph, _ := cmd.Flags().GetString("graph")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var set forking.ShadowSet
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	sess, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.store.LoadWithShadows(rdf.NamedNode(graph), set); err != nil {
		return err
	}
	fmt.Printf("loaded %d quads, %d pending inserts, %d pending deletes\n",
		len(set.Base), len(set.Additions), len(set.Removals))
	return nil
}
