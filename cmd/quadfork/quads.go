package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// maxLineSize bounds a single JSON-lines record.
const maxLineSize = 4 * 1024 * 1024

func readQuadsFile(path, defaultGraph string) ([]rdf.Quad, error) {
	if path == "-" {
		return readQuads(os.Stdin, defaultGraph)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readQuads(f, defaultGraph)
}

// readQuads decodes one quad per line. Blank lines and lines starting with #
// are skipped. Quads without a graph are placed in defaultGraph if given.
func readQuads(r io.Reader, defaultGraph string) ([]rdf.Quad, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var quads []rdf.Quad
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var q rdf.Quad
		if err := json.Unmarshal([]byte(text), &q); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if q.Graph.IsZero() && defaultGraph != "" {
			q.Graph = rdf.NamedNode(defaultGraph)
		}
		quads = append(quads, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return quads, nil
}

func writeQuads(w io.Writer, quads []rdf.Quad, format string) error {
	bw := bufio.NewWriter(w)
	switch format {
	case "json", "":
		enc := json.NewEncoder(bw)
		for _, q := range quads {
			if err := enc.Encode(q); err != nil {
				return err
			}
		}
	case "nquads":
		for _, q := range quads {
			if _, err := fmt.Fprintln(bw, q.String()); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return bw.Flush()
}
