package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// ContentTypeSPARQLUpdate is the media type of a SPARQL 1.1 Update request body.
const ContentTypeSPARQLUpdate = "application/sparql-update"

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("update endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("update endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	// Endpoint is the SPARQL update URL. Required.
	Endpoint string

	// Headers are added to every request (e.g. session cookies).
	Headers map[string]string

	// Timeout bounds a single attempt. Default: 30s
	Timeout time.Duration

	// RetryMax is the number of retries after the first attempt. Default: 3
	RetryMax int

	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	// Defaults: 100ms and 2s
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultHTTPConfig returns sensible defaults for endpoint.
func DefaultHTTPConfig(endpoint string) *HTTPConfig {
	return &HTTPConfig{
		Endpoint:     endpoint,
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// HTTPTransport posts diffs as SPARQL 1.1 Update requests.
//
// Each Submit sends one request of the form
//
//	DELETE DATA { GRAPH <g> { ... } } ;
//	INSERT DATA { GRAPH <g> { ... } }
//
// with either half omitted when empty. An empty diff sends nothing.
// Connection errors and 5xx responses are retried with exponential backoff;
// 4xx responses fail immediately.
type HTTPTransport struct {
	config *HTTPConfig
	client *retryablehttp.Client
}

// NewHTTPTransport builds a transport for config. A nil config is an error.
func NewHTTPTransport(config *HTTPConfig) (*HTTPTransport, error) {
	if config == nil || config.Endpoint == "" {
		return nil, fmt.Errorf("transport: endpoint is required")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryMax
	if config.RetryWaitMin > 0 {
		client.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		client.RetryWaitMax = config.RetryWaitMax
	}
	if config.Timeout > 0 {
		client.HTTPClient.Timeout = config.Timeout
	}
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Printf("[transport] retrying %s %s (attempt %d)", req.Method, req.URL, attempt+1)
		}
	}
	// Surface the last response instead of a generic "giving up" error.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPTransport{config: config, client: client}, nil
}

// Submit sends the diff for graph.
func (t *HTTPTransport) Submit(ctx context.Context, graph rdf.Term, deletes, inserts []rdf.Quad) error {
	body := RenderUpdate(graph, deletes, inserts)
	if body == "" {
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, []byte(body))
	if err != nil {
		return fmt.Errorf("building update request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeSPARQLUpdate)
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if id := RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting update for %s: %w", graph.Value, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// RenderUpdate renders the SPARQL 1.1 Update for one graph diff, or "" when
// both halves are empty.
func RenderUpdate(graph rdf.Term, deletes, inserts []rdf.Quad) string {
	var buf bytes.Buffer
	if len(deletes) > 0 {
		writeDataBlock(&buf, "DELETE DATA", graph, deletes)
	}
	if len(inserts) > 0 {
		if buf.Len() > 0 {
			buf.WriteString(" ;\n")
		}
		writeDataBlock(&buf, "INSERT DATA", graph, inserts)
	}
	return buf.String()
}

func writeDataBlock(buf *bytes.Buffer, op string, graph rdf.Term, quads []rdf.Quad) {
	buf.WriteString(op)
	buf.WriteString(" {\n  GRAPH ")
	buf.WriteString(graph.String())
	buf.WriteString(" {\n")
	for _, q := range quads {
		buf.WriteString("    ")
		buf.WriteString(q.Subject.String())
		buf.WriteByte(' ')
		buf.WriteString(q.Predicate.String())
		buf.WriteByte(' ')
		buf.WriteString(q.Object.String())
		buf.WriteString(" .\n")
	}
	buf.WriteString("  }\n}")
}
