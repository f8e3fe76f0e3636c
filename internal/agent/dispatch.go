package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tunnelforge/tunneld/internal/frame"
	"github.com/tunnelforge/tunneld/internal/httpframe"
)

const defaultLocalTimeout = 25 * time.Second

// LocalDispatcher implements session.Handler on the agent side: it
// turns an inbound HTTP_REQUEST frame into a real HTTP call against
// the configured local origin and turns the result back into an
// HTTP_RESPONSE frame.
type LocalDispatcher struct {
	scheme string
	host   string
	port   int
	client *http.Client
	log    *slog.Logger
}

// NewLocalDispatcher builds a LocalDispatcher targeting
// scheme://host:port for every request.
func NewLocalDispatcher(scheme, host string, port int, timeout time.Duration, log *slog.Logger) *LocalDispatcher {
	if timeout <= 0 {
		timeout = defaultLocalTimeout
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &LocalDispatcher{
		scheme: scheme,
		host:   host,
		port:   port,
		client: &http.Client{Timeout: timeout},
		log:    log.With("component", "agent.dispatch"),
	}
}

// HandleRequest satisfies session.Handler.
func (d *LocalDispatcher) HandleRequest(ctx context.Context, req *frame.Frame) *frame.Frame {
	url := fmt.Sprintf("%s://%s:%d%s", d.scheme, d.host, d.port, req.Path)
	if req.Query != "" {
		url += "?" + req.Query
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		d.log.Error("building local request failed", "error", err)
		return errorResponse(req.ID, http.StatusBadGateway, "could not build local request")
	}
	httpframe.Apply(httpReq.Header, req.Headers)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		d.log.Warn("local origin unreachable", "error", err, "path", req.Path)
		return errorResponse(req.ID, http.StatusBadGateway, classifyLocalError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		d.log.Warn("reading local response failed", "error", err)
		return errorResponse(req.ID, http.StatusBadGateway, "reading local response failed")
	}

	return &frame.Frame{
		Type:    frame.TypeResponse,
		ID:      req.ID,
		Status:  resp.StatusCode,
		Headers: httpframe.ToFrame(resp.Header),
		Body:    body,
	}
}

func errorResponse(id string, status int, message string) *frame.Frame {
	body := fmt.Sprintf(`{"error":"LOCAL_UNREACHABLE","message":%q}`, message)
	return &frame.Frame{
		Type:    frame.TypeResponse,
		ID:      id,
		Status:  status,
		Headers: []frame.Header{{Key: "Content-Type", Value: "application/json"}},
		Body:    []byte(body),
	}
}

// classifyLocalError distinguishes connection-refused/DNS failures
// from other errors only for the log/body message; both are reported
// back as a synthetic 502 response.
func classifyLocalError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "local origin unreachable: " + netErr.Error()
	}
	return "local origin request failed: " + err.Error()
}
