package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// maxDumpBody caps how much of a request or response body is dumped.
const maxDumpBody = 1024

// redacted headers are dumped with their value replaced.
var redacted = []string{"Authorization", "Cookie", "Set-Cookie"}

// DebugLogger writes one block per collaborator exchange in verbose mode,
// tagged with the session that made it. A nil *DebugLogger logs nothing.
type DebugLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func NewDebugLogger(out io.Writer) *DebugLogger { return &DebugLogger{out: out} }

// LogRequest dumps req. A body that is read is restored so the request
// can still be sent.
func (d *DebugLogger) LogRequest(ids Correlation, req *http.Request) {
	if d == nil {
		return
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "\n%s --> %s %s\n", tag(ids), req.Method, req.URL)
	dumpHeaders(&b, req.Header)
	if req.Body != nil && req.Body != http.NoBody {
		if body, err := io.ReadAll(req.Body); err == nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			dumpBody(&b, body)
		}
	}
	d.emit(b.Bytes())
}

func (d *DebugLogger) LogResponse(ids Correlation, resp *http.Response, body []byte, rtt time.Duration) {
	if d == nil {
		return
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s <-- %d %s (%s)\n", tag(ids), resp.StatusCode, http.StatusText(resp.StatusCode), rtt.Round(time.Millisecond))
	dumpHeaders(&b, resp.Header)
	dumpBody(&b, body)
	d.emit(b.Bytes())
}

func (d *DebugLogger) LogError(ids Correlation, req *http.Request, err error, rtt time.Duration) {
	if d == nil {
		return
	}
	d.emit(fmt.Appendf(nil, "%s xxx %s %s failed after %s: %v\n",
		tag(ids), req.Method, req.URL.Path, rtt.Round(time.Millisecond), err))
}

func (d *DebugLogger) emit(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = d.out.Write(p)
}

func tag(ids Correlation) string {
	if ids.SessionID == "" {
		return fmt.Sprintf("[user %d]", ids.UserID)
	}
	return fmt.Sprintf("[user %d %s]", ids.UserID, ids.SessionID)
}

// dumpHeaders writes h in name order.
func dumpHeaders(b *bytes.Buffer, h http.Header) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		val := strings.Join(h[name], ", ")
		if slices.Contains(redacted, name) {
			val = "[redacted]"
		}
		fmt.Fprintf(b, "    %s: %s\n", name, val)
	}
}

func dumpBody(b *bytes.Buffer, body []byte) {
	switch {
	case len(body) == 0:
	case len(body) <= maxDumpBody:
		fmt.Fprintf(b, "    %s\n", body)
	default:
		fmt.Fprintf(b, "    %s... (%d of %d bytes)\n", body[:maxDumpBody], maxDumpBody, len(body))
	}
}
