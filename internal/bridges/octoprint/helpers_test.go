package octoprint

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testAPIKey = "ABCDEF0123456789"

// recordedRequest is one request seen by the fake printer.
type recordedRequest struct {
	method      string
	route       string
	body        string
	apiKey      string
	contentType string
}

type cannedReply struct {
	status int
	body   string
}

// fakePrinter is an httptest server answering OctoPrint routes with
// canned replies. Unknown routes answer 404.
type fakePrinter struct {
	srv *httptest.Server

	mu       sync.Mutex
	replies  map[string]cannedReply // "GET api/job"
	requests []recordedRequest
}

func newFakePrinter(t *testing.T) *fakePrinter {
	t.Helper()
	p := &fakePrinter{replies: make(map[string]cannedReply)}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePrinter) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	route := strings.TrimPrefix(r.URL.Path, "/")

	p.mu.Lock()
	p.requests = append(p.requests, recordedRequest{
		method:      r.Method,
		route:       route,
		body:        string(body),
		apiKey:      r.Header.Get("X-Api-Key"),
		contentType: r.Header.Get("Content-Type"),
	})
	reply, ok := p.replies[r.Method+" "+route]
	p.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.status)
	_, _ = io.WriteString(w, reply.body)
}

func (p *fakePrinter) on(method, route string, status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[method+" "+route] = cannedReply{status: status, body: body}
}

func (p *fakePrinter) endpoint() string {
	return p.srv.Listener.Addr().String()
}

func (p *fakePrinter) connection() Connection {
	return Connection{Endpoint: p.endpoint(), APIKey: testAPIKey}
}

func (p *fakePrinter) transport() *HTTPTransport {
	return NewHTTPTransport(p.connection(), 2*time.Second)
}

func (p *fakePrinter) getRequests() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *fakePrinter) count(method, route string) int {
	n := 0
	for _, r := range p.getRequests() {
		if r.method == method && r.route == route {
			n++
		}
	}
	return n
}

// fullPrinter configures a single-tool printer with a bed and no chamber.
func fullPrinter(t *testing.T) *fakePrinter {
	t.Helper()
	p := newFakePrinter(t)
	p.on("GET", RouteServer, 200, `{"version":"1.9.3","safemode":null}`)
	p.on("GET", RouteJob, 200, `{
		"job": {"file": {"name": "benchy.gcode"}},
		"progress": {"completion": 42.5, "printTime": 1200, "printTimeLeft": null},
		"state": "Printing"
	}`)
	p.on("GET", RouteTool, 200, `{"tool0": {"actual": 214.8, "target": 215.0, "offset": 0}}`)
	p.on("GET", RouteBed, 200, `{"bed": {"actual": 59.9, "target": 60.0, "offset": 0}}`)
	return p
}

// fakeHost records everything the bridge tells it.
type fakeHost struct {
	mu        sync.Mutex
	ensured   []SlotDescriptor
	existing  map[string]bool
	ensureErr map[string]error
	states    map[string]Value
	updates   int
	statuses  []Status
	reasons   []string
	polls     int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		existing:  make(map[string]bool),
		ensureErr: make(map[string]error),
		states:    make(map[string]Value),
	}
}

func (h *fakeHost) EnsureSlot(_ context.Context, d SlotDescriptor) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureErr[d.ID]; err != nil {
		return false, err
	}
	h.ensured = append(h.ensured, d)
	if h.existing[d.ID] {
		return false, nil
	}
	h.existing[d.ID] = true
	return true, nil
}

func (h *fakeHost) UpdateState(slotID string, v Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[slotID] = v
	h.updates++
}

func (h *fakeHost) ReportStatus(s Status, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, s)
	h.reasons = append(h.reasons, reason)
}

func (h *fakeHost) ObservePoll(PollReport) {
	h.mu.Lock()
	h.polls++
	h.mu.Unlock()
}

func (h *fakeHost) state(id string) (Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.states[id]
	return v, ok
}

func (h *fakeHost) getStatuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Status, len(h.statuses))
	copy(out, h.statuses)
	return out
}

func (h *fakeHost) lastStatus() Status {
	s := h.getStatuses()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	mu      sync.Mutex
	replies map[string]Response
	errs    map[string]error
	posts   []string
	gets    []string
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[string]Response), errs: make(map[string]error)}
}

func (f *fakeTransport) Get(_ context.Context, route string) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, route)
	if err := f.errs[route]; err != nil {
		return Response{}, &TransportError{Method: http.MethodGet, Route: route, Err: err}
	}
	if r, ok := f.replies[route]; ok {
		return r, nil
	}
	return Response{Status: http.StatusNotFound}, nil
}

func (f *fakeTransport) Post(_ context.Context, route string, body []byte) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, route+" "+string(body))
	if err := f.errs[route]; err != nil {
		return Response{}, &TransportError{Method: http.MethodPost, Route: route, Err: err}
	}
	if r, ok := f.replies[route]; ok {
		return r, nil
	}
	return Response{Status: http.StatusNoContent}, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) getPosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.posts))
	copy(out, f.posts)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fakeTransport) setReply(route string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, route)
	f.replies[route] = Response{Status: status, Body: []byte(body)}
}

func (f *fakeTransport) setErr(route string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[route] = err
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// printerTransport is a fakeTransport answering like fullPrinter.
func printerTransport() *fakeTransport {
	ft := newFakeTransport()
	ft.setReply(RouteServer, 200, `{"version":"1.9.3"}`)
	ft.setReply(RouteJob, 200, `{"state":"Operational","job":{"file":{"name":null}},"progress":{"completion":null}}`)
	ft.setReply(RouteTool, 200, `{"tool0":{"actual":21.0,"target":0,"offset":0}}`)
	ft.setReply(RouteBed, 200, `{"bed":{"actual":22.0,"target":0,"offset":0}}`)
	return ft
}
