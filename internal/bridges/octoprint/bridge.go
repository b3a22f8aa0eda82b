package octoprint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the coarse bridge status reported to the host.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// Host is the home-automation side of the bridge.
type Host interface {
	// EnsureSlot materializes d if the host does not have it yet and
	// reports whether it was created. An existing slot is left alone.
	EnsureSlot(ctx context.Context, d SlotDescriptor) (bool, error)

	// UpdateState receives a slot value. It may be called concurrently.
	UpdateState(slotID string, v Value)

	// ReportStatus receives bridge status changes.
	ReportStatus(s Status, reason string)
}

// PollObserver is implemented by hosts that want a summary of each cycle.
type PollObserver interface {
	ObservePoll(report PollReport)
}

// TransportFactory builds the transport for a session.
type TransportFactory func(conn Connection, timeout time.Duration) Transport

// BridgeOptions contains the dependencies for creating a Bridge.
type BridgeOptions struct {
	Connection Connection

	// PollInterval is the delay between the end of one cycle and the start
	// of the next.
	PollInterval time.Duration

	// RequestTimeout bounds each request. Default: DefaultRequestTimeout.
	RequestTimeout time.Duration

	// PollConcurrency limits concurrent route fetches. Default: 2.
	PollConcurrency int

	Host Host

	// TransportFactory is optional; the default builds an HTTPTransport.
	TransportFactory TransportFactory

	Logger Logger
}

// session is one Initialize..Dispose lifetime.
type session struct {
	transport  Transport
	translator *Translator
	poller     *Poller

	polling atomic.Bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Bridge connects one OctoPrint server to a Host.
type Bridge struct {
	pollInterval   time.Duration
	requestTimeout time.Duration
	concurrency    int
	host           Host
	newTransport   TransportFactory

	registry *Registry
	tool     toolSelection

	mu      sync.Mutex // guards conn and session
	conn    Connection
	session *session

	statusMu     sync.RWMutex
	status       Status
	statusReason string

	pollCycles        atomic.Uint64
	routesFetched     atomic.Uint64
	routesFailed      atomic.Uint64
	transportFailures atomic.Uint64
	commandsSent      atomic.Uint64
	commandsRejected  atomic.Uint64
	lastPoll          atomic.Int64 // unix nanos
	lastPollDuration  atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Initialize to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if err := opts.Connection.Validate(); err != nil {
		return nil, err
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	factory := opts.TransportFactory
	if factory == nil {
		factory = func(conn Connection, timeout time.Duration) Transport {
			return NewHTTPTransport(conn, timeout)
		}
	}

	return &Bridge{
		conn:           opts.Connection,
		pollInterval:   opts.PollInterval,
		requestTimeout: timeout,
		concurrency:    opts.PollConcurrency,
		host:           opts.Host,
		newTransport:   factory,
		registry:       NewRegistry(),
		status:         StatusUnknown,
		logger:         opts.Logger,
	}, nil
}

// Initialize reports UNKNOWN and starts discovery, the first poll and the
// poll schedule in the background. It returns immediately.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.session != nil {
		b.mu.Unlock()
		return ErrAlreadyInitialized
	}
	t := b.newTransport(b.conn, b.requestTimeout)
	s := &session{
		transport:  t,
		translator: newTranslator(t, &b.tool, b.getLogger()),
		poller: NewPoller(t, b.registry, b.host.UpdateState, PollerOptions{
			Concurrency: b.concurrency,
			Logger:      b.getLogger(),
		}),
		done: make(chan struct{}),
	}
	b.session = s
	endpoint := b.conn.Endpoint
	b.mu.Unlock()

	b.forceStatus(StatusUnknown, "initializing")
	b.logInfo("octoprint bridge initializing", "endpoint", endpoint)

	s.wg.Add(1)
	go b.run(ctx, s)
	return nil
}

// run discovers slots, polls once and then polls with a fixed delay until
// the session stops or ctx is cancelled. Requests are not cancelled by
// Dispose; they finish within the request timeout.
func (b *Bridge) run(ctx context.Context, s *session) {
	defer s.wg.Done()
	reqCtx := context.WithoutCancel(ctx)

	b.discover(reqCtx, s)
	if s.stopped() {
		return
	}

	if report, ok := b.pollGuarded(reqCtx, s); ok {
		if report.RoutesFetched > 0 {
			b.setStatus(StatusOnline, "")
		} else {
			b.setStatus(StatusOffline, offlineReason(report))
		}
	}

	timer := time.NewTimer(b.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-timer.C:
			b.tick(reqCtx, s)
			timer.Reset(b.pollInterval)
		}
	}
}

// OnPollTick runs one poll cycle and updates the status. A cycle in which
// no route returned 200 reports OFFLINE. A tick that arrives while a cycle
// is running is skipped.
func (b *Bridge) OnPollTick(ctx context.Context) {
	s := b.currentSession()
	if s == nil {
		return
	}
	b.tick(ctx, s)
}

func (b *Bridge) tick(ctx context.Context, s *session) {
	report, ok := b.pollGuarded(ctx, s)
	if !ok {
		return
	}

	switch {
	case len(report.Routes) > 0 && report.RoutesFetched == 0:
		b.setStatus(StatusOffline, offlineReason(report))
	case report.RoutesFetched > 0 && b.Status() != StatusOnline:
		b.logInfo("printer reachable again, rediscovering slots")
		b.discover(ctx, s)
		b.setStatus(StatusOnline, "")
	}
}

func (b *Bridge) pollGuarded(ctx context.Context, s *session) (PollReport, bool) {
	if !s.polling.CompareAndSwap(false, true) {
		b.logDebug("poll cycle still running, skipping tick")
		return PollReport{}, false
	}
	defer s.polling.Store(false)

	report := s.poller.PollOnce(ctx)

	b.pollCycles.Add(1)
	b.routesFetched.Add(uint64(report.RoutesFetched))
	b.routesFailed.Add(uint64(report.RoutesFailed))
	b.transportFailures.Add(uint64(report.TransportFailures))
	b.lastPoll.Store(time.Now().UnixNano())
	b.lastPollDuration.Store(int64(report.Duration))

	if obs, ok := b.host.(PollObserver); ok {
		obs.ObservePoll(report)
	}
	b.logDebug("poll cycle complete",
		"routes_fetched", report.RoutesFetched,
		"routes_failed", report.RoutesFailed,
		"duration", report.Duration)
	return report, true
}

// discover materializes and registers the static slots and whatever the
// printer reports. Slots already registered are skipped, so it is safe to
// run again.
func (b *Bridge) discover(ctx context.Context, s *session) {
	slots := append(StaticSlots(), Discover(ctx, s.transport, b.getLogger())...)

	created, registered := 0, 0
	for _, d := range slots {
		if _, exists := b.registry.Get(d.ID); exists {
			continue
		}
		ok, err := b.host.EnsureSlot(ctx, d)
		if err != nil {
			b.logError("failed to materialize slot", fmt.Errorf("slot %s: %w", d.ID, err))
			continue
		}
		if ok {
			created++
		}
		if b.registry.Register(d) {
			registered++
		}
	}
	b.logInfo("slot discovery complete", "registered", registered, "created", created, "total", b.registry.Len())
}

// offlineReason names the first transport failure, or the status of the
// first route when the printer answered but refused every request.
func offlineReason(report PollReport) string {
	if len(report.Routes) == 0 {
		return "no routes to poll"
	}
	for _, r := range report.Routes {
		if r.Err != nil {
			return r.Err.Error()
		}
	}
	first := report.Routes[0]
	return fmt.Sprintf("printer answered HTTP %d on %s and no route returned 200", first.Status, first.Route)
}

// ExecuteCommand runs a table command against the printer. Without a
// running session the outcome is a TransportError carrying
// ErrNotInitialized.
func (b *Bridge) ExecuteCommand(ctx context.Context, id CommandID, v Value) Outcome {
	s := b.currentSession()
	if s == nil {
		return Outcome{Command: id, Kind: OutcomeTransportError,
			Message: ErrNotInitialized.Error(), Err: ErrNotInitialized}
	}

	o := s.translator.Execute(ctx, id, v)
	switch o.Kind {
	case OutcomeAccepted:
		b.commandsSent.Add(1)
	case OutcomeConflict, OutcomeDeviceError, OutcomeTransportError:
		b.commandsSent.Add(1)
		b.commandsRejected.Add(1)
	}
	return o
}

// Dispose stops the poll schedule, waits for the running cycle, clears
// the registry and closes the transport. Safe to call more than once.
func (b *Bridge) Dispose() {
	b.mu.Lock()
	s := b.session
	b.session = nil
	b.mu.Unlock()

	if s == nil {
		return
	}
	s.stop()
	b.registry.Clear()
	if err := s.transport.Close(); err != nil && !errors.Is(err, ErrTransportClosed) {
		b.logError("failed to close transport", err)
	}
	b.logInfo("octoprint bridge disposed")
}

// Reconfigure disposes the running session and initializes again with
// conn on a fresh transport.
func (b *Bridge) Reconfigure(ctx context.Context, conn Connection) error {
	if err := conn.Validate(); err != nil {
		return err
	}
	b.Dispose()

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	return b.Initialize(ctx)
}

func (s *session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (b *Bridge) currentSession() *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Status returns the current bridge status.
func (b *Bridge) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// StatusReason returns the reason given with the current status.
func (b *Bridge) StatusReason() string {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.statusReason
}

// setStatus reports s to the host if it differs from the current status.
func (b *Bridge) setStatus(s Status, reason string) {
	b.statusMu.Lock()
	if b.status == s {
		b.statusMu.Unlock()
		return
	}
	b.status = s
	b.statusReason = reason
	b.statusMu.Unlock()

	b.logInfo("bridge status changed", "status", string(s), "reason", reason)
	b.host.ReportStatus(s, reason)
}

func (b *Bridge) forceStatus(s Status, reason string) {
	b.statusMu.Lock()
	b.status = s
	b.statusReason = reason
	b.statusMu.Unlock()

	b.host.ReportStatus(s, reason)
}

// SelectedTool returns the tool index used by tool temperature commands.
func (b *Bridge) SelectedTool() int {
	return b.tool.get()
}

// Slots returns the registered slots sorted by id.
func (b *Bridge) Slots() []SlotDescriptor {
	return b.registry.Slots()
}

// Connection returns the current connection settings.
func (b *Bridge) Connection() Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return loggerOrNop(b.logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.getLogger().Info(msg, keysAndValues...)
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.getLogger().Error(msg, "error", err)
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.getLogger().Debug(msg, keysAndValues...)
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Status            Status        `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	Slots             int           `json:"slots"`
	SelectedTool      int           `json:"selected_tool"`
	PollCycles        uint64        `json:"poll_cycles"`
	RoutesFetched     uint64        `json:"routes_fetched"`
	RoutesFailed      uint64        `json:"routes_failed"`
	TransportFailures uint64        `json:"transport_failures"`
	CommandsSent      uint64        `json:"commands_sent"`
	CommandsRejected  uint64        `json:"commands_rejected"`
	LastPoll          *time.Time    `json:"last_poll,omitempty"`
	LastPollDuration  time.Duration `json:"last_poll_duration_ns"`
}

// Metrics returns a snapshot of the bridge counters.
func (b *Bridge) Metrics() BridgeMetrics {
	m := BridgeMetrics{
		Status:            b.Status(),
		Reason:            b.StatusReason(),
		Slots:             b.registry.Len(),
		SelectedTool:      b.SelectedTool(),
		PollCycles:        b.pollCycles.Load(),
		RoutesFetched:     b.routesFetched.Load(),
		RoutesFailed:      b.routesFailed.Load(),
		TransportFailures: b.transportFailures.Load(),
		CommandsSent:      b.commandsSent.Load(),
		CommandsRejected:  b.commandsRejected.Load(),
		LastPollDuration:  time.Duration(b.lastPollDuration.Load()),
	}
	if ns := b.lastPoll.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		m.LastPoll = &t
	}
	return m
}
