package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPollConcurrency is how many routes are fetched at once when
// PollerOptions.Concurrency is zero.
const DefaultPollConcurrency = 2

// StateSink receives each slot value as soon as it is produced.
// It may be called from several goroutines.
type StateSink func(slotID string, v Value)

// PollerOptions tunes a Poller.
type PollerOptions struct {
	Concurrency int
	Logger      Logger
}

// Poller reads every registered slot, fetching each route once per cycle.
type Poller struct {
	transport   Transport
	registry    *Registry
	sink        StateSink
	concurrency int
	logger      Logger
}

// NewPoller creates a poller. sink may be nil.
func NewPoller(t Transport, r *Registry, sink StateSink, opts PollerOptions) *Poller {
	if sink == nil {
		sink = func(string, Value) {}
	}
	n := opts.Concurrency
	if n <= 0 {
		n = DefaultPollConcurrency
	}
	return &Poller{
		transport:   t,
		registry:    r,
		sink:        sink,
		concurrency: n,
		logger:      loggerOrNop(opts.Logger),
	}
}

// SlotResult is one slot value produced by a cycle.
type SlotResult struct {
	SlotID string
	Value  Value
}

// RouteResult describes the fetch of one route.
type RouteResult struct {
	Route  string
	Status int   // zero on transport failure
	Err    error // transport or decode failure
	Slots  int
}

// OK reports whether the route answered 200 with a JSON body.
func (r RouteResult) OK() bool {
	return r.Err == nil && r.Status == http.StatusOK
}

// PollReport summarizes one cycle.
type PollReport struct {
	Results []SlotResult
	Routes  []RouteResult

	RoutesFetched     int
	RoutesFailed      int
	TransportFailures int

	Duration time.Duration
}

// AllTransportFailed reports whether every route failed at the transport
// level, which is how an unreachable printer looks.
func (r PollReport) AllTransportFailed() bool {
	return len(r.Routes) > 0 && r.TransportFailures == len(r.Routes)
}

type routeOutcome struct {
	result    RouteResult
	values    []SlotResult
	transport bool
}

// PollOnce runs one cycle. Failures are reported per route and never abort
// the cycle.
func (p *Poller) PollOnce(ctx context.Context) PollReport {
	start := time.Now()
	groups := p.registry.Routes()
	outcomes := make([]routeOutcome, len(groups))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			outcomes[i] = p.pollRoute(ctx, group)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // pollRoute never returns an error

	report := PollReport{Routes: make([]RouteResult, 0, len(groups))}
	for _, o := range outcomes {
		report.Routes = append(report.Routes, o.result)
		report.Results = append(report.Results, o.values...)
		switch {
		case o.result.OK():
			report.RoutesFetched++
		case o.transport:
			report.RoutesFailed++
			report.TransportFailures++
		default:
			report.RoutesFailed++
		}
	}
	report.Duration = time.Since(start)
	return report
}

func (p *Poller) pollRoute(ctx context.Context, group RouteGroup) routeOutcome {
	out := routeOutcome{result: RouteResult{Route: group.Route, Slots: len(group.Slots)}}

	resp, err := p.transport.Get(ctx, group.Route)
	if err != nil {
		p.logger.Warn("poll request failed", "route", group.Route, "error", err)
		out.result.Err = err
		out.transport = true
		out.values = p.markUnavailable(group)
		return out
	}
	out.result.Status = resp.Status

	if resp.Status != http.StatusOK {
		p.logger.Debug("poll route returned non-200", "route", group.Route, "status", resp.Status)
		out.values = p.markUnavailable(group)
		return out
	}

	doc, err := decodeDocument(resp.Body)
	if err != nil {
		p.logger.Warn("poll reply is not valid JSON", "route", group.Route, "error", err)
		out.result.Err = err
		out.values = p.markUnavailable(group)
		return out
	}

	out.values = make([]SlotResult, 0, len(group.Slots))
	for _, d := range group.Slots {
		v := resolve(doc, d.KeyPath, d.Kind)
		p.sink(d.ID, v)
		out.values = append(out.values, SlotResult{SlotID: d.ID, Value: v})
	}
	return out
}

func (p *Poller) markUnavailable(group RouteGroup) []SlotResult {
	values := make([]SlotResult, 0, len(group.Slots))
	for _, d := range group.Slots {
		v := UnavailableValue(d.Kind)
		p.sink(d.ID, v)
		values = append(values, SlotResult{SlotID: d.ID, Value: v})
	}
	return values
}

func decodeDocument(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return doc, nil
}

// resolve walks path through doc. A missing intermediate key or a
// non-object along the way is Unavailable. A null or absent leaf is the
// kind's sentinel.
func resolve(doc any, path []string, kind ValueKind) Value {
	cur := doc
	for i, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return UnavailableValue(kind)
		}
		next, ok := obj[key]
		if !ok {
			if i == len(path)-1 {
				return nullValue(kind)
			}
			return UnavailableValue(kind)
		}
		cur = next
	}

	if cur == nil {
		return nullValue(kind)
	}
	if kind == KindNumber {
		return numberLeaf(cur)
	}
	return stringLeaf(cur)
}

func numberLeaf(leaf any) Value {
	switch x := leaf.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return NumberValue(f)
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return NumberValue(f)
		}
	}
	return UnavailableValue(KindNumber)
}

func stringLeaf(leaf any) Value {
	switch x := leaf.(type) {
	case string:
		return StringValue(x)
	case json.Number:
		return StringValue(x.String())
	case bool:
		return StringValue(strconv.FormatBool(x))
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return UnavailableValue(KindString)
		}
		return StringValue(string(b))
	}
}
