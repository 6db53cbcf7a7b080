package command

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultQueueSize = 10
	DefaultTimeout   = 60 * time.Second
)

// Stats are the processor's running counters.
type Stats struct {
	Processed uint64 `json:"commands_processed"`
	Failed    uint64 `json:"commands_failed"`
	TimedOut  uint64 `json:"commands_timeout"`
	Queued    int    `json:"queue_length"`
	Active    int    `json:"active_commands"`
}

// Responder publishes command responses.
type Responder interface {
	PublishResponse(Response) error
}

// Config tunes the processor.
type Config struct {
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"command_timeout"`
}

type entry struct {
	id        string
	kind      Kind
	cmd       Command
	status    Status
	startedAt time.Time
	deadline  time.Time
}

// begin moves the entry to Executing. It only ever happens once.
func (e *entry) begin(now, deadline time.Time) {
	if e.status != StatusPending {
		return
	}
	e.status = StatusExecuting
	e.startedAt = now
	e.deadline = deadline
}

func (e *entry) elapsed(now time.Time) time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	return now.Sub(e.startedAt)
}

// Processor runs commands in submission order, except that a queued
// emergency stop jumps ahead of the rest. Each Tick starts at most one
// queued command and advances the in-flight ones whose wait is
// over. A command runs until it finishes or exceeds Timeout plus its own
// planned waits, at which point it is aborted and reported as timed out.
type Processor struct {
	cfg       Config
	actuators Actuators
	sensors   Sensors
	resp      Responder
	log       zerolog.Logger

	queue  []Request
	active map[string]*entry
	order  []string

	stats   Stats
	restart bool
}

// NewProcessor creates a processor borrowing the given managers.
func NewProcessor(cfg Config, act Actuators, sens Sensors, resp Responder, log zerolog.Logger) *Processor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Processor{
		cfg:       cfg,
		actuators: act,
		sensors:   sens,
		resp:      resp,
		log:       log.With().Str("component", "commands").Logger(),
		active:    make(map[string]*entry),
	}
}

// SubmitJSON parses and enqueues a raw request.
func (p *Processor) SubmitJSON(data []byte, now time.Time) error {
	req, err := ParseRequest(data)
	if err != nil {
		p.reject(req.CommandID, err, now)
		return err
	}
	return p.Submit(req, now)
}

// Submit enqueues req. A rejected request is answered immediately with a
// failed response.
func (p *Processor) Submit(req Request, now time.Time) error {
	if err := p.admit(req); err != nil {
		p.reject(req.CommandID, err, now)
		return err
	}
	p.queue = append(p.queue, req)
	p.log.Debug().Str("command_id", req.CommandID).Str("command", string(req.Command)).
		Int("queued", len(p.queue)).Msg("command queued")
	return nil
}

func (p *Processor) admit(req Request) error {
	switch {
	case req.CommandID == "":
		return fmt.Errorf("%w: command_id", ErrMissingField)
	case req.Command == "":
		return fmt.Errorf("%w: command", ErrMissingField)
	case !Known(req.Command):
		return fmt.Errorf("%w: %s", ErrUnknownKind, req.Command)
	case req.Params == nil:
		return fmt.Errorf("%w: params", ErrMissingField)
	case p.inFlight(req.CommandID):
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.CommandID)
	case len(p.queue) >= p.cfg.QueueSize:
		return ErrQueueFull
	}
	return nil
}

func (p *Processor) inFlight(id string) bool {
	if _, ok := p.active[id]; ok {
		return true
	}
	for _, q := range p.queue {
		if q.CommandID == id {
			return true
		}
	}
	return false
}

func (p *Processor) reject(id string, err error, now time.Time) {
	p.stats.Processed++
	p.stats.Failed++
	p.log.Warn().Err(err).Str("command_id", id).Msg("command rejected")
	if id == "" {
		return
	}
	p.publish(Response{
		CommandID:  id,
		Status:     StatusFailed,
		StatusText: StatusFailed.String(),
		Error:      err.Error(),
		Timestamp:  now.UnixMilli(),
	})
}

// Tick starts the next queued command, steps in-flight commands that are
// due, then enforces timeouts.
func (p *Processor) Tick(now time.Time) {
	var started *entry
	if len(p.queue) > 0 {
		i := p.next()
		req := p.queue[i]
		p.queue = append(p.queue[:i], p.queue[i+1:]...)
		started = p.start(req, now)
	}

	for _, id := range p.snapshot() {
		e, ok := p.active[id]
		if !ok || e == started {
			continue
		}
		if w, ok := e.cmd.(waiter); ok && now.Before(w.WakeAt()) {
			continue
		}
		p.step(e, now)
	}

	for _, id := range p.snapshot() {
		e, ok := p.active[id]
		if !ok || !now.After(e.deadline) {
			continue
		}
		e.cmd.Abort(p.env(now))
		p.finish(e, StatusTimeout, fmt.Errorf("%w after %s", ErrTimedOut, e.deadline.Sub(e.startedAt)), now)
	}
}

// next returns the queue index to start: the first emergency stop if one
// is waiting, otherwise the head.
func (p *Processor) next() int {
	for i, q := range p.queue {
		if q.Command == KindEmergencyStop {
			return i
		}
	}
	return 0
}

func (p *Processor) start(req Request, now time.Time) *entry {
	e := &entry{id: req.CommandID, kind: req.Command, status: StatusPending}
	cmd, err := Build(req.CommandID, req.Command, req.Params)
	if err != nil {
		p.finish(e, StatusFailed, err, now)
		return nil
	}
	e.cmd = cmd
	if err := cmd.Validate(p.env(now)); err != nil {
		p.finish(e, StatusFailed, err, now)
		return nil
	}

	deadline := now.Add(p.cfg.Timeout)
	if b, ok := cmd.(budgeter); ok {
		deadline = deadline.Add(b.Budget())
	}
	e.begin(now, deadline)
	p.active[e.id] = e
	p.order = append(p.order, e.id)
	p.log.Info().Str("command_id", e.id).Str("command", string(e.kind)).Msg("command executing")

	p.step(e, now)
	return e
}

func (p *Processor) step(e *entry, now time.Time) {
	done, err := e.cmd.Step(p.env(now))

	if e.kind == KindEmergencyStop {
		p.abortAll(e.id, now)
	}
	switch {
	case err != nil:
		p.finish(e, StatusFailed, err, now)
	case done:
		p.finish(e, StatusCompleted, nil, now)
	}
}

// abortAll stops every in-flight command except keep.
func (p *Processor) abortAll(keep string, now time.Time) {
	for _, id := range p.snapshot() {
		e, ok := p.active[id]
		if !ok || id == keep {
			continue
		}
		e.cmd.Abort(p.env(now))
		p.finish(e, StatusFailed, fmt.Errorf("%w: emergency stop", ErrAborted), now)
	}
}

// Cancel aborts a queued or in-flight command.
func (p *Processor) Cancel(id string, now time.Time) error {
	for i, q := range p.queue {
		if q.CommandID == id {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			p.finish(&entry{id: id, kind: q.Command}, StatusFailed, ErrAborted, now)
			return nil
		}
	}
	e, ok := p.active[id]
	if !ok {
		return fmt.Errorf("command %s not in progress", id)
	}
	e.cmd.Abort(p.env(now))
	p.finish(e, StatusFailed, ErrAborted, now)
	return nil
}

func (p *Processor) finish(e *entry, status Status, err error, now time.Time) {
	if _, ok := p.active[e.id]; ok {
		delete(p.active, e.id)
		for i, id := range p.order {
			if id == e.id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	e.status = status

	p.stats.Processed++
	switch status {
	case StatusFailed:
		p.stats.Failed++
	case StatusTimeout:
		p.stats.TimedOut++
	}

	resp := Response{
		CommandID:       e.id,
		Status:          status,
		StatusText:      status.String(),
		Timestamp:       now.UnixMilli(),
		ExecutionTimeMs: e.elapsed(now).Milliseconds(),
	}
	if e.cmd != nil && status == StatusCompleted {
		resp.Result = e.cmd.Result()
	}
	ev := p.log.Info()
	if err != nil {
		resp.Error = err.Error()
		ev = p.log.Warn().Err(err)
	}
	ev.Str("command_id", e.id).Str("command", string(e.kind)).Str("status", status.String()).
		Int64("elapsed_ms", resp.ExecutionTimeMs).Msg("command finished")
	p.publish(resp)

	if r, ok := e.cmd.(restarter); ok && r.RestartRequested() {
		p.restart = true
	}
}

func (p *Processor) publish(r Response) {
	if p.resp == nil {
		return
	}
	if err := p.resp.PublishResponse(r); err != nil {
		p.log.Error().Err(err).Str("command_id", r.CommandID).Msg("publish response failed")
	}
}

func (p *Processor) env(now time.Time) *Env {
	return &Env{
		Now:       now,
		Actuators: p.actuators,
		Sensors:   p.sensors,
		Stats:     p.Stats(),
		Log:       p.log,
	}
}

func (p *Processor) snapshot() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Stats returns the running counters.
func (p *Processor) Stats() Stats {
	st := p.stats
	st.Queued = len(p.queue)
	st.Active = len(p.active)
	return st
}

// ActiveIDs returns the in-flight command ids in start order.
func (p *Processor) ActiveIDs() []string { return p.snapshot() }

// RestartRequested reports whether a completed command asked for an
// application restart.
func (p *Processor) RestartRequested() bool { return p.restart }
