// Package hooks implements the Hook Dispatcher: registered hooks fire on
// converged CRDT operations and on timer cadences, optionally enqueuing
// role-scoped background work via internal/tasks. A built-in audit hook
// always runs first, recording every operation to a ring buffer exposed
// over the CLI.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codexsync/codex/internal/auth"
	"github.com/codexsync/codex/internal/tasks"
	"github.com/codexsync/codex/internal/types"
)

// Trigger is the CRDT lifecycle event a Hook fires on: one per payload
// kind the document layers accept, plus a timer-based trigger for
// TimedHooks.
type Trigger int

const (
	TriggerMetadataSet Trigger = iota
	TriggerTextInsert
	TriggerTextDelete
	TriggerTextFormat
	TriggerTreeMove
	TriggerReferenceAdd
	TriggerReferenceRemove
	TriggerTimeScheduled
)

func triggerForPayload(kind types.PayloadKind) (Trigger, bool) {
	switch kind {
	case types.PayloadMetadataSet:
		return TriggerMetadataSet, true
	case types.PayloadTextInsert:
		return TriggerTextInsert, true
	case types.PayloadTextDelete:
		return TriggerTextDelete, true
	case types.PayloadTextFormat:
		return TriggerTextFormat, true
	case types.PayloadTreeMove:
		return TriggerTreeMove, true
	case types.PayloadReferenceAdd:
		return TriggerReferenceAdd, true
	case types.PayloadReferenceRemove:
		return TriggerReferenceRemove, true
	default:
		return 0, false
	}
}

// Condition gates whether a matched Hook actually fires for a given
// operation, beyond the trigger match.
type Condition func(op types.CRDTOperation) bool

// Action is work a Hook performs once triggered. Returning an error
// marks the hook's execution as failed in its ExecutionResult, but
// never stops the dispatcher from running the hook's other actions or
// any other hook.
type Action func(ctx context.Context, op types.CRDTOperation) error

// Hook is a registered automation rule.
type Hook struct {
	ID         string
	Name       string
	Trigger    Trigger
	Conditions []Condition
	Actions    []Action
	Enabled    bool
}

// TimedHook runs its Action on a fixed interval rather than in response
// to an operation.
type TimedHook struct {
	ID       string
	Name     string
	Interval time.Duration
	Action   Action
	Enabled  bool
	nextRun  time.Time
}

// ExecutionResult records the outcome of one hook firing.
type ExecutionResult struct {
	HookID     string
	HookName   string
	Trigger    Trigger
	Success    bool
	Err        error
	ExecutedAt time.Time
	Duration   time.Duration
}

// AuditEntry is one operation recorded by the built-in audit hook.
type AuditEntry struct {
	OperationID string
	Codex       string
	Author      string
	Timestamp   time.Time
	Layer       string
}

// AuditLog is a fixed-capacity ring buffer of AuditEntry, exposed over
// the CLI as `codexd audit tail`.
type AuditLog struct {
	mu       sync.Mutex
	entries  []AuditEntry
	capacity int
	next     int
	filled   bool
}

// NewAuditLog creates a ring buffer holding up to capacity entries.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &AuditLog{entries: make([]AuditEntry, capacity), capacity: capacity}
}

func (a *AuditLog) record(e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[a.next] = e
	a.next = (a.next + 1) % a.capacity
	if a.next == 0 {
		a.filled = true
	}
}

// Tail returns up to n of the most recently recorded entries, oldest
// first.
func (a *AuditLog) Tail(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.next
	if a.filled {
		size = a.capacity
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]AuditEntry, 0, n)
	start := a.next - n
	for i := 0; i < n; i++ {
		idx := ((start+i)%a.capacity + a.capacity) % a.capacity
		out = append(out, a.entries[idx])
	}
	return out
}

// Dispatcher is the Hook Dispatcher: it receives every converged
// operation via Coordinator.OnApply, always records it to the audit
// log, and then fires any registered Hook whose Trigger and Conditions
// match.
type Dispatcher struct {
	mu    sync.RWMutex
	hooks map[string]*Hook
	timed map[string]*TimedHook

	audit        *AuditLog
	history      []ExecutionResult
	historyLimit int

	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher with its own audit ring buffer of
// auditCapacity entries and an execution history capped at
// historyLimit.
func NewDispatcher(auditCapacity, historyLimit int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = 1
	}
	return &Dispatcher{
		hooks:        make(map[string]*Hook),
		timed:        make(map[string]*TimedHook),
		audit:        NewAuditLog(auditCapacity),
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Register adds a Hook, assigning it an ID if h.ID is empty, and
// returns the effective ID.
func (d *Dispatcher) Register(h *Hook) string {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks[h.ID] = h
	return h.ID
}

// Unregister removes a Hook, returning whether it existed.
func (d *Dispatcher) Unregister(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.hooks[id]
	delete(d.hooks, id)
	return ok
}

// RegisterTimed adds a TimedHook and returns its ID.
func (d *Dispatcher) RegisterTimed(name string, interval time.Duration, action Action) string {
	id := uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timed[id] = &TimedHook{
		ID:       id,
		Name:     name,
		Interval: interval,
		Action:   action,
		Enabled:  true,
		nextRun:  time.Now().Add(interval),
	}
	return id
}

// PauseTimed disables a TimedHook without removing it.
func (d *Dispatcher) PauseTimed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timed[id]
	if ok {
		t.Enabled = false
	}
	return ok
}

// ResumeTimed re-enables a paused TimedHook and recalculates its next
// run time.
func (d *Dispatcher) ResumeTimed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timed[id]
	if ok {
		t.Enabled = true
		t.nextRun = time.Now().Add(t.Interval)
	}
	return ok
}

// HandleOperation is the callback to register with a Coordinator via
// OnApply. It always audits op, then fires every enabled Hook whose
// Trigger and Conditions match.
func (d *Dispatcher) HandleOperation(op types.CRDTOperation) {
	d.audit.record(AuditEntry{
		OperationID: op.ID.String(),
		Codex:       op.Codex.String(),
		Author:      string(op.Author),
		Timestamp:   op.Timestamp,
		Layer:       layerName(op.Layer),
	})

	trigger, ok := triggerForPayload(op.Payload.Kind)
	if !ok {
		return
	}

	d.mu.RLock()
	var matched []*Hook
	for _, h := range d.hooks {
		if !h.Enabled || h.Trigger != trigger {
			continue
		}
		if conditionsMet(h.Conditions, op) {
			matched = append(matched, h)
		}
	}
	d.mu.RUnlock()

	for _, h := range matched {
		d.execute(h, trigger, op)
	}
}

func conditionsMet(conditions []Condition, op types.CRDTOperation) bool {
	for _, cond := range conditions {
		if !cond(op) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) execute(h *Hook, trigger Trigger, op types.CRDTOperation) {
	started := time.Now()
	var firstErr error
	for _, action := range h.Actions {
		if err := action(context.Background(), op); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	result := ExecutionResult{
		HookID:     h.ID,
		HookName:   h.Name,
		Trigger:    trigger,
		Success:    firstErr == nil,
		Err:        firstErr,
		ExecutedAt: started,
		Duration:   time.Since(started),
	}
	d.recordHistory(result)

	if firstErr != nil {
		d.logger.Warn("hook execution failed",
			zap.String("hook_id", h.ID),
			zap.String("hook_name", h.Name),
			zap.Error(firstErr))
	}
}

func (d *Dispatcher) recordHistory(result ExecutionResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, result)
	if len(d.history) > d.historyLimit {
		d.history = d.history[len(d.history)-d.historyLimit:]
	}
}

// History returns up to n of the most recent hook execution results,
// oldest first.
func (d *Dispatcher) History(n int) []ExecutionResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n <= 0 || n > len(d.history) {
		n = len(d.history)
	}
	out := make([]ExecutionResult, n)
	copy(out, d.history[len(d.history)-n:])
	return out
}

// AuditTail returns up to n of the most recently audited operations,
// for `codexd audit tail`.
func (d *Dispatcher) AuditTail(n int) []AuditEntry {
	return d.audit.Tail(n)
}

// Start launches the timer scheduler: a single goroutine that wakes
// every tick and runs any TimedHook whose nextRun has passed, rescheduling
// it for another Interval out. It returns once ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.runDueTimedHooks(now)
		}
	}
}

func (d *Dispatcher) runDueTimedHooks(now time.Time) {
	d.mu.Lock()
	var due []*TimedHook
	for _, t := range d.timed {
		if t.Enabled && !now.Before(t.nextRun) {
			due = append(due, t)
			t.nextRun = now.Add(t.Interval)
		}
	}
	d.mu.Unlock()

	for _, t := range due {
		started := time.Now()
		err := t.Action(context.Background(), types.CRDTOperation{})
		d.recordHistory(ExecutionResult{
			HookID:     t.ID,
			HookName:   t.Name,
			Trigger:    TriggerTimeScheduled,
			Success:    err == nil,
			Err:        err,
			ExecutedAt: started,
			Duration:   time.Since(started),
		})
	}
}

func layerName(layer types.LayerTag) string {
	switch layer {
	case types.LayerMetadata:
		return "metadata"
	case types.LayerReference:
		return "reference"
	case types.LayerText:
		return "text"
	case types.LayerTree:
		return "tree"
	default:
		return "unknown"
	}
}

// EnqueueTask returns an Action that submits fn to runner under role
// whenever the hook it is attached to fires, the mechanism §4.9 calls
// out for hooks to enqueue role-scoped background tasks.
func EnqueueTask(runner *tasks.Runner, role auth.Role, name string, fn tasks.Func) Action {
	return func(ctx context.Context, op types.CRDTOperation) error {
		runner.Submit(name, role, fn)
		return nil
	}
}
