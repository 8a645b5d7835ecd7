package midisf

import (
	"fmt"
	"sync"
	"time"

	"github.com/chihoc/midisf/focus"
)

// OperationType names a dispatcher operation. The exported values are
// the request surface; sessionNotification is injected internally by the
// session manager so that interruption handling runs on the same serial
// loop as requests.
type OperationType string

const (
	OpLoadSoundfont    OperationType = "loadSoundfont"
	OpSelectInstrument OperationType = "selectInstrument"
	OpPlayNote         OperationType = "playNote"
	OpStopNote         OperationType = "stopNote"
	OpStopAllNotes     OperationType = "stopAllNotes"
	OpUnloadSoundfont  OperationType = "unloadSoundfont"
	OpDispose          OperationType = "dispose"

	opSessionNotification OperationType = "sessionNotification"
)

// Operation is one queued request: a named operation plus its argument
// map. The result is delivered on Response.
type Operation struct {
	Type     OperationType
	Args     map[string]any
	Data     any
	Response chan Result
}

// Result is the outcome of one dispatcher operation.
type Result struct {
	Success bool
	Data    any
	Error   error
}

// Dispatcher serializes all soundfont operations and session
// notifications on a single goroutine. Same-handle operations issued
// sequentially by one caller are processed in issue order; the loop is
// also the mutual-exclusion discipline between request handling and
// interruption recovery.
type Dispatcher struct {
	registry  *Registry
	session   *SessionManager
	mu        sync.RWMutex
	isRunning bool

	operations chan Operation
	stopChan   chan struct{}

	// Performance tracking
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
}

// NewDispatcher creates a dispatcher for the given registry. The session
// manager is attached later because the two reference each other.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		operations: make(chan Operation, 64),
		stopChan:   make(chan struct{}),
	}
}

func (d *Dispatcher) attachSession(s *SessionManager) {
	d.session = s
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dispatcher is already running")
	}

	d.isRunning = true
	go d.dispatchLoop()

	return nil
}

// Stop halts the dispatcher. Queued operations that have not been picked
// up fail with a shutdown error.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return nil // Already stopped
	}

	close(d.stopChan)
	d.isRunning = false

	return nil
}

// IsRunning returns whether the dispatch loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// PerformanceStats returns the last and maximum operation durations.
func (d *Dispatcher) PerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

// Invoke queues a named operation with its argument map and blocks until
// the result is available. This is the library's rendition of the
// platform message channel: arguments are validated before any mutation,
// and an invalid argument produces an error with no side effect.
func (d *Dispatcher) Invoke(method string, args map[string]any) (any, error) {
	op := Operation{
		Type:     OperationType(method),
		Args:     args,
		Response: make(chan Result, 1),
	}

	if err := d.enqueue(op); err != nil {
		return nil, err
	}

	select {
	case result := <-op.Response:
		if !result.Success {
			return nil, result.Error
		}
		return result.Data, nil
	case <-d.stopChan:
		return nil, fmt.Errorf("dispatcher is shutting down")
	}
}

// notify queues a session notification without waiting for completion.
func (d *Dispatcher) notify(n focus.Notification) {
	op := Operation{
		Type:     opSessionNotification,
		Data:     n,
		Response: make(chan Result, 1),
	}
	if err := d.enqueue(op); err != nil {
		d.registry.errorHandler.HandleError(fmt.Errorf("dropping session notification %s: %w", n.Kind, err))
	}
}

func (d *Dispatcher) enqueue(op Operation) error {
	d.mu.RLock()
	running := d.isRunning
	d.mu.RUnlock()
	if !running {
		return fmt.Errorf("dispatcher is not running")
	}

	select {
	case d.operations <- op:
		return nil
	case <-d.stopChan:
		return fmt.Errorf("dispatcher is shutting down")
	}
}

func (d *Dispatcher) dispatchLoop() {
	for {
		select {
		case <-d.stopChan:
			return
		case op := <-d.operations:
			start := time.Now()
			result := d.executeOperation(op)
			duration := time.Since(start)

			d.mu.Lock()
			d.lastOperationDuration = duration
			if duration > d.maxOperationDuration {
				d.maxOperationDuration = duration
			}
			d.mu.Unlock()

			op.Response <- result
		}
	}
}

func (d *Dispatcher) executeOperation(op Operation) Result {
	switch op.Type {
	case OpLoadSoundfont:
		path, err := stringArg(op.Args, "path")
		if err != nil {
			return failure(err)
		}
		bank, err := intArg(op.Args, "bank")
		if err != nil {
			return failure(err)
		}
		program, err := intArg(op.Args, "program")
		if err != nil {
			return failure(err)
		}
		handle, err := d.registry.Load(path, bank, program)
		if err != nil {
			return failure(err)
		}
		return Result{Success: true, Data: handle}

	case OpSelectInstrument:
		vals, err := intArgs(op.Args, "sfId", "channel", "bank", "program")
		if err != nil {
			return failure(err)
		}
		return status(d.registry.SelectInstrument(vals[0], vals[1], vals[2], vals[3]))

	case OpPlayNote:
		vals, err := intArgs(op.Args, "sfId", "channel", "key", "velocity")
		if err != nil {
			return failure(err)
		}
		return status(d.registry.NoteOn(vals[0], vals[1], vals[2], vals[3]))

	case OpStopNote:
		vals, err := intArgs(op.Args, "sfId", "channel", "key")
		if err != nil {
			return failure(err)
		}
		return status(d.registry.NoteOff(vals[0], vals[1], vals[2]))

	case OpStopAllNotes:
		vals, err := intArgs(op.Args, "sfId", "channel")
		if err != nil {
			return failure(err)
		}
		return status(d.registry.AllNotesOff(vals[0], vals[1]))

	case OpUnloadSoundfont:
		handle, err := intArg(op.Args, "sfId")
		if err != nil {
			return failure(err)
		}
		return status(d.registry.Unload(handle))

	case OpDispose:
		d.registry.DisposeAll()
		return Result{Success: true}

	case opSessionNotification:
		n, ok := op.Data.(focus.Notification)
		if !ok {
			return failure(fmt.Errorf("malformed session notification payload"))
		}
		if d.session != nil {
			d.session.apply(n)
		}
		return Result{Success: true}

	default:
		return failure(fmt.Errorf("%w: unknown method %q", ErrInvalidArguments, op.Type))
	}
}

func status(err error) Result {
	return Result{Success: err == nil, Error: err}
}

func failure(err error) Result {
	return Result{Success: false, Error: err}
}

// Argument helpers. Arguments may arrive as native ints from library
// callers or as float64 from JSON decoding; both are accepted, but a
// fractional float is mistyped.

func intArg(args map[string]any, key string) (int, error) {
	raw, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %q must be an integer, got %v", ErrInvalidArguments, key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %q must be an integer, got %T", ErrInvalidArguments, key, raw)
	}
}

func intArgs(args map[string]any, keys ...string) ([]int, error) {
	vals := make([]int, len(keys))
	for i, key := range keys {
		v, err := intArg(args, key)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", ErrInvalidArguments, key, raw)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %q must not be empty", ErrInvalidArguments, key)
	}
	return s, nil
}
