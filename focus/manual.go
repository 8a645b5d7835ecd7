package focus

import "sync"

// Manual is a Manager with no OS backing. Focus is granted (or denied,
// when configured) unconditionally and notifications are injected by the
// caller via BeginInterruption/EndInterruption/ChangeRoute. It is the
// default manager on desktop and the vehicle for interruption tests.
type Manual struct {
	mu      sync.Mutex
	opts    Options
	holding bool
	denied  bool
	closed  bool
	configs int
	notifs  chan Notification
}

// NewManual creates a manual focus manager that grants focus.
func NewManual() *Manual {
	return &Manual{
		opts:   DefaultOptions,
		notifs: make(chan Notification, 16),
	}
}

// DenyFocus makes subsequent RequestFocus calls fail. Used to exercise
// the focus-denied startup path.
func (m *Manual) DenyFocus(deny bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied = deny
}

func (m *Manual) Configure(opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.SampleRate > 0 {
		m.opts.SampleRate = opts.SampleRate
	}
	if opts.BufferSize > 0 {
		m.opts.BufferSize = opts.BufferSize
	}
	m.configs++
	return nil
}

// ConfigureCount reports how often Configure ran. Interruption recovery
// and route changes reconfigure the session, so tests assert on this.
func (m *Manual) ConfigureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs
}

// CurrentOptions returns the effective session options.
func (m *Manual) CurrentOptions() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

func (m *Manual) RequestFocus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return false
	}
	m.holding = true
	return true
}

func (m *Manual) ReleaseFocus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holding = false
}

// HoldingFocus reports whether RequestFocus succeeded and focus has not
// been released since.
func (m *Manual) HoldingFocus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holding
}

func (m *Manual) Notifications() <-chan Notification {
	return m.notifs
}

func (m *Manual) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.notifs)
	return nil
}

// BeginInterruption injects an interruption-began notification.
func (m *Manual) BeginInterruption() {
	m.send(Notification{Kind: InterruptionBegan})
}

// EndInterruption injects an interruption-ended notification.
func (m *Manual) EndInterruption(shouldResume bool) {
	m.send(Notification{Kind: InterruptionEnded, ShouldResume: shouldResume})
}

// ChangeRoute injects a route-change notification.
func (m *Manual) ChangeRoute(oldRoute, newRoute string) {
	m.send(Notification{Kind: RouteChanged, OldRoute: oldRoute, NewRoute: newRoute})
}

func (m *Manual) send(n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	// Non-blocking: a stalled consumer must not wedge the notifier.
	select {
	case m.notifs <- n:
	default:
	}
}
