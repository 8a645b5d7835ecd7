package midisf

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chihoc/midisf/focus"
)

// SessionState is the audio session manager's state.
type SessionState int32

const (
	// SessionActive means playback engines are (or may be) running.
	SessionActive SessionState = iota
	// SessionInterrupted means an external interruption paused all
	// engines.
	SessionInterrupted
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// SessionManager reacts to OS interruption and route-change
// notifications. It forwards every notification into the dispatcher's
// serial loop, where the state transition, the engine pause/resume pass
// and the event emission all happen without racing request handling.
//
// Recovery policy: engines are restarted only when the OS signals that
// resumption is allowed. An interruption-ended notification without the
// resume signal leaves the session Interrupted. Restart failures are
// reported to the error handler and otherwise ignored; the next
// interruption or route-change pass retries.
type SessionManager struct {
	registry     *Registry
	notifier     *Notifier
	focus        focus.Manager
	dispatcher   *Dispatcher
	errorHandler ErrorHandler
	opts         focus.Options

	state int32 // atomic SessionState

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewSessionManager wires the session manager between the focus
// capability and the dispatcher.
func NewSessionManager(registry *Registry, notifier *Notifier, fm focus.Manager, dispatcher *Dispatcher, opts focus.Options, errorHandler ErrorHandler) *SessionManager {
	if errorHandler == nil {
		errorHandler = &DefaultErrorHandler{}
	}
	return &SessionManager{
		registry:     registry,
		notifier:     notifier,
		focus:        fm,
		dispatcher:   dispatcher,
		errorHandler: errorHandler,
		opts:         opts,
		state:        int32(SessionActive),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins forwarding focus notifications into the dispatcher.
func (s *SessionManager) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop halts the forwarding goroutine.
func (s *SessionManager) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
}

// State returns the current session state.
func (s *SessionManager) State() SessionState {
	return SessionState(atomic.LoadInt32(&s.state))
}

// Interrupted reports whether audio is currently suspended due to an
// external interruption.
func (s *SessionManager) Interrupted() bool {
	return s.State() == SessionInterrupted
}

func (s *SessionManager) run() {
	defer close(s.done)
	notifications := s.focus.Notifications()
	for {
		select {
		case <-s.stopChan:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			s.dispatcher.notify(n)
		}
	}
}

// apply executes one notification. Called only from the dispatcher loop.
func (s *SessionManager) apply(n focus.Notification) {
	switch n.Kind {
	case focus.InterruptionBegan:
		if s.State() != SessionActive {
			return
		}
		s.registry.PauseAll()
		atomic.StoreInt32(&s.state, int32(SessionInterrupted))
		s.notifier.Publish(Event{Event: EventAudioInterrupted, Interrupted: true})

	case focus.InterruptionEnded:
		if s.State() != SessionInterrupted {
			return
		}
		if !n.ShouldResume {
			// The OS did not grant resumption; stay interrupted until it
			// does or until a fresh interruption cycle.
			return
		}
		s.reconfigure()
		s.registry.ResumeAll()
		atomic.StoreInt32(&s.state, int32(SessionActive))
		s.notifier.Publish(Event{Event: EventAudioInterrupted, Interrupted: false})

	case focus.RouteChanged:
		// Self-loop: reconfigure and restart, no state transition and no
		// event. Ignored while interrupted.
		if s.State() != SessionActive {
			return
		}
		s.reconfigure()
		s.registry.ResumeAll()
	}
}

func (s *SessionManager) reconfigure() {
	if err := s.focus.Configure(s.opts); err != nil {
		s.errorHandler.HandleError(fmt.Errorf("reconfiguring audio session: %w", err))
	}
}
