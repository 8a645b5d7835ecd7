// Package focus abstracts OS-level audio session/focus arbitration.
// On mobile platforms an implementation would wrap the native audio
// session; on desktop there is no arbitration to speak of, so the
// Manual manager grants focus unconditionally and lets the embedding
// application (or tests) drive interruption and route-change
// notifications by hand.
package focus

// NotificationKind classifies session notifications.
type NotificationKind int

const (
	// InterruptionBegan signals that another audio source took over the
	// output (phone call, focus loss). Engines should be paused.
	InterruptionBegan NotificationKind = iota
	// InterruptionEnded signals the interruption is over. ShouldResume
	// tells whether the OS permits restarting playback.
	InterruptionEnded
	// RouteChanged signals the output device or category changed.
	RouteChanged
)

func (k NotificationKind) String() string {
	switch k {
	case InterruptionBegan:
		return "interruption_began"
	case InterruptionEnded:
		return "interruption_ended"
	case RouteChanged:
		return "route_changed"
	default:
		return "unknown"
	}
}

// Notification is a single session event delivered by a Manager.
type Notification struct {
	Kind NotificationKind

	// ShouldResume is meaningful for InterruptionEnded only.
	ShouldResume bool

	// Route details, set for RouteChanged.
	OldRoute string
	NewRoute string
}

// Options configure the audio session.
type Options struct {
	SampleRate float64 // preferred sample rate; 0 keeps the default
	BufferSize int     // preferred IO buffer size in frames; 0 keeps the default
}

// DefaultOptions mirror the usual mobile session defaults.
var DefaultOptions = Options{
	SampleRate: 44100,
	BufferSize: 512,
}

// Manager owns the OS audio session/focus and surfaces its notifications.
type Manager interface {
	// Configure (re)applies session options. Called once at startup and
	// again after interruptions and route changes.
	Configure(opts Options) error

	// RequestFocus asks the OS for playback focus. False means another
	// application holds exclusive focus and playback must not start.
	RequestFocus() bool

	// ReleaseFocus gives focus back. Safe to call without holding it.
	ReleaseFocus()

	// Notifications delivers interruption and route-change events. The
	// channel is closed by Close.
	Notifications() <-chan Notification

	// Close releases the session and closes the notification channel.
	Close() error
}
