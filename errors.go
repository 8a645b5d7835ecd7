package midisf

import (
	"errors"
	"log"
)

// Error kinds returned by registry and dispatcher operations. All are
// local to one request; none are fatal to the process. Callers classify
// with errors.Is.
var (
	// ErrInvalidArguments marks a missing or mistyped request argument.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrInvalidHandle marks a reference to an unknown soundfont handle.
	ErrInvalidHandle = errors.New("invalid soundfont handle")

	// ErrInvalidChannel marks a MIDI channel outside 0..15.
	ErrInvalidChannel = errors.New("channel out of range")

	// ErrEngineStartFailed marks a playback engine that could not start.
	ErrEngineStartFailed = errors.New("engine start failed")

	// ErrSoundfontLoadFailed marks an instrument bank that could not be
	// loaded for the given path/bank/program.
	ErrSoundfontLoadFailed = errors.New("soundfont load failed")

	// ErrHandleNotFound marks an unload of an absent handle.
	ErrHandleNotFound = errors.New("soundfont handle not found")
)

// ErrorHandler receives failures that occur off the request path, such
// as engine restarts during interruption recovery. Those are best-effort:
// there is no caller to report to, so they are surfaced here and
// otherwise swallowed.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs through the standard logger.
type DefaultErrorHandler struct{}

// HandleError implements ErrorHandler.
func (h *DefaultErrorHandler) HandleError(err error) {
	log.Printf("midisf: %v", err)
}

// LoggingErrorHandler forwards errors to a custom logger function and
// optionally to an underlying handler.
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

// NewLoggingErrorHandler creates a new logging error handler.
func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{
		underlying: underlying,
		logger:     logger,
	}
}

// HandleError implements ErrorHandler.
func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}
