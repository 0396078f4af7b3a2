package pluginhost

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrorHandler defines the interface for handling engine errors
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs errors through slog.
type DefaultErrorHandler struct {
	Logger *slog.Logger
}

// HandleError implements ErrorHandler interface with structured logging
func (h *DefaultErrorHandler) HandleError(err error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var ce *ContractError
	if errors.As(err, &ce) {
		logger.Warn("engine contract violation", "code", ce.Code, "op", ce.Op, "error", ce.Message)
		return
	}
	logger.Error("engine error", "error", err)
}

// LoggingErrorHandler wraps another handler and logs errors
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

// NewLoggingErrorHandler creates a new logging error handler
func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{
		underlying: underlying,
		logger:     logger,
	}
}

// HandleError implements ErrorHandler interface with logging
func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

var (
	// ErrContractViolation is wrapped by every ContractError.
	ErrContractViolation = errors.New("contract violation")

	ErrNotInitialized     = errors.New("engine not initialized")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrActionPending      = errors.New("an action is already pending")
	ErrInvalidAction      = errors.New("invalid action")
	ErrTableFull          = errors.New("plugin table full")
	ErrNotRunning         = errors.New("engine not running")
	ErrAlreadyRunning     = errors.New("engine already running")
	ErrNoDriver           = errors.New("no driver configured")
	ErrTimeout            = errors.New("timed out waiting for the audio cycle")
	ErrCycleTooLarge      = errors.New("cycle larger than the configured buffer size")
)

// ContractErrorCode categorizes contract violations.
type ContractErrorCode string

const (
	CodeNotInitialized     ContractErrorCode = "NOT_INITIALIZED"
	CodeAlreadyInitialized ContractErrorCode = "ALREADY_INITIALIZED"
	CodeActionPending      ContractErrorCode = "ACTION_PENDING"
	CodeInvalidAction      ContractErrorCode = "INVALID_ACTION"
	CodeUnsupported        ContractErrorCode = "UNSUPPORTED"
	CodeBusy               ContractErrorCode = "BUSY"
	CodeInvalidArgument    ContractErrorCode = "INVALID_ARGUMENT"
)

// ContractError reports a caller breaking one of the engine's preconditions.
// It matches ErrContractViolation and, when set, Err with errors.Is.
type ContractError struct {
	Code    ContractErrorCode
	Op      string
	Message string
	Err     error
}

func (e *ContractError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ContractError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrContractViolation}
	}
	return []error{ErrContractViolation, e.Err}
}

func contractf(code ContractErrorCode, op string, cause error, format string, args ...any) *ContractError {
	return &ContractError{Code: code, Op: op, Message: fmt.Sprintf(format, args...), Err: cause}
}

// IsContractViolation reports whether err is or wraps a ContractError.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}
