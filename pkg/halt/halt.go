// Package halt implements the fail-closed halt controller. Every
// unrecoverable condition in the entitlement path (missing identity,
// tamper, policy failure, storage failure) converges here; the only
// transition is RUNNING -> HALTED and the only recovery is a new process.
package halt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type Code string

const (
	CodeUserHashMissing    Code = "M55_USER_HASH_MISSING"
	CodeCryptoUnavailable  Code = "M55_CRYPTO_UNAVAILABLE"
	CodeStorageReadFailed  Code = "M55_STORAGE_READ_FAILED"
	CodeStorageWriteFailed Code = "M55_STORAGE_WRITE_FAILED"
	CodePacketMissing      Code = "M55_STORAGE_PACKET_MISSING"
	CodePacketInvalid      Code = "M55_STORAGE_PACKET_INVALID"
	CodeTamperDetected     Code = "M55_STORAGE_TAMPER_DETECTED"
	CodePolicyMissing      Code = "M55_POLICY_MISSING"
	CodePolicyInvalid      Code = "M55_POLICY_INVALID"
	CodeUnknownProductID   Code = "M55_UNKNOWN_PRODUCT_ID"
	CodePurchaseInputError Code = "M55_PURCHASE_INPUT_MISSING"
	CodeLogWriteFailed     Code = "M55_LOG_WRITE_FAILED"
	CodeLogsPacketInvalid  Code = "M55_LOGS_PACKET_INVALID"
	CodeRuntimeError       Code = "M55_RUNTIME_ERROR"
)

// Fatal is the error kind for unrecoverable conditions. Components return
// a *Fatal from the site that detected the condition; the controller is
// the single place that observes it and transitions global state.
type Fatal struct {
	Code    Code
	Message string
	Detail  string
}

func (f *Fatal) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Code, f.Message, f.Detail)
}

func New(code Code, message, detail string) *Fatal {
	return &Fatal{Code: code, Message: message, Detail: detail}
}

// AsFatal reports whether err carries a *Fatal anywhere in its chain.
func AsFatal(err error) (*Fatal, bool) {
	var f *Fatal
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ErrHalted is the terminal signal raised by every call into a halted
// controller. Callers must propagate it; they never resume past a halt.
var ErrHalted = errors.New("M55_SYSTEM_HALT")

// StatusMessage is the only text shown to end users once halted.
// Intentionally non-diagnostic; detail goes to the developer channel.
const StatusMessage = "The stars are silent."

// Controller supervises one running context. Zero value is not usable;
// construct with NewController and inject it into every component.
type Controller struct {
	logger *slog.Logger

	mu     sync.Mutex
	halted bool
	reason *Fatal
}

func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{logger: logger}
}

// Halt records the fatal reason, logs diagnostics once, and returns
// ErrHalted. Idempotent: subsequent calls keep the first reason and only
// short-circuit the caller.
func (c *Controller) Halt(f *Fatal) error {
	if f == nil {
		f = New(CodeRuntimeError, "halt requested without reason", "")
	}
	c.mu.Lock()
	first := !c.halted
	if first {
		c.halted = true
		c.reason = f
	}
	c.mu.Unlock()
	if first {
		c.logger.Error("system halt",
			"code", string(f.Code),
			"message", f.Message,
			"detail", f.Detail,
		)
	}
	return ErrHalted
}

// Guard returns ErrHalted once the controller has tripped, so operations
// entered after a halt never run.
func (c *Controller) Guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return ErrHalted
	}
	return nil
}

func (c *Controller) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Reason exposes the first fatal condition for the developer channel.
// Never surface this to end users.
func (c *Controller) Reason() *Fatal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Trip converts any error into halt state. A *Fatal halts with its own
// code; anything else is an unhandled runtime error, which must also
// converge to halt (no silent handling).
func (c *Controller) Trip(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrHalted) {
		return ErrHalted
	}
	if f, ok := AsFatal(err); ok {
		return c.Halt(f)
	}
	return c.Halt(New(CodeRuntimeError, "unhandled error", err.Error()))
}

// TrapPanic is the process-wide trap: deferred at the top of an
// event-handling frame it converts a panic into a halt instead of an
// unwound stack.
//
//	defer ctrl.TrapPanic(&err)
func (c *Controller) TrapPanic(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	e := c.Halt(New(CodeRuntimeError, "unhandled panic", fmt.Sprint(r)))
	if errp != nil {
		*errp = e
	}
}
