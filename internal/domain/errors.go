package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// Request validation errors
	ErrBadRequest      = errors.New("bad request")
	ErrEmptyMessages   = errors.New("messages cannot be empty")
	ErrNoUserMessage   = errors.New("the last message must be a text user message")
	ErrMissingUserID   = errors.New("user id is required")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrUnsupportedTool = errors.New("tool call not supported")

	// Conversation errors
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNotFound             = errors.New("resource not found")

	// Downstream errors
	ErrNoServerAvailable = errors.New("no downstream server available")
	ErrOperation         = errors.New("operation failed")
	ErrCancelled         = errors.New("request cancelled by client")

	// Tool server errors
	ErrToolNotFound     = errors.New("no tool server advertises the tool")
	ErrToolServerDown   = errors.New("tool server unavailable")
	ErrToolEmptyContent = errors.New("tool returned no content")
	ErrToolFailed       = errors.New("tool execution failed")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

// Operationf builds an ErrOperation-kinded error carrying a formatted message.
func Operationf(format string, args ...any) *DomainError {
	return &DomainError{Err: ErrOperation, Message: fmt.Sprintf(format, args...)}
}
