// Package service implements the chat and message operations shared by the
// REST handlers and the websocket gateway.
//
// This file centralizes the error taxonomy. Handlers translate these into
// HTTP statuses; the gateway translates them into structured error events.
// Anything that does not match is treated as transient.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means no verified identity; it terminates the
	// connection.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotParticipant is a chat-scoped authorization failure.
	ErrNotParticipant = errors.New("not a chat participant")

	// ErrPermissionDenied is a privacy-engine rejection; wrap it with
	// PermissionDeniedError to carry the sub-reason.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound covers absent or already-deleted chats and messages.
	ErrNotFound = errors.New("not found")

	// ErrValidation covers malformed input such as an empty message with no
	// media.
	ErrValidation = errors.New("validation error")
)

// Deny reasons not produced by the permissions package.
const (
	ReasonNotMessageSender = "not_message_sender"
	ReasonNotChatAdmin     = "not_chat_admin"
)

// PermissionDeniedError carries the privacy-engine sub-reason.
type PermissionDeniedError struct {
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

func denied(reason string) error {
	return &PermissionDeniedError{Reason: reason}
}

// DenyReason extracts the sub-reason from a permission error, if any.
func DenyReason(err error) string {
	var pd *PermissionDeniedError
	if errors.As(err, &pd) {
		return pd.Reason
	}
	return ""
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
