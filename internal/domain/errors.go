package domain

import (
	"errors"
	"fmt"
)

// StorageError reports a failed or unreachable persistence operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err for the named operation. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// TransportError reports a failed Telegram API call against a chat.
type TransportError struct {
	Op     string
	ChatID int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram %s (chat %d): %v", e.Op, e.ChatID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err for the named API call. A nil err yields nil.
func NewTransportError(op string, chatID int64, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, ChatID: chatID, Err: err}
}

// IsTransportError reports whether err carries a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}
