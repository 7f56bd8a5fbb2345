// Package domain defines the account and community model, its persistence and
// the error taxonomy shared by the verification workflow.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when no account document matches.
	ErrAccountNotFound = errors.New("account not found")
	// ErrCommunityNotFound is returned when no community is bound to a chat.
	ErrCommunityNotFound = errors.New("community not found")
	// ErrNoCommunityPhoto is returned when a community has no stored photo.
	ErrNoCommunityPhoto = errors.New("community has no photo")
	// ErrNoOutstandingCode is returned by verify when no code was issued.
	ErrNoOutstandingCode = errors.New("no outstanding verification code, request a code first")
	// ErrNotFoundYet means the code was not seen in recent chat messages. It is
	// not a hard failure; the caller may retry.
	ErrNotFoundYet = errors.New("verification code not found in recent messages yet")
	// ErrDuplicateChat is returned when a community insert hits the unique
	// chat_id index.
	ErrDuplicateChat = errors.New("chat is already bound to a community")
)

// PersistenceError wraps a database read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TelegramAPIError wraps a non-ok Bot API response or a transport failure.
// Description carries the provider text verbatim when Telegram supplied one.
type TelegramAPIError struct {
	Method      string
	Code        int
	Description string
	Err         error
}

func (e *TelegramAPIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram %s: %s", e.Method, e.Description)
	}
	if e.Err != nil {
		return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("telegram %s failed", e.Method)
}

func (e *TelegramAPIError) Unwrap() error {
	return e.Err
}

// ConflictError reports a chat already bound to a different account.
type ConflictError struct {
	ChatID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("chat %d is already connected to another account", e.ChatID)
}
