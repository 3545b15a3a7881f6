// Package storage provides the credential persistence layer: a small
// key/value Backend interface with durable and session-scoped
// implementations, and the CredentialStore that applies the precedence
// rules across two backends.
package storage

import (
	"errors"
)

// Backend is a key/value store for credential material.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored under key.
	// Returns ErrStorageNotFound if nothing is stored.
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Name identifies the backend in logs.
	Name() string
}

// Sentinel errors for storage operations
var (
	ErrStorageNotFound    = errors.New("storage item not found")
	ErrStorageCorrupted   = errors.New("storage data corrupted")
	ErrStoragePermission  = errors.New("storage permission denied")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// NopBackend is a Backend for disabled storage: every call fails with
// ErrStorageUnavailable.
type NopBackend struct{}

func (NopBackend) Get(string) (string, error) { return "", ErrStorageUnavailable }
func (NopBackend) Set(string, string) error   { return ErrStorageUnavailable }
func (NopBackend) Delete(string) error        { return ErrStorageUnavailable }
func (NopBackend) Name() string               { return "nop" }
