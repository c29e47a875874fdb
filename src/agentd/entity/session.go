package entity

import (
	"go.lsp.dev/protocol"
)

type keyType string

// ConnectionContextKey identifies the inbound connection UUID in a context.
const ConnectionContextKey keyType = "ConnectionUUID"

// SessionState tracks the lifecycle of a language server session.
// Transitions are strictly linear, with Failed reachable from
// Initializing and Ready.
type SessionState int

const (
	// StateUninitialized is the state before Start has been called.
	StateUninitialized SessionState = iota
	// StateInitializing covers spawn and the initialize round trip.
	StateInitializing
	// StateReady accepts document and feature operations.
	StateReady
	// StateShuttingDown covers the shutdown/exit sequence.
	StateShuttingDown
	// StateTerminated is the terminal state after a clean shutdown.
	StateTerminated
	// StateFailed is the terminal state after an unrecoverable error.
	// A failed session must be discarded and recreated, never reused.
	StateFailed
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// LanguageServerConfig defines how to launch the server for one language.
type LanguageServerConfig struct {
	// Command is the argv used to spawn the server, resolved via PATH.
	Command []string `yaml:"command"`
	// InitializationOptions are passed through on the initialize request.
	InitializationOptions map[string]interface{} `yaml:"initializationOptions,omitempty"`
}

// LanguageServerConfigs maps a language identifier to its launch config.
type LanguageServerConfigs map[protocol.LanguageIdentifier]LanguageServerConfig
