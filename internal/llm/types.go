// Package llm talks to the remote and local AI backends used for page
// analysis and field extraction.
package llm

import "context"

// Provider identifies which backend serves completions
type Provider string

const (
	ProviderRemote Provider = "remote"
	ProviderLocal  Provider = "local"
	ProviderNone   Provider = "none"
)

// Request is a single-turn completion request
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
	// JSON asks the backend for a JSON object when it supports it
	JSON bool
}

// Completion is a backend answer
type Completion struct {
	Text     string
	Provider Provider
	Model    string
}

// Transport sends one completion request to one backend
type Transport interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// LocalBackend is a Transport that can be probed for availability
type LocalBackend interface {
	Transport
	Probe(ctx context.Context) error
}

// Completer is what callers need from a Resolver
type Completer interface {
	Best(ctx context.Context) Provider
	Complete(ctx context.Context, req Request) (*Completion, error)
}
