package payments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// EventKind is the ledger transition a provider event requests.
type EventKind string

// EventKind constants define normalized webhook outcomes.
const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventIgnored   EventKind = "ignored"
)

// Event is a provider webhook normalized for the ledger.
type Event struct {
	Provider      string
	Kind          EventKind
	Type          string
	EventID       string
	Reference     string
	ProviderTxnID string
	FailureReason string
	Payload       []byte
}

// Provider verifies and normalizes webhooks from one payment provider.
type Provider interface {
	Name() string
	ParseWebhook(ctx context.Context, header http.Header, payload []byte) (Event, error)
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry constructs a Registry, skipping nil providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
}
