// Package acmeclient orchestrates ACME issuance over DNS-01 challenges:
// account registration per directory, order placement, per-domain
// authorization through pluggable DNS authenticators, bounded finalization
// and revocation.
package acmeclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Authenticator publishes and removes the DNS TXT records that satisfy
// dns-01 challenges. Implementations integrate with a DNS provider; the
// package itself ships none.
type Authenticator interface {
	// SetTXT publishes value under the fully qualified record name and
	// returns once the record is expected to be resolvable.
	SetTXT(ctx context.Context, recordName, value string) error
	// UnsetTXT removes a previously published record. Best effort.
	UnsetTXT(ctx context.Context, recordName, value string) error
}

// AuthenticatorRegistry holds the configured DNS authenticators by ID.
type AuthenticatorRegistry struct {
	mu    sync.RWMutex
	byID  map[string]Authenticator
	names map[string]string
}

// NewAuthenticatorRegistry returns an empty registry.
func NewAuthenticatorRegistry() *AuthenticatorRegistry {
	return &AuthenticatorRegistry{
		byID:  make(map[string]Authenticator),
		names: make(map[string]string),
	}
}

// Register adds or replaces an authenticator under the given ID.
func (r *AuthenticatorRegistry) Register(id, name string, auth Authenticator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = auth
	r.names[id] = name
}

// Remove deletes an authenticator from the registry.
func (r *AuthenticatorRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	delete(r.names, id)
}

// Get returns the authenticator for the ID.
func (r *AuthenticatorRegistry) Get(id string) (Authenticator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	auth, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown DNS authenticator %q", id)
	}
	return auth, nil
}

// Has reports whether an authenticator is registered under the ID.
func (r *AuthenticatorRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Choices lists the registered authenticators as id → display name.
func (r *AuthenticatorRegistry) Choices() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.names))
	for id, name := range r.names {
		out[id] = name
	}
	return out
}

// IDs returns the registered authenticator IDs in sorted order.
func (r *AuthenticatorRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
