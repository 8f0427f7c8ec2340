// Package integrations resolves per-company provider credentials. A company
// either inherits a shared credential set (mode global), carries its own
// encrypted override (mode custom), or has the provider disabled.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/secrets"
	"github.com/wolfganghq/centurion/internal/store"
)

// Providers this service resolves.
const (
	ProviderOpenAI    = "openai"
	ProviderEvolution = "evolution"
)

// Resolved is the decrypted outcome of a resolution.
type Resolved struct {
	Provider        string
	Source          string // global | custom
	CredentialSetID *uuid.UUID
	Config          map[string]any
	Secrets         map[string]any
}

type cacheEntry struct {
	expires time.Time
	value   *Resolved // nil means disabled
}

// Resolver caches resolutions for a short TTL to keep hot paths off the DB.
// Misses are serialized per key so a burst for one company costs a single
// lookup and decryption.
type Resolver struct {
	store   store.IntegrationStore
	keyring *secrets.Keyring
	ttl     time.Duration

	mu       sync.Mutex
	cache    map[string]cacheEntry
	inflight map[string]*sync.Mutex
}

func NewResolver(st store.IntegrationStore, keyring *secrets.Keyring) *Resolver {
	return &Resolver{
		store:    st,
		keyring:  keyring,
		ttl:      30 * time.Second,
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]*sync.Mutex),
	}
}

// Resolve returns the company's credentials for provider, or nil when the
// integration is disabled for that company.
func (r *Resolver) Resolve(ctx context.Context, companyID uuid.UUID, provider string) (*Resolved, error) {
	key := companyID.String() + ":" + provider

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.value, nil
	}
	keyLock, ok := r.inflight[key]
	if !ok {
		keyLock = &sync.Mutex{}
		r.inflight[key] = keyLock
	}
	r.mu.Unlock()

	keyLock.Lock()
	defer keyLock.Unlock()

	// Double-check: a concurrent caller may have filled the entry while this
	// one waited on the key lock.
	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.value, nil
	}
	r.mu.Unlock()

	value, err := r.resolveUncached(ctx, companyID, provider)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{expires: time.Now().Add(r.ttl), value: value}
	r.mu.Unlock()
	return value, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, companyID uuid.UUID, provider string) (*Resolved, error) {
	binding, err := r.store.GetBinding(ctx, companyID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return r.fromDefaultSet(ctx, provider)
	}
	if err != nil {
		return nil, err
	}

	switch binding.Mode {
	case "disabled":
		return nil, nil
	case "custom":
		sec, err := r.decryptSecrets(binding.SecretsOverrideEnc)
		if err != nil {
			return nil, err
		}
		return &Resolved{
			Provider: provider,
			Source:   "custom",
			Config:   binding.ConfigOverride,
			Secrets:  sec,
		}, nil
	default: // global
		var set *store.CredentialSet
		if binding.CredentialSetID != nil {
			set, err = r.store.CredentialSetByID(ctx, *binding.CredentialSetID)
		} else {
			set, err = r.store.DefaultCredentialSet(ctx, provider)
		}
		if err != nil {
			return nil, fmt.Errorf("load credential set for %s: %w", provider, err)
		}
		return r.fromSet(provider, set)
	}
}

func (r *Resolver) fromDefaultSet(ctx context.Context, provider string) (*Resolved, error) {
	set, err := r.store.DefaultCredentialSet(ctx, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("missing default credential set for provider %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return r.fromSet(provider, set)
}

func (r *Resolver) fromSet(provider string, set *store.CredentialSet) (*Resolved, error) {
	sec, err := r.decryptSecrets(set.SecretsEnc)
	if err != nil {
		return nil, err
	}
	id := set.ID
	return &Resolved{
		Provider:        provider,
		Source:          "global",
		CredentialSetID: &id,
		Config:          set.Config,
		Secrets:         sec,
	}, nil
}

func (r *Resolver) decryptSecrets(enc string) (map[string]any, error) {
	if strings.TrimSpace(enc) == "" {
		return map[string]any{}, nil
	}
	if r.keyring == nil {
		return nil, fmt.Errorf("encrypted secrets present but no keyring configured")
	}
	return r.keyring.DecryptJSON(enc)
}
