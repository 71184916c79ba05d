// Package identity resolves a user's in-game display name from an external store.
//
// A lookup has three distinct outcomes: a name was found, no name is on record (unset),
// or the store could not be asked (failed). Callers must not treat unset and failed alike.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dyluth/warden/internal/metrics"
	"github.com/dyluth/warden/internal/retry"
	"golang.org/x/sync/singleflight"
)

// ErrLookupFailed wraps store errors surfaced through a failed Result.
var ErrLookupFailed = errors.New("name lookup failed")

// State is the outcome of a lookup.
type State int

const (
	StateFound State = iota + 1
	StateUnset
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFound:
		return "found"
	case StateUnset:
		return "unset"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is a resolved name.
type Result struct {
	State State
	Name  string
	Err   error
}

// Or returns the resolved name, or fallback when none was found.
func (r Result) Or(fallback string) string {
	if r.State == StateFound {
		return r.Name
	}
	return fallback
}

// Store is an external key-value lookup of user id → in-game name.
// found is false when the user has no name on record.
type Store interface {
	Lookup(ctx context.Context, userID string) (name string, found bool, err error)
	Ping(ctx context.Context) error
	Close() error
}

// Resolver wraps a Store with retry and request coalescing.
type Resolver struct {
	store   Store
	retry   retry.Policy
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store Store, policy retry.Policy, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, retry: policy, metrics: m, logger: logger.With("component", "identity")}
}

// Resolve looks up userID. Concurrent lookups for the same user share one store call.
func (r *Resolver) Resolve(ctx context.Context, userID string) Result {
	v, _, _ := r.group.Do(userID, func() (interface{}, error) {
		return r.resolve(ctx, userID), nil
	})
	res := v.(Result)
	r.metrics.NameLookup(res.State.String())
	return res
}

func (r *Resolver) resolve(ctx context.Context, userID string) Result {
	type lookup struct {
		name  string
		found bool
	}
	got, err := retry.Value(ctx, r.retry, "name_lookup", func(ctx context.Context) (lookup, error) {
		name, found, err := r.store.Lookup(ctx, userID)
		return lookup{name: name, found: found}, err
	})
	if err != nil {
		r.logger.Warn("name_lookup_failed", "user_id", userID, "error", err)
		return Result{State: StateFailed, Err: fmt.Errorf("%w: %v", ErrLookupFailed, err)}
	}

	name := strings.TrimSpace(got.name)
	if !got.found || name == "" {
		return Result{State: StateUnset}
	}
	return Result{State: StateFound, Name: name}
}

// Ping checks the underlying store.
func (r *Resolver) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// NoStore is a Store with no names on record.
type NoStore struct{}

func (NoStore) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }
func (NoStore) Ping(context.Context) error                           { return nil }
func (NoStore) Close() error                                         { return nil }
