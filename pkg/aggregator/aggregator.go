// Package aggregator is the governance-state aggregator external
// collaborator (spec §2, §6): it batch-fetches per-repo governance state
// from an upstream provider and caches it into the object store, so that
// MD-101 and MD-102-federated can build an OrgContext without re-fetching
// on every rule invocation.
//
// The GitHub REST surface itself is explicitly out of core scope (spec
// §1); only the mapped shapes and the Provider interface are specified
// here. A real provider implementation lives outside this module.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/policy"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/objectstore"
)

// NotFound means the requested path does not exist upstream (e.g. no
// CODEOWNERS file at any of the three conventional locations).
type NotFound struct {
	Path string
}

func (e *NotFound) Error() string { return fmt.Sprintf("aggregator: not found: %s", e.Path) }

// RateLimited means the upstream provider rejected the call with a
// rate-limit error; callers should retry after ResetAt.
type RateLimited struct {
	ResetAt time.Time
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("aggregator: rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// ProviderError wraps any other upstream failure.
type ProviderError struct {
	Cause error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("aggregator: provider error: %v", e.Cause) }
func (e *ProviderError) Unwrap() error { return e.Cause }

// ErrTimeout is returned when a fetch's deadline expires before the
// provider responds; no partial writes are made to the cache.
var ErrTimeout = errors.New("aggregator: fetch deadline exceeded")

// Request identifies the org-wide fetch the provider should perform.
type Request struct {
	Org           string
	Token         string
	DefaultBranch string // optional override; empty means "use each repo's own default"
}

// Provider is the external collaborator that knows how to talk to a
// specific upstream (GitHub REST, a mock, a fixture loader for tests). It
// maps upstream shapes — branch-protection
// {required_pull_request_reviews, enforce_admins,
// required_status_checks{strict, contexts}}, workflows, and CODEOWNERS at
// .github/CODEOWNERS, then CODEOWNERS, then docs/CODEOWNERS — into
// policy.RepoGovernanceState (spec §6).
type Provider interface {
	FetchOrgRepos(ctx context.Context, req Request) ([]policy.RepoGovernanceState, error)
}

// Aggregator rate-limits calls to a Provider and caches the most recent
// successful fetch per org into the object store.
type Aggregator struct {
	provider Provider
	cache    objectstore.ObjectStore
	limiter  *rate.Limiter
	clock    func() time.Time
}

// New builds an Aggregator. ratePerSec and burst configure the token
// bucket guarding calls to provider (spec §5 "rate limiting against
// external providers"); cache may be nil to disable caching.
func New(provider Provider, cache objectstore.ObjectStore, ratePerSec float64, burst int) *Aggregator {
	return &Aggregator{
		provider: provider,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		clock:    time.Now,
	}
}

func cacheKey(org string) string {
	return fmt.Sprintf("governance-state/%s.json", org)
}

// Fetch returns the org's current governance state, consulting the rate
// limiter before calling the provider and writing a successful result to
// the cache. On a RateLimited error from the provider, or a context
// deadline, no cache write happens and the error is returned unchanged so
// the caller can retry after ResetAt.
func (a *Aggregator) Fetch(ctx context.Context, req Request) ([]policy.RepoGovernanceState, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	states, err := a.provider.FetchOrgRepos(ctx, req)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if data, marshalErr := json.Marshal(states); marshalErr == nil {
			_ = a.cache.PutBaseline(ctx, cacheKey(req.Org), data)
		}
	}

	return states, nil
}

// FetchCached returns the last cached fetch for org without calling the
// provider, or objectstore.ErrNotFound if nothing has been cached yet.
func (a *Aggregator) FetchCached(ctx context.Context, org string) ([]policy.RepoGovernanceState, error) {
	if a.cache == nil {
		return nil, objectstore.ErrNotFound
	}
	data, err := a.cache.GetBaseline(ctx, cacheKey(org))
	if err != nil {
		return nil, err
	}
	var states []policy.RepoGovernanceState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("aggregator: decode cached state: %w", err)
	}
	return states, nil
}
