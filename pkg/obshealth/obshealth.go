// Package obshealth reports reachability of the adapters the oracle engine
// depends on at request time, in the idiom of the observability package's
// provider lifecycle (construct once, report readiness on demand).
package obshealth

import (
	"context"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/objectstore"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/secretstore"
)

// Status is one dependency's reachability result.
type Status struct {
	Name    string
	Healthy bool
	Error   string
	Latency time.Duration
}

// Report is the aggregate health of every checked dependency.
type Report struct {
	Healthy    bool
	Statuses   []Status
	CheckedAt  time.Time
}

// Checker probes the adapters an Engine needs to fail open. A nil field is
// skipped rather than reported unhealthy, since not every deployment wires
// every adapter (e.g. dry-run callers may omit the object store).
type Checker struct {
	SecretStore secretstore.SecretStore
	ObjectStore objectstore.ObjectStore
	Clock       func() time.Time
}

// Check probes every configured adapter and returns the aggregate report.
func (c Checker) Check(ctx context.Context) Report {
	now := time.Now
	if c.Clock != nil {
		now = c.Clock
	}

	var statuses []Status
	allHealthy := true

	if c.SecretStore != nil {
		st := probe("secretstore", func() error {
			_, err := c.SecretStore.GetNonce(ctx)
			return err
		})
		statuses = append(statuses, st)
		allHealthy = allHealthy && st.Healthy
	}

	if c.ObjectStore != nil {
		st := probe("objectstore", func() error {
			_, err := c.ObjectStore.ListBaselineVersions(ctx, "healthcheck")
			if err == objectstore.ErrNotFound {
				return nil
			}
			return err
		})
		statuses = append(statuses, st)
		allHealthy = allHealthy && st.Healthy
	}

	return Report{Healthy: allHealthy, Statuses: statuses, CheckedAt: now()}
}

func probe(name string, fn func() error) Status {
	start := time.Now()
	err := fn()
	st := Status{Name: name, Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
