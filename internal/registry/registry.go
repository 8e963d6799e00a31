// Package registry holds the live catalog of routable models and the
// connectors that serve them (spec §4.1). It generalizes the teacher's
// provider-keyed internal/routing.Router bookkeeping (providers map,
// per-name health status, logrus-fields logging) to a model-keyed store
// with per-id locking and copy-on-read snapshots.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/types"
)

// entry bundles one model's metadata with the connector instance that
// serves it and a per-entry mutex, so a health probe on model A never
// blocks a registration/removal of model B.
type entry struct {
	mu       sync.RWMutex
	metadata types.ModelMetadata
	conn     connector.Connector
}

// Registry is the concurrency-safe model catalog.
type Registry struct {
	mu      sync.RWMutex // protects the entries map itself (not entry contents)
	entries map[string]*entry
	logger  *logrus.Logger
}

// New constructs an empty Registry.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{entries: make(map[string]*entry), logger: logger}
}

// Register adds a new model entry (spec §4.1 register). Re-registering an
// id already present is rejected with AlreadyExists; callers that want to
// replace an entry must Remove it first.
func (r *Registry) Register(meta types.ModelMetadata, conn connector.Connector) error {
	if err := meta.Validate(); err != nil {
		return apierr.Wrap(apierr.InvalidRequest, err, "registry: invalid model metadata")
	}
	meta.LastCheckedAt = time.Now()

	r.mu.Lock()
	if _, exists := r.entries[meta.ID]; exists {
		r.mu.Unlock()
		return apierr.Newf(apierr.AlreadyExists, "registry: model %q is already registered", meta.ID)
	}
	e := &entry{}
	r.entries[meta.ID] = e
	r.mu.Unlock()

	e.mu.Lock()
	e.metadata = meta
	e.conn = conn
	e.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"model_id": meta.ID, "provider": meta.Provider}).Info("model registered")
	return nil
}

// Get returns a copy of the current metadata for id.
func (r *Registry) Get(id string) (types.ModelMetadata, bool) {
	e := r.lookup(id)
	if e == nil {
		return types.ModelMetadata{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metadata, true
}

// Connector returns the connector backing id.
func (r *Registry) Connector(id string) (connector.Connector, bool) {
	e := r.lookup(id)
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn, e.conn != nil
}

// Update applies fn to a copy of the entry's metadata under its lock, then
// stores the result (spec §4.1 update_metadata).
func (r *Registry) Update(id string, fn func(*types.ModelMetadata)) error {
	e := r.lookup(id)
	if e == nil {
		return apierr.Newf(apierr.InvalidRequest, "registry: unknown model %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	updated := e.metadata
	fn(&updated)
	if err := updated.Validate(); err != nil {
		return apierr.Wrap(apierr.InvalidRequest, err, "registry: update produced invalid metadata")
	}
	e.metadata = updated
	return nil
}

// SetStatus is a convenience wrapper over Update for the common case.
func (r *Registry) SetStatus(id string, status types.ModelStatus) error {
	return r.Update(id, func(m *types.ModelMetadata) { m.Status = status })
}

// Remove deletes a model entry (spec §4.1 remove).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	r.logger.WithField("model_id", id).Info("model removed")
}

// List returns a snapshot of every entry's metadata, unfiltered.
func (r *Registry) List() []types.ModelMetadata {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]types.ModelMetadata, 0, len(ids))
	for _, id := range ids {
		if e := r.lookup(id); e != nil {
			e.mu.RLock()
			out = append(out, e.metadata)
			e.mu.RUnlock()
		}
	}
	return out
}

// Find returns the subset of List() matching filter (spec §4.1 find /
// spec §4.3 candidate filtering step 1).
func (r *Registry) Find(filter types.ModelFilter) []types.ModelMetadata {
	all := r.List()
	out := make([]types.ModelMetadata, 0, len(all))
	for _, m := range all {
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// CheckHealth probes one model via its connector and records the result
// (spec §4.1 check_health).
func (r *Registry) CheckHealth(ctx context.Context, id string, timeoutMS int) (*types.HealthResult, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, apierr.Newf(apierr.InvalidRequest, "registry: unknown model %q", id)
	}
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()
	if conn == nil {
		return nil, apierr.Newf(apierr.Internal, "registry: model %q has no connector", id)
	}

	result, err := conn.HealthCheck(ctx, timeoutMS)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransportFailure, err, "registry: health check transport error")
	}

	e.mu.Lock()
	e.metadata.LastCheckedAt = result.Timestamp
	e.metadata.AvgLatencyMS = blendLatency(e.metadata.AvgLatencyMS, float32(result.LatencyMS))
	if !result.Healthy && e.metadata.Status == types.StatusAvailable {
		e.metadata.Status = types.StatusUnavailable
	} else if result.Healthy && e.metadata.Status == types.StatusUnavailable {
		e.metadata.Status = types.StatusAvailable
	}
	e.mu.Unlock()

	return result, nil
}

// blendLatency applies a simple exponential moving average so one slow
// probe doesn't whipsaw the cost/latency-optimized strategies.
func blendLatency(prev, sample float32) float32 {
	if prev <= 0 {
		return sample
	}
	const alpha = 0.3
	return prev*(1-alpha) + sample*alpha
}
