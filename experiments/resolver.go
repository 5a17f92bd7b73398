// Package experiments is the orchestration surface of the framework: it
// resolves path-like experiment identities against the datastore, runs
// sweeps through a measurement context, and retrieves persisted results by
// run locator.
package experiments

import (
	"context"
	"errors"
	"fmt"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/pkg/logger"
)

var (
	// ErrNonUniqueIdentity is returned when an experiment lookup by
	// (collection, sub identifier) matches more than one record. It is
	// never auto-resolved.
	ErrNonUniqueIdentity = errors.New("experiment and sample name combination is not unique")

	// ErrRunIndexOutOfRange is returned when a locator's run counter does
	// not correspond to an existing run.
	ErrRunIndexOutOfRange = errors.New("run index out of range")
)

// Resolver finds or creates experiment records for (collection, sub
// identifier) identities. The backing store location is an explicit
// dependency rather than ambient process state.
type Resolver struct {
	lggr  logger.Logger
	store datastore.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(lggr logger.Logger, store datastore.Store) *Resolver {
	return &Resolver{lggr: lggr.Named("resolver"), store: store}
}

// ResolveOrCreate returns the experiment for the identity, creating it if
// it does not exist, together with its current run counter. A lookup that
// matches more than one record fails with ErrNonUniqueIdentity.
func (r *Resolver) ResolveOrCreate(ctx context.Context, collection, sub string) (datastore.ExperimentRecord, int, error) {
	rec, err := r.store.LoadExperimentByName(ctx, collection, sub)
	switch {
	case err == nil:
		return normalize(rec), rec.RunCounter, nil

	case errors.Is(err, datastore.ErrExperimentNotFound):
		// Bootstrap the backing store before the first record goes in.
		if err := r.store.Init(ctx); err != nil {
			return datastore.ExperimentRecord{}, 0, err
		}
		rec, err = r.store.NewExperiment(ctx, collection, sub)
		if err != nil {
			return datastore.ExperimentRecord{}, 0, err
		}
		r.lggr.Infow("Created experiment", "collection", collection, "sample", sub, "exp_id", rec.ExpID)

		return rec, rec.RunCounter, nil

	case errors.Is(err, datastore.ErrAmbiguousExperiment):
		return datastore.ExperimentRecord{}, 0, fmt.Errorf("%s/%s: %w", collection, sub, ErrNonUniqueIdentity)

	default:
		return datastore.ExperimentRecord{}, 0, err
	}
}

// ResolveExisting returns the experiment for the identity without creating
// one. Retrieval paths use this variant, where creation is never desired.
func (r *Resolver) ResolveExisting(ctx context.Context, collection, sub string) (datastore.ExperimentRecord, error) {
	rec, err := r.store.LoadExperimentByName(ctx, collection, sub)
	if err != nil {
		if errors.Is(err, datastore.ErrAmbiguousExperiment) {
			return datastore.ExperimentRecord{}, fmt.Errorf("%s/%s: %w", collection, sub, ErrNonUniqueIdentity)
		}

		return datastore.ExperimentRecord{}, err
	}

	return normalize(rec), nil
}

// normalize works around the store quirk where records obtained via lookup
// carry their row id only in ExpID, leaving the externally visible ID
// unset. Freshly created records do not need it.
func normalize(rec datastore.ExperimentRecord) datastore.ExperimentRecord {
	rec.ID = rec.ExpID
	return rec
}
