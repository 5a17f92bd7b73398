package experiments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/pkg/logger"
)

func TestResolver_ResolveOrCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := datastore.NewMemoryStore()
	resolver := NewResolver(logger.Test(t), store)

	// First call creates exactly one record with counter 0.
	created, counter, err := resolver.ResolveOrCreate(ctx, "expA", "sampleA")
	require.NoError(t, err)
	require.Equal(t, 0, counter)
	require.Len(t, store.Experiments, 1)

	// Second call is an idempotent lookup returning the same record.
	loaded, counter, err := resolver.ResolveOrCreate(ctx, "expA", "sampleA")
	require.NoError(t, err)
	require.Equal(t, 0, counter)
	require.Equal(t, created.ExpID, loaded.ExpID)
	require.Len(t, store.Experiments, 1)

	// The lookup path normalizes the externally visible id.
	require.Equal(t, loaded.ExpID, loaded.ID)
}

func TestResolver_AmbiguousIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := datastore.NewMemoryStore()
	store.Seed(datastore.ExperimentRecord{ExpID: 1, Name: "expA", SampleName: "sampleA"})
	store.Seed(datastore.ExperimentRecord{ExpID: 2, Name: "expA", SampleName: "sampleA"})

	resolver := NewResolver(logger.Test(t), store)

	_, _, err := resolver.ResolveOrCreate(ctx, "expA", "sampleA")
	require.ErrorIs(t, err, ErrNonUniqueIdentity)

	_, err = resolver.ResolveExisting(ctx, "expA", "sampleA")
	require.ErrorIs(t, err, ErrNonUniqueIdentity)
}

func TestResolver_ResolveExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := datastore.NewMemoryStore()
	resolver := NewResolver(logger.Test(t), store)

	// Lookup-only: never creates.
	_, err := resolver.ResolveExisting(ctx, "expA", "sampleA")
	require.ErrorIs(t, err, datastore.ErrExperimentNotFound)
	require.Empty(t, store.Experiments)

	created, _, err := resolver.ResolveOrCreate(ctx, "expA", "sampleA")
	require.NoError(t, err)

	loaded, err := resolver.ResolveExisting(ctx, "expA", "sampleA")
	require.NoError(t, err)
	require.Equal(t, created.ExpID, loaded.ExpID)
	require.Equal(t, loaded.ExpID, loaded.ID)
}
