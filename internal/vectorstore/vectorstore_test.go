package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedStore_SearchIsPartitionedAndOrdered(t *testing.T) {
	s := NewEmbeddedStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb1", []contracts.VectorRecord{
		{ID: "a", Vector: []float64{1, 0}},
		{ID: "b", Vector: []float64{0.7, 0.7}},
		{ID: "c", Vector: []float64{0, 1}},
	}))
	require.NoError(t, s.Upsert(ctx, "kb2", []contracts.VectorRecord{
		{ID: "x", Vector: []float64{1, 0}},
	}))

	got, err := s.Search(ctx, "kb1", []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
}

func TestEmbeddedStore_CapacityAndDelete(t *testing.T) {
	s := NewEmbeddedStore(WithMaxVectors(2))
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb", []contracts.VectorRecord{{ID: "a", Vector: []float64{1}}, {ID: "b", Vector: []float64{1}}}))
	assert.Error(t, s.Upsert(ctx, "kb", []contracts.VectorRecord{{ID: "c", Vector: []float64{1}}}))

	// Re-upserting an existing id does not count against capacity.
	require.NoError(t, s.Upsert(ctx, "kb", []contracts.VectorRecord{{ID: "a", Vector: []float64{0.5}}}))

	require.NoError(t, s.Delete(ctx, "kb", []string{"a"}))
	n, _ := s.Count(ctx, "kb")
	assert.Equal(t, 1, n)
	require.NoError(t, s.Upsert(ctx, "kb", []contracts.VectorRecord{{ID: "c", Vector: []float64{1}}}))
}

func TestPgvectorArray(t *testing.T) {
	assert.Equal(t, "[1,0.5,-2]", pgvectorArray([]float64{1, 0.5, -2}))
}

type downStore struct{ *EmbeddedStore }

func (downStore) Kind() string                      { return "down" }
func (downStore) HealthCheck(context.Context) error { return errors.New("connection refused") }

func TestRegistry_SelectAndHealth(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.HealthCheck(context.Background()), "nothing selected")

	r.Register("embedded", NewEmbeddedStore())
	r.Register("down", downStore{NewEmbeddedStore()})
	assert.Equal(t, []string{"down", "embedded"}, r.Names())

	_, err := r.Select("pgvector")
	assert.ErrorContains(t, err, "have down, embedded")

	_, err = r.Select("embedded")
	require.NoError(t, err)
	assert.NoError(t, r.HealthCheck(context.Background()))

	_, err = r.Select("down")
	require.NoError(t, err)
	assert.ErrorContains(t, r.HealthCheck(context.Background()), "connection refused")
}
