package batch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LerianStudio/person-data-store/internal/batch"
)

func TestRun_ChunksByChunkSize(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	var seenChunks [][]int

	result := batch.Run(context.Background(), items, batch.Options{ChunkSize: 2}, func(_ context.Context, chunk []int, offset int) []batch.ItemError {
		cp := append([]int(nil), chunk...)
		seenChunks = append(seenChunks, cp)

		return nil
	})

	assert.True(t, result.OK())
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, seenChunks)
}

func TestRun_StopsAfterFirstFailureWhenContinueOnErrorFalse(t *testing.T) {
	items := []int{1, 2, 3, 4}

	var processed int

	result := batch.Run(context.Background(), items, batch.Options{ChunkSize: 1, ContinueOnError: false}, func(_ context.Context, chunk []int, offset int) []batch.ItemError {
		processed++
		if chunk[0] == 2 {
			return []batch.ItemError{{Index: offset, Err: errors.New("boom")}}
		}

		return nil
	})

	assert.False(t, result.OK())
	assert.Equal(t, 2, processed)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)
}

func TestRun_ContinuesPastFailuresWhenContinueOnErrorTrue(t *testing.T) {
	items := []int{1, 2, 3, 4}

	result := batch.Run(context.Background(), items, batch.Options{ChunkSize: 1, ContinueOnError: true}, func(_ context.Context, chunk []int, offset int) []batch.ItemError {
		if chunk[0]%2 == 0 {
			return []batch.ItemError{{Index: offset, Err: errors.New("even")}}
		}

		return nil
	})

	assert.Len(t, result.Errors, 2)
	assert.Equal(t, 1, result.Errors[0].Index)
	assert.Equal(t, 3, result.Errors[1].Index)
}

func TestFindDuplicateIndices(t *testing.T) {
	items := []string{"a", "b", "a", "c", "b", "b"}

	errs := batch.FindDuplicateIndices(items, func(s string) string { return s })

	var indices []int
	for _, e := range errs {
		indices = append(indices, e.Index)
		assert.ErrorIs(t, e.Err, batch.ErrDuplicateKeyInBatch)
	}

	assert.Equal(t, []int{2, 4, 5}, indices)
}
