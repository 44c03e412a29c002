// Package batch implements the Batch Engine of spec.md §4.4: chunked bulk
// CRUD with per-item error reporting, shared by every entity repository's
// save_batch/update_batch/delete_batch/load_batch operations.
//
// Run itself is the chunk-splitting and error-aggregation loop; the actual
// per-chunk statements are array-expansion bulk SQL built with bulk.go's
// BuildBulkInsert/BuildBulkUpdate/BuildBulkDelete and executed with
// github.com/lib/pq's pq.Array, the same dependency the teacher's
// organization.postgresql.go uses for its pq.Array(ids)/ANY($1) read-side
// filter — generalized here from a read-side IN clause into a write-side
// unnest join, so one statement per chunk replaces one statement per item.
package batch

import (
	"context"
	"time"
)

// Options are spec.md §4.4's documented knobs. spec.md §6 also documents a
// use_transaction knob; it isn't represented here because it isn't a
// per-call choice a batch operation can branch on — it's already decided
// by which Repositories bundle the caller is invoking SaveBatch/UpdateBatch
// /DeleteBatch on (Store.Pool(), autocommit, or a Store.Begin() session,
// one shared transaction). See config.Config's doc comment.
type Options struct {
	ChunkSize       int
	ContinueOnError bool
	TimeoutSeconds  int
}

// ItemError reports a single input item's failure, indexed against the
// original (unchunked) input slice.
type ItemError struct {
	Index int
	Err   error
}

// Result is what every batch operation returns alongside its successes.
type Result struct {
	Errors []ItemError
}

// OK reports whether no item failed.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// ChunkFunc processes one chunk of items, starting at global index
// offset, and returns the errors for items within that chunk (Index
// fields must already be offset-adjusted to the original input's
// numbering).
type ChunkFunc[T any] func(ctx context.Context, chunk []T, offset int) []ItemError

// Run splits items into chunks of opts.ChunkSize, invoking process once
// per chunk. If opts.ContinueOnError is false, the first chunk reporting
// any error stops processing of subsequent chunks — matching spec.md
// §4.4's "first failure aborts and rolls back the enclosing session".
// The caller (the entity repository, which owns the session/transaction)
// is responsible for actually rolling back; Run only decides whether to
// keep going.
func Run[T any](ctx context.Context, items []T, opts Options, process ChunkFunc[T]) Result {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = len(items)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	var cancel context.CancelFunc

	if opts.TimeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var result Result

	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}

		chunk := items[start:end]

		errs := process(ctx, chunk, start)
		result.Errors = append(result.Errors, errs...)

		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ItemError{Index: start, Err: ctx.Err()})
			break
		}

		if !opts.ContinueOnError && len(errs) > 0 {
			break
		}
	}

	return result
}

// FindDuplicateIndices reports, for a slice whose items are keyed by key,
// the index of every item sharing a key already seen earlier in the
// slice — spec.md §4.4's "duplicate primary key within a single batch is
// an error reported at the duplicate's index".
func FindDuplicateIndices[T any, K comparable](items []T, key func(T) K) []ItemError {
	seen := make(map[K]int, len(items))

	var errs []ItemError

	for i, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			errs = append(errs, ItemError{Index: i, Err: ErrDuplicateKeyInBatch})
			continue
		}

		seen[k] = i
	}

	return errs
}

// ErrDuplicateKeyInBatch is the sentinel used by FindDuplicateIndices.
var ErrDuplicateKeyInBatch = duplicateKeyError{}

type duplicateKeyError struct{}

func (duplicateKeyError) Error() string { return "duplicate primary key within batch" }
