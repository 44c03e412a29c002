package batch

import (
	"fmt"
	"strings"
)

// UnnestColumn names one column participating in a bulk statement built
// with unnest: Name is the SQL column, SQLType is the Postgres array
// element type used to carry the column's values across the wire (paired,
// by the caller, with pq.Array on a Go slice of that length).
type UnnestColumn struct {
	Name    string
	SQLType string
}

// BuildBulkInsert returns a single parameterized INSERT that expands cols'
// positional array arguments ($1::uuid[], $2::text[], ...) via unnest, one
// row per array element. This is the array-expansion bulk insert spec.md
// §4.4 calls for: the caller supplies one pq.Array-wrapped Go slice per
// column, in the same order as cols, and issues one statement per chunk
// instead of one per item — grounded on the teacher's pq.Array/ANY($1)
// idiom (organization.postgresql.go), generalized from a read-side IN
// clause to a write-side unnest join.
func BuildBulkInsert(table string, cols []UnnestColumn) string {
	names := make([]string, len(cols))
	sources := make([]string, len(cols))

	for i, c := range cols {
		names[i] = c.Name
		sources[i] = fmt.Sprintf("unnest($%d::%s[])", i+1, c.SQLType)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s", table, strings.Join(names, ", "), strings.Join(sources, ", "))
}

// BuildBulkUpdate returns a single parameterized UPDATE that joins table
// against a derived table of unnested arrays on idCol, setting each of
// setCols from its paired array — the array-expansion analogue of an
// N-row UPDATE loop. Argument order is idCol followed by setCols, matching
// the $1, $2, ... positions unnest assigns them.
func BuildBulkUpdate(table string, idCol UnnestColumn, setCols []UnnestColumn) string {
	all := make([]UnnestColumn, 0, len(setCols)+1)
	all = append(all, idCol)
	all = append(all, setCols...)

	srcCols := make([]string, len(all))
	for i, c := range all {
		srcCols[i] = fmt.Sprintf("unnest($%d::%s[]) AS v_%s", i+1, c.SQLType, c.Name)
	}

	sets := make([]string, len(setCols))
	for i, c := range setCols {
		sets[i] = fmt.Sprintf("%s = src.v_%s", c.Name, c.Name)
	}

	return fmt.Sprintf(
		"UPDATE %s SET %s FROM (SELECT %s) AS src WHERE %s.%s = src.v_%s",
		table, strings.Join(sets, ", "), strings.Join(srcCols, ", "), table, idCol.Name, idCol.Name,
	)
}

// BuildBulkDelete returns a single parameterized DELETE matching idCol
// against one array argument — the teacher's ANY($1) pattern
// (organization.postgresql.go's pq.Array(ids) read-side filter), reused
// here as a write-side bulk delete.
func BuildBulkDelete(table, idCol string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", table, idCol)
}

// AttributeBulkError expands one bulk statement's failure into n ItemErrors,
// one per item at offset..offset+n-1. A bulk INSERT/UPDATE/DELETE commits
// or fails as a whole, so array expansion trades per-row failure
// granularity (spec.md §4.4's per-item ItemError reporting) for one round
// trip per chunk: on failure every item the statement covered is reported,
// since Postgres gives no finer-grained attribution for a single
// multi-row statement. Returns nil if err is nil.
func AttributeBulkError(offset, n int, err error) []ItemError {
	if err == nil {
		return nil
	}

	errs := make([]ItemError, n)
	for i := range errs {
		errs[i] = ItemError{Index: offset + i, Err: err}
	}

	return errs
}

// AttributeBulkErrorAt is AttributeBulkError for a non-contiguous set of
// original indices — used when some items in a chunk were already dropped
// from the bulk statement (a duplicate key, an unchanged content hash) and
// the remaining indices that made it into the statement aren't a
// contiguous run. Returns nil if err is nil.
func AttributeBulkErrorAt(indices []int, err error) []ItemError {
	if err == nil {
		return nil
	}

	errs := make([]ItemError, len(indices))
	for i, idx := range indices {
		errs[i] = ItemError{Index: idx, Err: err}
	}

	return errs
}
