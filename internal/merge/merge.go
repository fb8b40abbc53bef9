// Package merge reconciles streaming result rows that carry a diff count
// into the current net row set. Subscribe-style statements emit an event
// log (insertions as positive diffs, deletions as negative); the console
// shows net-current state, so the log has to be folded before display.
package merge

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/rillstream/console/internal/protocol"
	"github.com/rillstream/console/internal/shell"
)

type bucket struct {
	count int64
	row   []any
}

// Merged computes the net materialized row set of a streaming result. Rows
// are keyed by a content hash of their values with the reserved metadata
// columns stripped; each row's diff is added to the running count for its
// key. Keys are then expanded back into literal row copies in first-seen
// order, once per key; keys whose net count is zero or below produce no
// rows.
//
// Non-streaming results, results without rows or column metadata, and
// results whose reserved diff column cannot be located are returned
// unchanged. The last case means the server omitted expected metadata, so
// the safe move is a no-op. A consequence worth having: output of a
// previous merge no longer carries the diff column, making Merged
// idempotent.
func Merged(result *shell.CommandResult) *shell.CommandResult {
	if result == nil || !result.IsStreaming || len(result.Rows) == 0 || len(result.Cols) == 0 {
		return result
	}

	reserved := reservedIndexes(result.Cols)
	diffIdx, ok := reserved[protocol.ColDiff]
	if !ok {
		return result
	}

	var order []uint64
	buckets := make(map[uint64]bucket)

	for _, row := range result.Rows {
		stripped := stripReserved(row, reserved)
		diff, ok := diffValue(row, diffIdx)
		if !ok {
			continue
		}
		key := contentHash(stripped)
		b, seen := buckets[key]
		if !seen {
			// Each distinct row content gets exactly one slot in the
			// output order, even if it is retracted and re-inserted later
			// in the batch.
			order = append(order, key)
			b.row = stripped
		}
		b.count += diff
		buckets[key] = b
	}

	merged := result.Clone()
	merged.Cols = stripReservedCols(result.Cols, reserved)
	merged.Rows = [][]any{}
	for _, key := range order {
		b := buckets[key]
		for i := int64(0); i < b.count; i++ {
			merged.Rows = append(merged.Rows, b.row)
		}
	}
	return merged
}

// reservedIndexes maps each reserved column present in cols to its index.
func reservedIndexes(cols []protocol.Column) map[string]int {
	idx := make(map[string]int)
	for i, col := range cols {
		for _, name := range protocol.ReservedColumns {
			if col.Name == name {
				idx[name] = i
			}
		}
	}
	return idx
}

func stripReservedCols(cols []protocol.Column, reserved map[string]int) []protocol.Column {
	out := make([]protocol.Column, 0, len(cols))
	for i, col := range cols {
		if !isReservedIndex(i, reserved) {
			out = append(out, col)
		}
	}
	return out
}

func stripReserved(row []any, reserved map[string]int) []any {
	out := make([]any, 0, len(row))
	for i, v := range row {
		if !isReservedIndex(i, reserved) {
			out = append(out, v)
		}
	}
	return out
}

func isReservedIndex(i int, reserved map[string]int) bool {
	for _, ri := range reserved {
		if i == ri {
			return true
		}
	}
	return false
}

// diffValue extracts the diff count from the row. JSON decoding can deliver
// it as a float, an integer or a numeric string depending on the server's
// serialization of large counts.
func diffValue(row []any, idx int) (int64, bool) {
	if idx >= len(row) {
		return 0, false
	}
	switch v := row[idx].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// contentHash hashes the stripped row values. JSON encoding of a value
// slice is deterministic, which makes it a stable content key.
func contentHash(row []any) uint64 {
	data, err := json.Marshal(row)
	if err != nil {
		// Unmarshalable values cannot arrive from a JSON transport; fall
		// back to an empty key rather than fail the merge.
		return 0
	}
	return xxhash.Sum64(data)
}
