// Package types provides core data types shared across the Velt persistence core.
package types

// Row is a generic result row: column name to normalized value.
// Values are normalized by the query executor (byte slices become strings,
// NULL becomes nil); callers should not assume driver-specific types beyond
// int64, float64, string, bool and nil.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	cp := make(Row, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}
