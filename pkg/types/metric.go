package types

import "time"

// QueryMetric is a single execution telemetry sample. It is immutable once
// recorded: the recorder copies it into its ring buffer and, when the
// sampling filters pass, persists a truncated form as a durable row.
type QueryMetric struct {
	// QueryHash is the murmur3 fingerprint of the statement text.
	// Filled in by the recorder; callers may leave it empty.
	QueryHash string

	// QueryText is the raw statement text (truncated before persistence).
	QueryText string

	// Duration is the end-to-end execution time, including failures.
	Duration time.Duration

	// RowsAffected is the mutation row count, or the number of rows
	// fetched for read statements.
	RowsAffected int64

	// Success reports whether the statement executed without error.
	Success bool

	// ErrorMessage holds the failure text for unsuccessful executions.
	ErrorMessage string

	// Timestamp is when the execution completed.
	Timestamp time.Time

	// UserID optionally attributes the execution to an end user.
	UserID string

	// Endpoint optionally names the API surface that issued the statement.
	Endpoint string
}
