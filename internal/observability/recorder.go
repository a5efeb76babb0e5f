// Package observability captures query execution telemetry without
// materially affecting query performance. Samples land in a bounded
// in-memory ring buffer; a filtered subset is persisted through a separate,
// direct connection so telemetry writes can never re-enter the primary
// statement-execution path.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spaolacci/murmur3"

	"github.com/veltworks/velt/pkg/types"
)

// MetricsTable is the persisted telemetry table. Statements targeting it are
// never themselves recorded.
const MetricsTable = "query_metrics"

// sensitiveTokens are column-name fragments whose presence in a statement
// disqualifies it from persistence.
var sensitiveTokens = []string{"password", "token", "secret", "api_key", "session"}

// RecorderConfig holds sampling and bounding policy for the recorder.
type RecorderConfig struct {
	// Capacity is the ring buffer size; oldest samples are evicted first.
	Capacity int
	// MinDuration is the fast-path threshold: faster executions are not
	// persisted.
	MinDuration time.Duration
	// SampleRate persists one in every SampleRate qualifying samples.
	SampleRate int
	// MaxQueryLength bounds persisted statement text.
	MaxQueryLength int
	// MaxErrorLength bounds persisted error text.
	MaxErrorLength int
}

// DefaultRecorderConfig returns the production sampling policy.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Capacity:       500,
		MinDuration:    10 * time.Millisecond,
		SampleRate:     10,
		MaxQueryLength: 500,
		MaxErrorLength: 200,
	}
}

// Recorder samples execution telemetry. The mutex guards only ring buffer
// mutation and the decimation counter; the database write happens outside
// the critical section since the backing store serializes writers itself.
type Recorder struct {
	cfg RecorderConfig

	mu        sync.Mutex
	ring      []types.QueryMetric
	next      int
	count     int
	qualified uint64

	db *sql.DB // side-channel; nil when persistence is disabled
}

// NewRecorder creates a recorder with the given policy.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &Recorder{
		cfg:  cfg,
		ring: make([]types.QueryMetric, cfg.Capacity),
	}
}

// OpenSideChannel opens the recorder's own direct connection to the store at
// path. This deliberately bypasses the connection manager and the query
// executor: recording a metric is itself a write, and routing it through the
// executor would recurse.
func (r *Recorder) OpenSideChannel(path string) error {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("observability: failed to open side-channel: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	r.db = db
	return nil
}

// Close closes the side-channel connection.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Observe records one execution sample. It always lands in the ring buffer;
// persistence additionally requires every sampling filter to pass.
func (r *Recorder) Observe(m types.QueryMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.QueryHash = Fingerprint(m.QueryText)

	r.mu.Lock()
	r.ring[r.next] = m
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}

	persist := false
	if r.qualifies(m) {
		r.qualified++
		persist = r.qualified%uint64(r.cfg.SampleRate) == 0
	}
	r.mu.Unlock()

	if persist && r.db != nil {
		r.persist(m)
	}
}

// qualifies applies the persistence filters that precede decimation: no
// telemetry-table statements, no sensitive columns, no fast-path executions.
func (r *Recorder) qualifies(m types.QueryMetric) bool {
	lower := strings.ToLower(m.QueryText)
	if strings.Contains(lower, MetricsTable) {
		return false
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(lower, token) {
			return false
		}
	}
	return m.Duration >= r.cfg.MinDuration
}

// persist writes one truncated sample as a durable row. Failures are logged
// and never surfaced: telemetry must not affect the caller's operation.
func (r *Recorder) persist(m types.QueryMetric) {
	var errMsg any
	if m.ErrorMessage != "" {
		errMsg = truncate(m.ErrorMessage, r.cfg.MaxErrorLength)
	}
	var userID, endpoint any
	if m.UserID != "" {
		userID = m.UserID
	}
	if m.Endpoint != "" {
		endpoint = m.Endpoint
	}

	_, err := r.db.Exec(
		`INSERT INTO query_metrics (query_hash, query_text, execution_time, rows_affected, success, error_message, timestamp, user_id, endpoint)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.QueryHash,
		truncate(m.QueryText, r.cfg.MaxQueryLength),
		m.Duration.Seconds(),
		m.RowsAffected,
		boolToInt(m.Success),
		errMsg,
		m.Timestamp.Unix(),
		userID,
		endpoint,
	)
	if err != nil {
		log.Printf("[WARN] observability: failed to persist metric: %v", err)
	}
}

// Snapshot returns a copy of the in-memory samples, oldest first.
func (r *Recorder) Snapshot() []types.QueryMetric {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.QueryMetric, 0, r.count)
	start := r.next - r.count
	for i := 0; i < r.count; i++ {
		idx := (start + i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// SlowQueries returns the most expensive persisted samples, costliest first.
func (r *Recorder) SlowQueries(ctx context.Context, limit int) ([]types.Row, error) {
	if r.db == nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT query_hash, query_text, execution_time, rows_affected, timestamp, endpoint
		 FROM query_metrics WHERE success = 1
		 ORDER BY execution_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to query slow statements: %w", err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		var (
			hash, text         string
			execTime           float64
			affected, ts       int64
			endpoint           sql.NullString
		)
		if err := rows.Scan(&hash, &text, &execTime, &affected, &ts, &endpoint); err != nil {
			return nil, fmt.Errorf("observability: failed to scan slow statement: %w", err)
		}
		row := types.Row{
			"query_hash":     hash,
			"query_text":     text,
			"execution_time": execTime,
			"rows_affected":  affected,
			"timestamp":      ts,
		}
		if endpoint.Valid {
			row["endpoint"] = endpoint.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Fingerprint returns the murmur3 64-bit hash of the statement text as hex.
func Fingerprint(statement string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(statement)))
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
