package observability

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/veltworks/velt/internal/conn"
	"github.com/veltworks/velt/internal/schema"
	"github.com/veltworks/velt/pkg/types"
)

// newPersistingRecorder returns a recorder whose side-channel points at a
// bootstrapped store, plus a helper that counts persisted rows.
func newPersistingRecorder(t *testing.T, cfg RecorderConfig) (*Recorder, func() int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "velt.db")
	mgr := conn.NewManager(path, 5*time.Second, 3, time.Millisecond)
	if err := schema.NewBootstrapper(mgr).Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}

	r := NewRecorder(cfg)
	if err := r.OpenSideChannel(path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })

	countRows := func() int64 {
		var n int64
		if err := r.db.QueryRow("SELECT COUNT(*) FROM query_metrics").Scan(&n); err != nil {
			t.Fatalf("count metrics: %v", err)
		}
		return n
	}
	return r, countRows
}

func slowMetric(text string) types.QueryMetric {
	return types.QueryMetric{
		QueryText:    text,
		Duration:     50 * time.Millisecond,
		RowsAffected: 1,
		Success:      true,
	}
}

func TestFastQueriesNeverPersisted(t *testing.T) {
	r, countRows := newPersistingRecorder(t, RecorderConfig{
		Capacity: 100, MinDuration: 10 * time.Millisecond, SampleRate: 1,
		MaxQueryLength: 500, MaxErrorLength: 200,
	})

	for i := 0; i < 50; i++ {
		m := slowMetric("SELECT * FROM leads")
		m.Duration = 2 * time.Millisecond
		r.Observe(m)
	}

	if n := countRows(); n != 0 {
		t.Errorf("fast queries persisted %d rows, want 0", n)
	}
	// They still land in the ring buffer.
	if len(r.Snapshot()) != 50 {
		t.Errorf("ring should hold all observed samples, got %d", len(r.Snapshot()))
	}
}

func TestDecimationPersistsOneInTen(t *testing.T) {
	r, countRows := newPersistingRecorder(t, RecorderConfig{
		Capacity: 100, MinDuration: 10 * time.Millisecond, SampleRate: 10,
		MaxQueryLength: 500, MaxErrorLength: 200,
	})

	for i := 0; i < 40; i++ {
		r.Observe(slowMetric("SELECT * FROM leads WHERE status = ?"))
	}

	if n := countRows(); n != 4 {
		t.Errorf("persisted %d rows for 40 qualifying samples at 1-in-10, want 4", n)
	}
}

func TestMetricsTableStatementsSkipped(t *testing.T) {
	r, countRows := newPersistingRecorder(t, RecorderConfig{
		Capacity: 100, MinDuration: 10 * time.Millisecond, SampleRate: 1,
		MaxQueryLength: 500, MaxErrorLength: 200,
	})

	for i := 0; i < 10; i++ {
		r.Observe(slowMetric("SELECT COUNT(*) FROM query_metrics"))
	}

	if n := countRows(); n != 0 {
		t.Errorf("telemetry-table statements persisted %d rows, want 0 (anti-recursion)", n)
	}
}

func TestSensitiveStatementsSkipped(t *testing.T) {
	r, countRows := newPersistingRecorder(t, RecorderConfig{
		Capacity: 100, MinDuration: 10 * time.Millisecond, SampleRate: 1,
		MaxQueryLength: 500, MaxErrorLength: 200,
	})

	sensitive := []string{
		"SELECT password FROM accounts",
		"UPDATE oauth SET access_token = ?",
		"SELECT api_key FROM integrations",
		"DELETE FROM session_store WHERE id = ?",
		"SELECT client_secret FROM apps",
	}
	for _, stmt := range sensitive {
		r.Observe(slowMetric(stmt))
	}

	if n := countRows(); n != 0 {
		t.Errorf("sensitive statements persisted %d rows, want 0", n)
	}
}

func TestPersistedFieldsTruncated(t *testing.T) {
	r, _ := newPersistingRecorder(t, RecorderConfig{
		Capacity: 10, MinDuration: 10 * time.Millisecond, SampleRate: 1,
		MaxQueryLength: 50, MaxErrorLength: 20,
	})

	m := slowMetric("SELECT * FROM leads WHERE " + strings.Repeat("x = 1 AND ", 50) + "1=1")
	m.Success = false
	m.ErrorMessage = strings.Repeat("boom ", 20)
	r.Observe(m)

	var text, errMsg string
	if err := r.db.QueryRow("SELECT query_text, error_message FROM query_metrics").Scan(&text, &errMsg); err != nil {
		t.Fatalf("read persisted row: %v", err)
	}
	if len(text) != 50 {
		t.Errorf("query_text length = %d, want 50", len(text))
	}
	if len(errMsg) != 20 {
		t.Errorf("error_message length = %d, want 20", len(errMsg))
	}
}

func TestPersistedRowCarriesFingerprint(t *testing.T) {
	r, _ := newPersistingRecorder(t, RecorderConfig{
		Capacity: 10, MinDuration: 10 * time.Millisecond, SampleRate: 1,
		MaxQueryLength: 500, MaxErrorLength: 200,
	})

	stmt := "SELECT id FROM leads WHERE owner = ?"
	r.Observe(slowMetric(stmt))

	var hash string
	if err := r.db.QueryRow("SELECT query_hash FROM query_metrics").Scan(&hash); err != nil {
		t.Fatal(err)
	}
	if hash != Fingerprint(stmt) {
		t.Errorf("persisted hash %q != fingerprint %q", hash, Fingerprint(stmt))
	}
	if len(hash) != 16 {
		t.Errorf("fingerprint should be 16 hex chars, got %d", len(hash))
	}
}

func TestRingBufferEvictsOldestFirst(t *testing.T) {
	r := NewRecorder(RecorderConfig{Capacity: 3, MinDuration: time.Hour, SampleRate: 1})

	for i := 0; i < 5; i++ {
		r.Observe(types.QueryMetric{QueryText: fmt.Sprintf("stmt-%d", i), Duration: time.Millisecond})
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot length = %d, want capacity 3", len(snap))
	}
	for i, want := range []string{"stmt-2", "stmt-3", "stmt-4"} {
		if snap[i].QueryText != want {
			t.Errorf("snap[%d] = %q, want %q", i, snap[i].QueryText, want)
		}
	}
}

func TestSlowQueries(t *testing.T) {
	r, _ := newPersistingRecorder(t, RecorderConfig{
		Capacity: 10, MinDuration: 10 * time.Millisecond, SampleRate: 1,
		MaxQueryLength: 500, MaxErrorLength: 200,
	})

	fast := slowMetric("SELECT a FROM leads")
	fast.Duration = 20 * time.Millisecond
	slow := slowMetric("SELECT b FROM leads")
	slow.Duration = 200 * time.Millisecond
	r.Observe(fast)
	r.Observe(slow)

	rows, err := r.SlowQueries(context.Background(), 10)
	if err != nil {
		t.Fatalf("SlowQueries: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["query_text"] != "SELECT b FROM leads" {
		t.Errorf("costliest statement should come first, got %v", rows[0]["query_text"])
	}
}

func TestObserveWithoutSideChannel(t *testing.T) {
	r := NewRecorder(DefaultRecorderConfig())
	// No side-channel opened: observing must not panic or error.
	r.Observe(slowMetric("SELECT 1"))
	if len(r.Snapshot()) != 1 {
		t.Error("sample should still land in ring buffer")
	}
}

// TestProperty_RingBufferBounded validates the ring buffer never exceeds its
// capacity and always retains the most recent samples.
func TestProperty_RingBufferBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot length is min(observed, capacity)", prop.ForAll(
		func(capacity, observed int) bool {
			r := NewRecorder(RecorderConfig{Capacity: capacity, MinDuration: time.Hour, SampleRate: 1})
			for i := 0; i < observed; i++ {
				r.Observe(types.QueryMetric{QueryText: fmt.Sprintf("q%d", i), Duration: time.Millisecond})
			}
			snap := r.Snapshot()

			want := observed
			if capacity < observed {
				want = capacity
			}
			if len(snap) != want {
				return false
			}
			// The last sample observed is always the last in the snapshot.
			if observed > 0 && snap[len(snap)-1].QueryText != fmt.Sprintf("q%d", observed-1) {
				return false
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}
