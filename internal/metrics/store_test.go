package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// createTestStore creates a new Store with in-memory SQLite database for testing
func createTestStore(t *testing.T) *Store {
	store, err := NewStore(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func recordStatus(t *testing.T, store *Store, name string) string {
	var status string
	err := store.db.QueryRow("SELECT status FROM perf_records WHERE name = ? ORDER BY id DESC LIMIT 1", name).Scan(&status)
	if err != nil {
		t.Fatalf("Failed to read record status: %v", err)
	}
	return status
}

func TestStore_RecordsAndSummaries(t *testing.T) {
	store := createTestStore(t)
	run, err := store.StartRun("checkout")
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	sla := &SLA{Percentile: 90, Max: time.Minute, MinSuccessRate: 50}
	for i := 0; i < 4; i++ {
		store.Start("010_Login", sla).End(true, 200)
	}
	store.Start("020_Cart", nil).End(false, 500)

	if err := store.FinishRun(RunStatusCompleted); err != nil {
		t.Fatalf("Failed to finish run: %v", err)
	}

	summaries, err := store.Summaries(run.ID)
	if err != nil {
		t.Fatalf("Failed to load summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got: %d", len(summaries))
	}

	login := summaries[0]
	if login.Name != "010_Login" || login.Count != 4 || login.Failed != 0 {
		t.Errorf("Unexpected login summary: %+v", login)
	}
	if login.SLA == nil || login.SLAMet == nil || !*login.SLAMet {
		t.Errorf("Expected login SLA to be met, got: %+v", login)
	}

	cart := summaries[1]
	if cart.Failed != 1 || cart.SuccessRate != 0 {
		t.Errorf("Expected cart to have 1 failure, got: %+v", cart)
	}
	if cart.SLAMet != nil {
		t.Error("Expected no SLA verdict without SLA")
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != RunStatusCompleted || runs[0].CompletedAt == nil {
		t.Errorf("Expected one completed run, got: %+v", runs)
	}
}

func TestStore_StatusOverrideAfterFlush(t *testing.T) {
	store := createTestStore(t)
	if _, err := store.StartRun("override"); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	rec := store.Start("010_Search", nil).End(true, 200)
	if err := store.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	if got := recordStatus(t, store, "010_Search"); got != string(StatusPassed) {
		t.Errorf("Expected Passed before override, got: %s", got)
	}

	rec.SetStatus(StatusFailed)

	if got := recordStatus(t, store, "010_Search"); got != string(StatusFailed) {
		t.Errorf("Expected Failed after override, got: %s", got)
	}
}

func TestStore_StatusOverrideBeforeFlush(t *testing.T) {
	store := createTestStore(t)

	rec := store.Start("010_Search", nil).End(true, 200)
	rec.SetStatus(StatusFailed)
	if err := store.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}

	if got := recordStatus(t, store, "010_Search"); got != string(StatusFailed) {
		t.Errorf("Expected Failed, got: %s", got)
	}
}

func TestStore_GaugesAndErrors(t *testing.T) {
	store := createTestStore(t)
	run, err := store.StartRun("gauges")
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	rec := store.Start("010_Home", nil).End(true, 200)
	store.AddGauge("010_Home-SizeKB", 12.5)
	store.ReportError("HTTP response check failed: body CONTAINS \"ok\"", rec)

	gauges, err := store.Gauges(run.ID)
	if err != nil {
		t.Fatalf("Failed to load gauges: %v", err)
	}
	if len(gauges) != 1 || gauges[0].Value != 12.5 {
		t.Errorf("Expected one gauge of 12.5, got: %+v", gauges)
	}

	messages, err := store.Errors(run.ID)
	if err != nil {
		t.Fatalf("Failed to load errors: %v", err)
	}
	if len(messages) != 1 || messages[0].Record != "010_Home" {
		t.Errorf("Expected one error tied to 010_Home, got: %+v", messages)
	}
}

func TestStore_ConcurrentWorkers(t *testing.T) {
	store := createTestStore(t)
	run, err := store.StartRun("concurrent")
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Start("010_Ping", nil).End(true, 200)
			}
		}()
	}
	wg.Wait()

	if err := store.FinishRun(RunStatusCompleted); err != nil {
		t.Fatalf("Failed to finish run: %v", err)
	}

	summaries, err := store.Summaries(run.ID)
	if err != nil {
		t.Fatalf("Failed to load summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Count != 400 {
		t.Errorf("Expected 400 records, got: %+v", summaries)
	}
}
