package metrics

import (
	"testing"
	"time"
)

func TestTimer_EndOnce(t *testing.T) {
	mem := NewMemory()
	timer := mem.Start("010_Login", nil)

	first := timer.End(true, 200)
	second := timer.End(false, 500)

	if first != second {
		t.Error("Expected repeated End to return the same record")
	}
	if first.Code() != 200 || !first.Success() {
		t.Errorf("Expected first End to win, got code %d success %t", first.Code(), first.Success())
	}
	if len(mem.Records()) != 1 {
		t.Errorf("Expected 1 record, got: %d", len(mem.Records()))
	}
}

func TestTimer_StatusFollowsSuccess(t *testing.T) {
	rec := Nop.Start("x", nil).End(false, 503)
	if rec.Status() != StatusFailed {
		t.Errorf("Expected Failed, got: %s", rec.Status())
	}
	rec.SetStatus(StatusPassed)
	if rec.Status() != StatusPassed {
		t.Errorf("Expected override to Passed, got: %s", rec.Status())
	}
}

func TestMemory_SummariesCountOverriddenStatus(t *testing.T) {
	mem := NewMemory()
	mem.Start("010_Login", nil).End(true, 200)
	rec := mem.Start("010_Login", nil).End(true, 200)
	rec.SetStatus(StatusFailed)

	summaries := mem.Summaries()
	if len(summaries) != 1 {
		t.Fatalf("Expected 1 summary, got: %d", len(summaries))
	}
	if summaries[0].Failed != 1 || summaries[0].SuccessRate != 50 {
		t.Errorf("Expected 1 failure and 50%% success, got: %+v", summaries[0])
	}
}

func TestStats_Percentile(t *testing.T) {
	stats := NewStats()
	for _, d := range []int64{10, 20, 30, 40, 50} {
		stats.AddResult(d, false)
	}

	if p := stats.Percentile(50); p != 30 {
		t.Errorf("Expected P50 30, got: %d", p)
	}
	if p := stats.Percentile(100); p != 50 {
		t.Errorf("Expected P100 50, got: %d", p)
	}
	if p := stats.Percentile(25); p != 20 {
		t.Errorf("Expected P25 20, got: %d", p)
	}
	if stats.Min() != 10 || stats.Max() != 50 || stats.AvgDurationMs() != 30 {
		t.Errorf("Unexpected min/max/avg: %d/%d/%f", stats.Min(), stats.Max(), stats.AvgDurationMs())
	}
}

func TestSLA_Met(t *testing.T) {
	stats := NewStats()
	for _, d := range []int64{100, 200, 300, 400, 1000} {
		stats.AddResult(d, false)
	}
	stats.AddResult(100, true)

	tests := []struct {
		name string
		sla  SLA
		want bool
	}{
		{"p50 under max", SLA{Percentile: 50, Max: 300 * time.Millisecond}, true},
		{"p99 over max", SLA{Percentile: 99, Max: 500 * time.Millisecond}, false},
		{"avg under max", SLA{Max: time.Second}, true},
		{"success rate too low", SLA{MinSuccessRate: 90}, false},
		{"success rate ok", SLA{MinSuccessRate: 80}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sla.Met(stats); got != tt.want {
				t.Errorf("Expected %t for %s, got: %t", tt.want, tt.sla, got)
			}
		})
	}
}
