package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is the verdict stored on a record
type Status string

const (
	StatusPassed  Status = "Passed"
	StatusFailed  Status = "Failed"
	StatusSkipped Status = "Skipped"
	StatusAborted Status = "Aborted"
)

// SLA is the service level a metric is evaluated against.
// Zero fields are not checked.
type SLA struct {
	Percentile     float64       `yaml:"percentile" json:"percentile"`
	Max            time.Duration `yaml:"max" json:"max"`
	MinSuccessRate float64       `yaml:"minSuccessRate" json:"minSuccessRate"`
}

// Met reports whether stats satisfy the SLA. Without a percentile the
// average duration is compared against Max.
func (s SLA) Met(stats *Stats) bool {
	if s.Max > 0 {
		observed := int64(stats.AvgDurationMs())
		if s.Percentile > 0 {
			observed = stats.Percentile(s.Percentile)
		}
		if observed > s.Max.Milliseconds() {
			return false
		}
	}
	if s.MinSuccessRate > 0 && stats.SuccessRate() < s.MinSuccessRate {
		return false
	}
	return true
}

func (s SLA) String() string {
	var parts []string
	if s.Max > 0 {
		if s.Percentile > 0 {
			parts = append(parts, fmt.Sprintf("p%g<=%s", s.Percentile, s.Max))
		} else {
			parts = append(parts, fmt.Sprintf("avg<=%s", s.Max))
		}
	}
	if s.MinSuccessRate > 0 {
		parts = append(parts, fmt.Sprintf("success>=%g%%", s.MinSuccessRate))
	}
	return strings.Join(parts, ", ")
}

// Record is one finished measurement
type Record interface {
	Name() string
	StartedAt() time.Time
	Duration() time.Duration
	Success() bool
	Code() int
	Status() Status
	SetStatus(Status)
}

// Timer measures one operation until End is called
type Timer interface {
	End(success bool, code int) Record
}

// Recorder receives measurements
type Recorder interface {
	Start(name string, sla *SLA) Timer
	AddGauge(name string, value float64)
}

// Reporter receives error messages attached to a record
type Reporter interface {
	ReportError(message string, rec Record)
}

// Sink is a Recorder that also takes error reports
type Sink interface {
	Recorder
	Reporter
}

type entry struct {
	mu        sync.Mutex
	name      string
	sla       *SLA
	startedAt time.Time
	duration  time.Duration
	success   bool
	code      int
	status    Status

	// id is the store row once persisted
	id       int64
	onStatus func(id int64, status Status)
}

func (e *entry) Name() string { return e.name }

func (e *entry) StartedAt() time.Time { return e.startedAt }

func (e *entry) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *entry) Success() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.success
}

func (e *entry) Code() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code
}

func (e *entry) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *entry) SetStatus(status Status) {
	e.mu.Lock()
	e.status = status
	id, hook := e.id, e.onStatus
	e.mu.Unlock()

	if id != 0 && hook != nil {
		hook(id, status)
	}
}

type timer struct {
	once   sync.Once
	e      *entry
	finish func(*entry)
}

func newTimer(name string, sla *SLA, finish func(*entry)) *timer {
	return &timer{
		e:      &entry{name: name, sla: sla, startedAt: time.Now()},
		finish: finish,
	}
}

// End stops the timer. Calls after the first return the same record.
func (t *timer) End(success bool, code int) Record {
	t.once.Do(func() {
		t.e.mu.Lock()
		t.e.duration = time.Since(t.e.startedAt)
		t.e.success = success
		t.e.code = code
		t.e.status = StatusPassed
		if !success {
			t.e.status = StatusFailed
		}
		t.e.mu.Unlock()

		if t.finish != nil {
			t.finish(t.e)
		}
	})
	return t.e
}

type nop struct{}

// Nop measures durations but keeps nothing
var Nop Sink = nop{}

func (nop) Start(name string, sla *SLA) Timer { return newTimer(name, sla, nil) }

func (nop) AddGauge(name string, value float64) {}

func (nop) ReportError(message string, rec Record) {}
