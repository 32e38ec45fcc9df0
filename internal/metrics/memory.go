package metrics

import (
	"sort"
	"sync"
	"time"
)

// Gauge is a single named value
type Gauge struct {
	Name      string
	Value     float64
	Timestamp time.Time
}

// ErrorMessage is a reported failure, optionally tied to a record
type ErrorMessage struct {
	Record    string
	Message   string
	Timestamp time.Time
}

// Memory keeps everything it receives. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []*entry
	gauges  []Gauge
	errors  []ErrorMessage
}

// NewMemory creates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Start(name string, sla *SLA) Timer {
	return newTimer(name, sla, func(e *entry) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.records = append(m.records, e)
	})
}

func (m *Memory) AddGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, Gauge{Name: name, Value: value, Timestamp: time.Now()})
}

func (m *Memory) ReportError(message string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := ErrorMessage{Message: message, Timestamp: time.Now()}
	if rec != nil {
		msg.Record = rec.Name()
	}
	m.errors = append(m.errors, msg)
}

// Records returns the finished records in completion order
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	for i, e := range m.records {
		out[i] = e
	}
	return out
}

// Gauges returns the recorded gauges
func (m *Memory) Gauges() []Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Gauge(nil), m.gauges...)
}

// Errors returns the reported errors
func (m *Memory) Errors() []ErrorMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ErrorMessage(nil), m.errors...)
}

// Summaries groups records by name, sorted by name
func (m *Memory) Summaries() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]*Stats)
	slas := make(map[string]*SLA)
	for _, e := range m.records {
		s, ok := stats[e.name]
		if !ok {
			s = NewStats()
			stats[e.name] = s
		}
		if e.sla != nil && slas[e.name] == nil {
			slas[e.name] = e.sla
		}
		s.AddResult(e.Duration().Milliseconds(), e.Status() != StatusPassed)
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]Summary, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, summarize(name, stats[name], slas[name]))
	}
	return summaries
}
