package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/studiowebux/perfhttp/internal/executor"
	"github.com/studiowebux/perfhttp/internal/metrics"
	"github.com/studiowebux/perfhttp/internal/scenario"
	"gopkg.in/yaml.v3"
)

// ANSI color codes
const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
)

// Report is the printable result of a run
type Report struct {
	Name            string          `json:"name" yaml:"name"`
	RunID           string          `json:"runId,omitempty" yaml:"runId,omitempty"`
	Workers         int             `json:"workers" yaml:"workers"`
	Sent            int             `json:"sent" yaml:"sent"`
	Succeeded       int             `json:"succeeded" yaml:"succeeded"`
	Failed          int             `json:"failed" yaml:"failed"`
	TransportErrors int             `json:"transportErrors" yaml:"transportErrors"`
	Duration        string          `json:"duration" yaml:"duration"`
	Metrics         []MetricSummary `json:"metrics" yaml:"metrics"`
	Errors          []string        `json:"errors,omitempty" yaml:"errors,omitempty"`
	WorkerErrors    []string        `json:"workerErrors,omitempty" yaml:"workerErrors,omitempty"`
}

// MetricSummary is one line of the metrics table
type MetricSummary struct {
	Name        string  `json:"name" yaml:"name"`
	Count       int     `json:"count" yaml:"count"`
	Failed      int     `json:"failed" yaml:"failed"`
	SuccessRate float64 `json:"successRate" yaml:"successRate"`
	Min         string  `json:"min" yaml:"min"`
	Avg         string  `json:"avg" yaml:"avg"`
	Max         string  `json:"max" yaml:"max"`
	P95         string  `json:"p95" yaml:"p95"`
	P99         string  `json:"p99" yaml:"p99"`
	SLA         string  `json:"sla,omitempty" yaml:"sla,omitempty"`
	SLAMet      *bool   `json:"slaMet,omitempty" yaml:"slaMet,omitempty"`
}

func newReport(summaries []metrics.Summary, errs []metrics.ErrorMessage) *Report {
	r := &Report{Metrics: make([]MetricSummary, 0, len(summaries))}
	for _, s := range summaries {
		m := MetricSummary{
			Name:        s.Name,
			Count:       s.Count,
			Failed:      s.Failed,
			SuccessRate: s.SuccessRate,
			Min:         executor.FormatDuration(s.Min),
			Avg:         executor.FormatDuration(s.Avg),
			Max:         executor.FormatDuration(s.Max),
			P95:         executor.FormatDuration(s.P95),
			P99:         executor.FormatDuration(s.P99),
			SLAMet:      s.SLAMet,
		}
		if s.SLA != nil {
			m.SLA = s.SLA.String()
		}
		r.Metrics = append(r.Metrics, m)
	}
	for _, e := range errs {
		r.Errors = append(r.Errors, e.Message)
	}
	return r
}

func (r *Report) fill(name string, workers int, res *scenario.Result) {
	r.Name = name
	r.Workers = workers
	r.Sent = res.Sent
	r.Succeeded = res.Succeeded
	r.Failed = res.Failed
	r.TransportErrors = res.TransportErrors
	r.Duration = executor.FormatDuration(res.Duration)
	for _, w := range res.Workers {
		if w.Err != nil {
			r.WorkerErrors = append(r.WorkerErrors, fmt.Sprintf("worker %d: %v", w.Index, w.Err))
		}
	}
}

// format renders the report as text, json or yaml
func (r *Report) format(format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil

	case "yaml":
		data, err := yaml.Marshal(r)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case "text", "":
		return r.text(), nil

	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func (r *Report) text() string {
	var sb strings.Builder

	color := colorGreen
	if r.Failed > 0 || len(r.WorkerErrors) > 0 {
		color = colorRed
	}
	fmt.Fprintf(&sb, "%s%s: %d/%d requests succeeded%s (%d workers, %s)\n",
		color, r.Name, r.Succeeded, r.Sent, colorReset, r.Workers, r.Duration)
	if r.RunID != "" {
		fmt.Fprintf(&sb, "Run: %s\n", r.RunID)
	}

	if len(r.Metrics) > 0 {
		sb.WriteString("\n")
		tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "METRIC\tCOUNT\tFAILED\tSUCCESS\tMIN\tAVG\tMAX\tP95\tP99\tSLA")
		for _, m := range r.Metrics {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%s\t%s\t%s\t%s\t%s\t%s\n",
				m.Name, m.Count, m.Failed, m.SuccessRate, m.Min, m.Avg, m.Max, m.P95, m.P99, slaText(m))
		}
		tw.Flush()
	}

	if len(r.Errors) > 0 {
		sb.WriteString("\nErrors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "  %s%s%s\n", colorRed, e, colorReset)
		}
	}
	if len(r.WorkerErrors) > 0 {
		sb.WriteString("\nStopped workers:\n")
		for _, e := range r.WorkerErrors {
			fmt.Fprintf(&sb, "  %s%s%s\n", colorYellow, e, colorReset)
		}
	}
	return sb.String()
}

func slaText(m MetricSummary) string {
	if m.SLAMet == nil {
		return "-"
	}
	if *m.SLAMet {
		return "met (" + m.SLA + ")"
	}
	return "MISSED (" + m.SLA + ")"
}

func getStatusColor(status int) string {
	if status >= 200 && status < 300 {
		return colorGreen
	} else if status >= 400 || status < 0 {
		return colorRed
	}
	return colorYellow
}

// progressPrinter writes one line per outcome
func progressPrinter(out io.Writer) scenario.ProgressFunc {
	var mu sync.Mutex
	return func(index int, o *executor.Outcome) {
		label := o.Metric()
		if label == "" {
			label = o.Method() + " " + o.URL()
		}
		line := fmt.Sprintf("[vu %d] %s %s%d%s %s %s",
			index, label, getStatusColor(o.Status()), o.Status(), colorReset,
			executor.FormatDuration(o.Duration()), executor.FormatSize(o.BodySize()))
		if msg := o.ErrorMessage(); msg != "" {
			line += " " + colorRed + msg + colorReset
		} else if !o.ChecksPassed() {
			line += " " + colorRed + "checks failed" + colorReset
		}

		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, line)
	}
}
