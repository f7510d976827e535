package reporting

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// SummaryPrinter collects the reports of a pass and prints them as a table
// once the pass has stopped.
type SummaryPrinter struct {
	out io.Writer

	mu      sync.Mutex
	started time.Time
	reports []*types.Report
}

// NewSummaryPrinter creates a printer writing to out, or stdout when nil
func NewSummaryPrinter(out io.Writer) *SummaryPrinter {
	if out == nil {
		out = os.Stdout
	}
	return &SummaryPrinter{out: out}
}

func (p *SummaryPrinter) Started() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = time.Now()
	p.reports = nil
}

func (p *SummaryPrinter) ReportWritten(report *types.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
}

func (p *SummaryPrinter) Stopped() {
	p.mu.Lock()
	reports := p.reports
	elapsed := time.Since(p.started)
	p.reports = nil
	p.mu.Unlock()

	if len(reports) == 0 {
		return
	}
	_, _ = io.WriteString(p.out, FormatSummary(reports, elapsed))
}

// FormatSummary renders one row per report plus a total row
func FormatSummary(reports []*types.Report, elapsed time.Duration) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle("Test Pass Results")
	t.AppendHeader(table.Row{
		"Test", "Component", "Duration", "Tests", "Failures", "Errors", "Skipped", "Reruns", "Status",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Component", AutoMerge: true},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Failures", Align: text.AlignRight},
		{Name: "Errors", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Reruns", Align: text.AlignRight},
	})

	var tests, failures, errors, skipped, reruns int
	for _, r := range reports {
		n := rerunCount(r)
		t.AppendRow(table.Row{
			r.Name,
			r.ComponentID,
			formatDuration(r.Duration),
			r.Tests,
			r.Failures,
			r.Errors,
			r.Skipped,
			n,
			statusText(r.Status),
		})
		tests += r.Tests
		failures += r.Failures
		errors += r.Errors
		skipped += r.Skipped
		reruns += n
	}

	overall := types.DetermineStatus(tests, failures, errors, skipped)
	switch {
	case overall.Failed():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case skipped > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d packages", len(reports)),
		formatDuration(elapsed),
		tests,
		failures,
		errors,
		skipped,
		reruns,
		statusText(overall),
	})

	t.Render()
	return buf.String()
}

func rerunCount(r *types.Report) int {
	n := 0
	for _, c := range r.Cases {
		n += len(c.Reruns)
	}
	return n
}

func statusText(status types.TestStatus) string {
	switch status {
	case types.TestStatusSuccess:
		return "PASS"
	case types.TestStatusFailure:
		return "FAIL"
	case types.TestStatusError:
		return "ERROR"
	case types.TestStatusSkipped:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
