// Package format renders cases and statistics as terminal or Markdown tables.
package format

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"pqrdesk/internal/confidence"
	"pqrdesk/internal/domain"
	"pqrdesk/internal/stats"
	"pqrdesk/internal/textnorm"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // Fixed-width terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

type tbl struct {
	writer table.Writer
	mode   Mode
}

func newTable(m Mode, header ...any) *tbl {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	w.AppendHeader(table.Row(header))
	return &tbl{writer: w, mode: m}
}

func (t *tbl) row(vals ...any) {
	t.writer.AppendRow(table.Row(vals))
}

func (t *tbl) alignRight(cols ...int) {
	cfgs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		cfgs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight}
	}
	t.writer.SetColumnConfigs(cfgs)
}

func (t *tbl) String() string {
	if t.mode == Markdown {
		return t.writer.RenderMarkdown()
	}
	return t.writer.Render()
}

// Cases renders a case list; text is cut to keep rows on one line.
func Cases(cases []*domain.Case, m Mode) string {
	t := newTable(m, "ID", "Tracking", "Status", "Type", "Category", "Created", "Text")
	for _, c := range cases {
		t.row(c.ID, c.TrackingCode, c.Status.Label(), orDash(c.Type.Label()), orDash(c.Category.Label()),
			c.CreatedAt.Format("2006-01-02 15:04"), textnorm.Excerpt(oneLine(c.Text), 60))
	}
	t.alignRight(1)
	return t.String()
}

// Case renders one case as a field/value table.
func Case(c *domain.Case, m Mode) string {
	t := newTable(m, "Field", "Value")
	t.row("ID", c.ID)
	t.row("Tracking code", c.TrackingCode)
	t.row("Status", c.Status.Label())
	if c.Subject != "" {
		t.row("Subject", c.Subject)
	}
	t.row("Text", c.Text)
	if r, ok := c.Classification(); ok {
		t.row("Type", fmt.Sprintf("%s (%.0f%%, %s)", r.Type.Label(), r.TypeConfidence*100, confidence.TierOf(r.TypeConfidence)))
		t.row("Category", fmt.Sprintf("%s (%.0f%%, %s)", r.Category.Label(), r.CategoryConfidence*100, confidence.TierOf(r.CategoryConfidence)))
		t.row("Classified by", string(r.Source))
	}
	if c.SuggestedResponse != "" {
		t.row("Suggested response", c.SuggestedResponse)
	}
	if c.Response != "" {
		t.row("Response", c.Response)
	}
	t.row("Created", c.CreatedAt.Format("2006-01-02 15:04"))
	return t.String()
}

func Classification(r domain.ClassificationResult, m Mode) string {
	t := newTable(m, "Dimension", "Value", "Confidence", "Tier")
	t.row("Type", r.Type.Label(), fmt.Sprintf("%.2f", r.TypeConfidence), confidence.TierOf(r.TypeConfidence))
	t.row("Category", r.Category.Label(), fmt.Sprintf("%.2f", r.CategoryConfidence), confidence.TierOf(r.CategoryConfidence))
	t.alignRight(3)
	return t.String() + fmt.Sprintf("\nsource: %s, latency: %s\n", r.Source, r.Latency)
}

func Similar(cases []domain.SimilarCase, m Mode) string {
	t := newTable(m, "Case", "Score", "Reading", "Answered", "Excerpt")
	for _, c := range cases {
		reading, _, _ := strings.Cut(confidence.Describe(c.Score), ":")
		t.row(c.CaseID, fmt.Sprintf("%.3f", c.Score), reading, yesNo(c.HasResponse), textnorm.Excerpt(oneLine(c.Excerpt), 80))
	}
	t.alignRight(1, 2)
	return t.String()
}

// Report renders the full statistics report with a heading per section.
func Report(r stats.Report, m Mode) string {
	var b strings.Builder
	heading := func(s string) {
		if m == Markdown {
			b.WriteString("\n### " + s + "\n\n")
		} else {
			b.WriteString("\n" + s + "\n")
		}
	}

	o := r.Overview
	heading(fmt.Sprintf("Overview (last %d days)", o.Days))
	t := newTable(m, "Metric", "Value")
	t.row("Total cases", o.TotalCases)
	t.row("Pending", o.Pending)
	t.row("In progress", o.InProgress)
	t.row("Resolved", o.Resolved)
	t.row("Closed", o.Closed)
	avg := "n/a"
	if o.AvgResponseHours != nil {
		avg = fmt.Sprintf("%.2f h", *o.AvgResponseHours)
	}
	t.row("Avg. response time", avg)
	t.alignRight(2)
	b.WriteString(t.String() + "\n")

	heading("By type")
	b.WriteString(breakdown(r.ByType, m) + "\n")
	heading("By category")
	b.WriteString(breakdown(r.ByCategory, m) + "\n")

	cs := r.Classification
	heading("Classification")
	t = newTable(m, "Metric", "Value")
	t.row("Classifications", cs.TotalClassifications)
	for _, src := range []domain.Source{domain.SourceModel, domain.SourceFallback, domain.SourceManual} {
		t.row("  from "+string(src), cs.BySource[src])
	}
	t.row("Avg. type confidence", fmt.Sprintf("%.4f", cs.AvgTypeConfidence))
	t.row("Avg. latency", fmt.Sprintf("%.2f ms", cs.AvgLatencyMS))
	t.row("High / medium / low", fmt.Sprintf("%d / %d / %d", cs.TierHigh, cs.TierMedium, cs.TierLow))
	t.row("Corrections", cs.TotalCorrections)
	t.alignRight(2)
	b.WriteString(t.String() + "\n")
	return b.String()
}

func breakdown(rows []stats.Breakdown, m Mode) string {
	t := newTable(m, "Label", "Count", "%")
	total := 0
	for _, r := range rows {
		t.row(r.Label, r.Count, fmt.Sprintf("%.2f", r.Percentage))
		total += r.Count
	}
	t.writer.AppendFooter(table.Row{"Total", total, ""})
	t.alignRight(2, 3)
	return t.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
