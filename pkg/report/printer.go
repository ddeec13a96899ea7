package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Ramsey-B/fern/pkg/models"
)

const rule = "============================================================"

// Printer renders the human-readable decision trace.
type Printer struct {
	w      io.Writer
	dryRun bool

	heading lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	planned lipgloss.Style
	failed  lipgloss.Style
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, dryRun bool) *Printer {
	return &Printer{
		w:       w,
		dryRun:  dryRun,
		heading: lipgloss.NewStyle().Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950")),
		planned: lipgloss.NewStyle().Foreground(lipgloss.Color("#D29922")),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F85149")).Bold(true),
	}
}

// Excluded prints the names skipped as known distinct entities.
func (p *Printer) Excluded(names []string) {
	for _, name := range names {
		p.line("Skipping '%s': different physical locations, not duplicates", name)
	}
}

// Found prints the grouping headline.
func (p *Printer) Found(groups, records int) {
	p.line("Found %d duplicate groups (%d total records)", groups, records)
}

// Group prints the trace of one group.
func (p *Printer) Group(g models.GroupTrace) {
	if g.Kind == models.GroupKindPlaceholder {
		p.placeholders(g)
		return
	}

	for _, lt := range g.Losers {
		p.line("")
		p.line(rule)
		p.line("%s", p.heading.Render("MERGING: "+g.Name))
		p.line("  Primary: #%d (created %s)", g.SurvivorID, createdDate(g.SurvivorCreatedAt))
		p.line("  Duplicate: #%d (created %s)", lt.ProspectID, createdDate(lt.CreatedAt))
		p.loser(g, lt)
	}
}

func (p *Printer) loser(g models.GroupTrace, lt models.LoserTrace) {
	for _, fc := range lt.FieldChanges {
		if fc.Notes {
			p.line("  Notes merged (appended duplicate's notes)")
			continue
		}
		p.line("  Field '%s': '%s' -> '%s'", fc.Field, clip(fc.From, 40), clip(fc.To, 40))
	}
	if len(lt.FieldChanges) > 0 {
		msg := fmt.Sprintf("  Prospect #%d: %d fields", g.SurvivorID, len(lt.FieldChanges))
		p.outcome(msg, lt.FieldUpdate, lt.FieldError)
	}

	for _, d := range append(append([]models.ChildDisposition{}, lt.Contacts...), lt.Activities...) {
		var msg string
		switch d.Action {
		case models.ChildActionDropDuplicate:
			msg = fmt.Sprintf("  %s '%s' %s, deleting dupe", capitalize(string(d.Kind)), d.Label, d.Reason)
		case models.ChildActionRecreate:
			msg = fmt.Sprintf("  Recreating %s '%s' under #%d", d.Kind, d.Label, g.SurvivorID)
		default:
			msg = fmt.Sprintf("  Moving %s '%s' -> #%d", d.Kind, d.Label, g.SurvivorID)
		}
		p.outcome(msg, d.Outcome, d.Error)
	}

	msg := fmt.Sprintf("  Deleting duplicate #%d", lt.ProspectID)
	if lt.Deletion == models.OutcomeKept {
		msg = fmt.Sprintf("  Keeping duplicate #%d: %s", lt.ProspectID, lt.KeptReason)
	}
	p.outcome(msg, lt.Deletion, lt.DeletionError)
}

func (p *Printer) placeholders(g models.GroupTrace) {
	p.line("")
	p.line("%s", p.heading.Render(fmt.Sprintf("Deleting %d '%s' placeholder records...", len(g.Placeholders), g.Key)))
	for _, pt := range g.Placeholders {
		if pt.Deletion == models.OutcomeKept {
			p.line("  #%d has data (%d contacts, %d activities), keeping", pt.ProspectID, pt.Contacts, pt.Activities)
			continue
		}
		p.outcome(fmt.Sprintf("  Deleting #%d", pt.ProspectID), pt.Deletion, pt.Error)
	}
}

// Summary prints the run summary.
func (p *Printer) Summary(s models.RunSummary) {
	p.line("")
	p.line(rule)
	verb := "Merged"
	if s.DryRun {
		verb = "Would merge"
	}
	p.line("%s", p.heading.Render(fmt.Sprintf("%s %d duplicate pairs across %d groups", verb, s.PairsMerged, s.Groups)))
	p.line("  Duplicates deleted: %d, kept: %d", s.LosersDeleted, s.LosersKept)
	if s.PlaceholdersDeleted > 0 || s.PlaceholdersKept > 0 {
		p.line("  Placeholders deleted: %d, kept: %d", s.PlaceholdersDeleted, s.PlaceholdersKept)
	}
	if s.Failures > 0 {
		p.line("%s", p.failed.Render(fmt.Sprintf("  %d operations failed; see the trace above", s.Failures)))
	}
	if s.DryRun {
		p.line("%s", p.planned.Render("DRY RUN: no changes were made"))
	}
}

func (p *Printer) outcome(msg string, o models.Outcome, errMsg string) {
	switch o {
	case models.OutcomePlanned:
		p.line("%s %s", msg, p.planned.Render("[would change]"))
	case models.OutcomeApplied:
		p.line("%s %s", msg, p.ok.Render("[changed]"))
	case models.OutcomeAlreadyApplied:
		p.line("%s %s", msg, p.muted.Render("[already done]"))
	case models.OutcomeFailed:
		p.line("%s %s", msg, p.failed.Render("[failed: "+errMsg+"]"))
	case models.OutcomeKept:
		p.line("%s %s", msg, p.planned.Render("[kept]"))
	default:
		p.line("%s", msg)
	}
}

func (p *Printer) line(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format+"\n", args...)
}

func createdDate(createdAt string) string {
	if createdAt == "" {
		return "?"
	}
	if len(createdAt) > 10 {
		return createdAt[:10]
	}
	return createdAt
}

func clip(v any, n int) string {
	var s string
	if v != nil {
		s = fmt.Sprintf("%v", v)
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
