// Package pipeline runs one merge pass: load, group, merge each group, report.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/audit"
	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/grouping"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Options is the explicit configuration of one run.
type Options struct {
	Rules         config.Rules
	DryRun        bool
	ActivityLimit int
	// ReportPath, when set, receives the full JSON report
	ReportPath string
}

// EventEmitter publishes events for the applied mutations of a group.
type EventEmitter interface {
	EmitGroup(ctx context.Context, runID string, trace models.GroupTrace) error
}

// Journal records runs and decisions.
type Journal interface {
	StartRun(ctx context.Context, runID uuid.UUID, dryRun bool, rules map[string]any) error
	RecordGroup(ctx context.Context, runID uuid.UUID, trace models.GroupTrace) error
	FinishRun(ctx context.Context, runID uuid.UUID, status string, summary models.RunSummary, runErr error) error
}

// Dependencies are the collaborators of a run. Store and Logger are required; every side channel
// is optional.
type Dependencies struct {
	Store    crm.Store
	Logger   ectologger.Logger
	Output   io.Writer
	Strategy grouping.Strategy
	Events   EventEmitter
	Journal  Journal
	Metrics  *metrics.Metrics
}

// Pipeline executes merge runs
type Pipeline struct {
	opts    Options
	deps    Dependencies
	store   crm.Store
	logger  ectologger.Logger
	printer *report.Printer
}

// New validates the options and builds a pipeline.
func New(opts Options, deps Dependencies) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("pipeline requires a record store")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("pipeline requires a logger")
	}
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}
	if deps.Output == nil {
		deps.Output = io.Discard
	}
	if deps.Strategy == nil {
		deps.Strategy = grouping.NewExactNameStrategy(opts.Rules, deps.Logger)
	}

	store := deps.Store
	if deps.Metrics != nil {
		store = crm.Instrument(store, deps.Metrics)
	}

	return &Pipeline{
		opts:    opts,
		deps:    deps,
		store:   store,
		logger:  deps.Logger,
		printer: report.NewPrinter(deps.Output, opts.DryRun),
	}, nil
}

// Run is a convenience for New followed by Pipeline.Run.
func Run(ctx context.Context, opts Options, deps Dependencies) (*models.RunReport, error) {
	p, err := New(opts, deps)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// Run performs one pass. Load and grouping failures abort with an error; per-record failures are
// only reported in the returned trace. Cancellation stops between groups and returns the partial
// report together with the context error.
func (p *Pipeline) Run(ctx context.Context) (*models.RunReport, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Run")
	defer span.End()

	runID := uuid.New()
	summary := models.RunSummary{
		RunID:     runID.String(),
		DryRun:    p.opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  summary.RunID,
		"dry_run": p.opts.DryRun,
	})
	log.Info("Starting merge run")

	if p.deps.Journal != nil {
		if err := p.deps.Journal.StartRun(ctx, runID, p.opts.DryRun, rulesSnapshot(p.opts.Rules)); err != nil {
			log.WithError(err).Warn("Failed to journal run start")
		}
	}

	snapshot, err := loader.NewLoader(p.store, p.opts.ActivityLimit, p.logger).Load(ctx)
	if err != nil {
		return nil, p.fail(ctx, runID, summary, err)
	}
	summary.Prospects = len(snapshot.Prospects)
	summary.Contacts = len(snapshot.Contacts)
	summary.Activities = len(snapshot.Activities)
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveSnapshot(summary.Prospects, summary.Contacts, summary.Activities)
	}

	result, err := p.deps.Strategy.Group(ctx, snapshot)
	if err != nil {
		return nil, p.fail(ctx, runID, summary, fmt.Errorf("failed to group prospects: %w", err))
	}
	summary.Excluded = result.Excluded

	p.printer.Excluded(result.Excluded)
	p.printer.Found(len(result.Groups), result.Records())

	engine := merging.NewEngine(p.logger, p.store, merging.OptionsFromRules(p.opts.Rules, p.opts.DryRun))

	traces := make([]models.GroupTrace, 0, len(result.Groups))
	var runErr error
	for _, group := range result.Groups {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warnf("Run cancelled after %d of %d groups", len(traces), len(result.Groups))
			runErr = err
			break
		}

		trace := engine.Process(ctx, snapshot, group)
		traces = append(traces, trace)
		p.printer.Group(trace)
		p.publish(ctx, runID, trace)
	}

	summary.FinishedAt = time.Now().UTC()
	summary = report.Summarize(summary, traces)
	p.printer.Summary(summary)

	runReport := &models.RunReport{Summary: summary, Groups: traces}
	if p.opts.ReportPath != "" {
		if err := report.WriteJSON(p.opts.ReportPath, *runReport); err != nil {
			log.WithError(err).Errorf("Failed to write report to %s", p.opts.ReportPath)
		} else {
			log.Infof("Wrote report to %s", p.opts.ReportPath)
		}
	}

	status := audit.RunStatusCompleted
	if runErr != nil {
		status = audit.RunStatusFailed
	}
	p.finish(ctx, runID, status, summary, runErr)

	log.WithFields(map[string]any{
		"groups":       summary.Groups,
		"pairs_merged": summary.PairsMerged,
		"failures":     summary.Failures,
	}).Info("Merge run finished")

	return runReport, runErr
}

// publish forwards a group trace to the side channels. Their failures never change the run.
func (p *Pipeline) publish(ctx context.Context, runID uuid.UUID, trace models.GroupTrace) {
	log := p.logger.WithContext(ctx).WithField("group", trace.Key)

	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveGroup(trace)
	}
	if p.deps.Events != nil && !p.opts.DryRun {
		if err := p.deps.Events.EmitGroup(ctx, runID.String(), trace); err != nil {
			log.WithError(err).Warn("Failed to emit merge events")
		}
	}
	if p.deps.Journal != nil {
		if err := p.deps.Journal.RecordGroup(ctx, runID, trace); err != nil {
			log.WithError(err).Warn("Failed to journal group decisions")
		}
	}
}

func (p *Pipeline) fail(ctx context.Context, runID uuid.UUID, summary models.RunSummary, err error) error {
	summary.FinishedAt = time.Now().UTC()
	p.logger.WithContext(ctx).WithError(err).Error("Merge run aborted")
	p.finish(ctx, runID, audit.RunStatusFailed, summary, err)
	return err
}

func (p *Pipeline) finish(ctx context.Context, runID uuid.UUID, status string, summary models.RunSummary, runErr error) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveRun(status, p.opts.DryRun, summary.FinishedAt.Sub(summary.StartedAt))
	}
	if p.deps.Journal != nil {
		// the run context may already be cancelled; the journal entry should still be closed
		if err := p.deps.Journal.FinishRun(context.WithoutCancel(ctx), runID, status, summary, runErr); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to journal run finish")
		}
	}
}

func rulesSnapshot(rules config.Rules) map[string]any {
	return map[string]any{
		"exclusions": rules.Exclusions,
		"manual_merges": ectolinq.Map(rules.ManualMerges, func(m config.ManualMerge) []int64 {
			return []int64{m.SurvivorID, m.LoserID}
		}),
		"placeholder_name": rules.PlaceholderName,
		"merge_fields":     rules.MergeFields,
		"tiebreak":         rules.Tiebreak,
	}
}
