// Package verify sequences fingerprinting, classification and ledger commit
// for one upload and reports how far the pipeline got.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/truthtag/truthtag/pkg/analysis"
	"github.com/truthtag/truthtag/pkg/fingerprint"
	"github.com/truthtag/truthtag/pkg/ledger"
	"github.com/truthtag/truthtag/pkg/observability"
)

const (
	DefaultAnalysisTimeout = 30 * time.Second
	DefaultCommitTimeout   = 60 * time.Second
)

// ErrNoContent rejects a request that carried no file.
var ErrNoContent = errors.New("verify: no content")

// Analyzer classifies content. *analysis.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, content []byte, timeout time.Duration) (analysis.Result, error)
}

// Config holds the per-stage time budgets.
type Config struct {
	AnalysisTimeout time.Duration
	CommitTimeout   time.Duration
}

// Orchestrator runs the verification pipeline. It holds no per-request state
// and is safe for concurrent use.
type Orchestrator struct {
	analyzer  Analyzer
	committer ledger.Committer
	cfg       Config
	obs       *observability.Provider
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObservability traces each stage through p.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the pipeline. Zero timeouts take the defaults.
func NewOrchestrator(analyzer Analyzer, committer ledger.Committer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	o := &Orchestrator{
		analyzer:  analyzer,
		committer: committer,
		cfg:       cfg,
		logger:    slog.Default().With("component", "verify"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Verify runs the pipeline over content and returns exactly one terminal
// Outcome. No stage is retried and nothing is rolled back.
func (o *Orchestrator) Verify(ctx context.Context, content []byte) Outcome {
	ctx, done := o.obs.TrackOperation(ctx, "verify", attribute.String("stage", "pipeline"))

	out := o.run(ctx, content)

	done(out.Err)
	return out
}

func (o *Orchestrator) run(ctx context.Context, content []byte) Outcome {
	if len(content) == 0 {
		return rejected(ErrNoContent)
	}

	fp, err := fingerprint.Compute(content)
	if err != nil {
		return rejected(err)
	}
	logger := o.logger.With("fingerprint", fp.Hex())

	res, err := o.analyze(ctx, content)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.InfoContext(ctx, "verification cancelled during classification")
		} else {
			logger.WarnContext(ctx, "classification unavailable", "error", err)
		}
		return analysisFailed(fp, err)
	}

	rec := ledger.Record{
		Fingerprint:       fp,
		AIGenerated:       res.AIGenerated,
		ConfidencePercent: res.ConfidencePercent(),
	}
	txID, err := o.commit(ctx, rec)
	if errors.Is(err, context.Canceled) {
		logger.InfoContext(ctx, "verification cancelled during ledger commit")
		return ledgerFailed(fp, res, err)
	}
	if err != nil {
		logger.WarnContext(ctx, "ledger commit unavailable",
			"error", err,
			"ai_generated", res.AIGenerated,
			"score", res.Score,
		)
		return ledgerFailed(fp, res, err)
	}

	logger.InfoContext(ctx, "verification complete",
		"ai_generated", res.AIGenerated,
		"score", res.Score,
		"tx", txID,
		"ledger_mode", o.committer.Mode(),
	)
	return complete(fp, res, txID)
}

func (o *Orchestrator) analyze(ctx context.Context, content []byte) (analysis.Result, error) {
	ctx, done := o.obs.TrackOperation(ctx, "verify.analyze", attribute.String("stage", "analyze"))
	res, err := within(ctx, o.cfg.AnalysisTimeout, analysis.ErrTimeout, func(ctx context.Context) (analysis.Result, error) {
		return o.analyzer.Analyze(ctx, content, o.cfg.AnalysisTimeout)
	})
	done(err)
	return res, err
}

func (o *Orchestrator) commit(ctx context.Context, rec ledger.Record) (string, error) {
	ctx, done := o.obs.TrackOperation(ctx, "verify.commit",
		attribute.String("stage", "commit"),
		attribute.String("ledger.mode", string(o.committer.Mode())),
	)
	txID, err := within(ctx, o.cfg.CommitTimeout, ledger.ErrTimeout, func(ctx context.Context) (string, error) {
		return o.committer.Commit(ctx, rec, o.cfg.CommitTimeout)
	})
	done(err)
	return txID, err
}
