// Package pipeline implements C6: the fixed seven-stage orchestrator
// (parse → normalise → enrich → repair → threshold-sweep → package →
// boundary) over a single mutable Context.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cee/internal/audit"
	"cee/internal/boundary"
	"cee/internal/domainerr"
	"cee/internal/graph"
	"cee/internal/guards"
	"cee/internal/llm"
	"cee/internal/normalize"
	"cee/internal/redact"
	"cee/internal/repair"
	"cee/internal/validate"
)

// EarlyReturn halts the pipeline successfully without running later
// stages.
type EarlyReturn struct {
	StatusCode int
	Body       any
}

// Checkpoint is the post-enrich plan-annotation checkpoint.
type Checkpoint struct {
	PlanID           string
	PlanHash         string
	Stage3Rationales []string
	Confidence       Confidence
	ContextHash      string
	ModelID          string
	PromptVersion    string
	OpenQuestions    []string
}

type Confidence struct {
	Overall    float64
	Structure  float64
	Parameters float64
}

// Context is mutated in place by each stage.
type Context struct {
	RequestID string
	Input     string
	Opts      Options

	Graph *graph.Graph

	Rationales []string
	LLMMeta    llm.DraftResult

	DeterministicRepairs []repair.Record
	RepairTrace          map[string]int
	repairTrace          *repair.Trace

	Checkpoint *Checkpoint

	Validation validate.Result

	EarlyReturn *EarlyReturn
	FinalResponse map[string]any
}

// Options configures one pipeline run.
type Options struct {
	Limits              graph.Limits
	CheckpointsEnabled  bool
	LegacyPipelineB     bool
}

// Orchestrator wires the pipeline's collaborators. New leaves Audit nil
// (no audit writes); when a caller sets it, Run persists a checkpoint
// row after boundary without gating the response on the write
// succeeding.
type Orchestrator struct {
	Provider llm.Provider
	Ledger   *redact.Ledger
	Audit    *audit.Store
}

func New(provider llm.Provider) *Orchestrator {
	return &Orchestrator{Provider: provider, Ledger: redact.NewLedger()}
}

type stageFunc func(o *Orchestrator, ctx *Context) error

var tracer = otel.Tracer("cee/pipeline")

// Run executes the fixed stage sequence. Each named stage is invoked
// at most once: an early return or a stage error stops the later
// stages. Only the threshold-sweep stage is wrapped in recovery
// so a panic there degrades to a logged failure instead of losing the
// repairs already accumulated by the repair stage.
func (o *Orchestrator) Run(ctx context.Context, input string, opts Options) (*Context, error) {
	pctx := &Context{
		RequestID: uuid.NewString(),
		Input:     input,
		Opts:      opts,
	}

	if opts.LegacyPipelineB {
		return pctx, domainerr.NewConfigurationError("pipeline", "Pipeline B is archived. Set CEE_LEGACY_PIPELINE_ENABLED=true to re-enable.")
	}

	stages := []struct {
		name string
		fn   stageFunc
	}{
		{"parse", o.stageParse},
		{"normalise", stageNormalise},
		{"enrich", stageEnrich},
		{"repair", stageRepair},
		{"threshold-sweep", stageThresholdSweepSafe},
		{"package", stagePackage},
		{"boundary", stageBoundary},
	}

	for _, s := range stages {
		if pctx.EarlyReturn != nil {
			break
		}
		_, span := tracer.Start(ctx, "pipeline."+s.name, trace.WithAttributes(
			attribute.String("x-request-id", pctx.RequestID),
		))
		err := s.fn(o, pctx)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if err != nil {
			return pctx, fmt.Errorf("stage %s: %w", s.name, err)
		}
	}

	if o.Audit != nil && pctx.EarlyReturn == nil {
		if err := o.Audit.Save(ctx, auditRecord(pctx)); err != nil {
			log.Error().Err(err).Str("request_id", pctx.RequestID).Str("event", "cee.audit.write_failed").Msg("audit write failed")
		}
	}

	return pctx, nil
}

// auditRecord projects a finished Context into the audit store's
// request-facing shape. Returns a zero-value PlanID/PlanHash when
// checkpoints were disabled for this run.
func auditRecord(ctx *Context) audit.Record {
	repairsJSON, _ := json.Marshal(ctx.DeterministicRepairs)
	r := audit.Record{
		RequestID:                ctx.RequestID,
		DeterministicRepairsJSON: repairsJSON,
		RepairCounters:           ctx.RepairTrace,
		Valid:                    ctx.Validation.Valid,
	}
	for _, v := range ctx.Validation.Violations {
		r.Violations = append(r.Violations, string(v))
	}
	if ctx.Checkpoint != nil {
		r.PlanID = ctx.Checkpoint.PlanID
		r.PlanHash = ctx.Checkpoint.PlanHash
		r.ModelID = ctx.Checkpoint.ModelID
		r.PromptVersion = ctx.Checkpoint.PromptVersion
		r.ConfidenceOverall = ctx.Checkpoint.Confidence.Overall
		r.ConfidenceStructure = ctx.Checkpoint.Confidence.Structure
		r.ConfidenceParameters = ctx.Checkpoint.Confidence.Parameters
	}
	return r
}

// stageParse calls the model collaborator to turn the decision brief
// into a raw graph draft. It never touches ctx.Graph directly — that is
// normalise's job — only the LLM's raw JSON output and its metadata.
func (o *Orchestrator) stageParse(ctx *Context) error {
	if ctx.Input == "" {
		ctx.EarlyReturn = &EarlyReturn{StatusCode: 400, Body: map[string]any{"error": "empty brief"}}
		return nil
	}
	draft, err := o.Provider.Draft(context.Background(), ctx.Input)
	if err != nil {
		return err
	}
	ctx.LLMMeta = draft
	return nil
}

func stageNormalise(_ *Orchestrator, ctx *Context) error {
	var raw normalize.RawGraph
	if ctx.LLMMeta.RawGraphJSON != "" {
		if err := json.Unmarshal([]byte(ctx.LLMMeta.RawGraphJSON), &raw); err != nil {
			return err
		}
	}
	g, _ := normalize.Normalize(raw)
	ctx.Graph = g
	return nil
}

// stageEnrich is the sole place rationales and the plan-annotation
// checkpoint are computed, strictly after normalise so confidence can
// be measured against the canonical graph. It never re-invokes the
// model.
func stageEnrich(_ *Orchestrator, ctx *Context) error {
	ctx.Rationales = ctx.LLMMeta.Rationales

	if ctx.Opts.CheckpointsEnabled {
		ctx.Checkpoint = buildCheckpoint(ctx)
	}
	return nil
}

func stageRepair(_ *Orchestrator, ctx *Context) error {
	guards.Apply(ctx.Graph, ctx.Opts.Limits)
	tr := repair.Run(ctx.Graph, ctx.Opts.Limits)
	ctx.repairTrace = tr
	ctx.DeterministicRepairs = tr.Records
	ctx.RepairTrace = tr.Counters
	return nil
}

// stageThresholdSweepSafe runs Stage 4b in isolation: if it panics, the
// orchestrator recovers, logs cee.threshold_sweep.failed, and leaves
// deterministicRepairs/repairTrace exactly as the repair stage left
// them so package/boundary still see valid data. No other stage has
// this recovery wrapper.
func stageThresholdSweepSafe(_ *Orchestrator, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", "cee.threshold_sweep.failed").Msg("threshold sweep failed")
			err = nil
		}
	}()
	if ctx.repairTrace == nil {
		return nil
	}
	repair.SweepThresholds(ctx.Graph, ctx.repairTrace)
	ctx.DeterministicRepairs = ctx.repairTrace.Records
	ctx.RepairTrace = ctx.repairTrace.Counters
	return nil
}

func stagePackage(_ *Orchestrator, ctx *Context) error {
	res := validate.Validate(ctx.Graph, ctx.Opts.Limits)
	ctx.Validation = res

	ctx.FinalResponse = map[string]any{
		"request_id":          ctx.RequestID,
		"graph":               ctx.Graph,
		"valid":               res.Valid,
		"violations":          res.Violations,
		"goal_number_factors": res.GoalNumberFactors,
		"trace": map[string]any{
			"repair_summary": map[string]any{
				"deterministic_repairs": ctx.DeterministicRepairs,
				"counters":              ctx.RepairTrace,
			},
		},
	}
	if ctx.Checkpoint != nil {
		ctx.FinalResponse["checkpoint"] = ctx.Checkpoint
	}
	return nil
}

func stageBoundary(_ *Orchestrator, ctx *Context) error {
	ctx.FinalResponse["payload_hash"] = boundary.CanonicalHash(ctx.FinalResponse)
	return nil
}

// buildCheckpoint computes the post-enrich plan-annotation checkpoint.
func buildCheckpoint(ctx *Context) *Checkpoint {
	return &Checkpoint{
		PlanID:           uuid.NewString(),
		PlanHash:         contentHash(ctx.Input, ctx.LLMMeta.RawGraphJSON),
		Stage3Rationales: ctx.Rationales,
		Confidence:       confidenceForGraph(ctx.Graph),
		ContextHash:      contentHash(ctx.Input),
		ModelID:          ctx.LLMMeta.ModelID,
		PromptVersion:    ctx.LLMMeta.PromptVer,
		OpenQuestions:    ctx.LLMMeta.OpenQuestions,
	}
}

func contentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// confidenceForGraph derives structure/parameter confidence from a
// graph: structure confidence is the fraction of nodes touched by any
// edge, and parameter confidence is the fraction of edges carrying a
// strength_mean.
func confidenceForGraph(g *graph.Graph) Confidence {
	if g == nil || len(g.Nodes) == 0 {
		return Confidence{}
	}
	touched := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		touched[e.From] = true
		touched[e.To] = true
	}
	structure := float64(len(touched)) / float64(len(g.Nodes))

	var withStrength int
	for _, e := range g.Edges {
		if e.StrengthMean != nil {
			withStrength++
		}
	}
	parameters := 0.0
	if len(g.Edges) > 0 {
		parameters = float64(withStrength) / float64(len(g.Edges))
	}

	overall := (structure + parameters) / 2
	return Confidence{Overall: overall, Structure: structure, Parameters: parameters}
}
