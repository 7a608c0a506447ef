// Package audit optionally persists a request's plan-annotation
// checkpoint and final repair trace to Postgres via bun, for later
// inspection. Disabled by default; when disabled the orchestrator runs
// identically but skips the write.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store persists completed request checkpoints.
type Store struct {
	db *bun.DB
}

// NewStore opens a bun-backed Postgres connection. Callers only
// construct one when CEE_AUDIT_ENABLED is true.
func NewStore(dsn string) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &Store{db: bun.NewDB(sqldb, pgdialect.New())}
}

// InitSchema creates the checkpoint table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*CheckpointModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

// CheckpointModel is the durable row for one completed request.
type CheckpointModel struct {
	bun.BaseModel `bun:"table:plan_checkpoints,alias:pc"`

	ID                  uuid.UUID      `bun:"id,pk"`
	RequestID            string         `bun:"request_id"`
	PlanID              string         `bun:"plan_id"`
	PlanHash            string         `bun:"plan_hash"`
	ModelID             string         `bun:"model_id"`
	PromptVersion       string         `bun:"prompt_version"`
	ConfidenceOverall   float64        `bun:"confidence_overall"`
	ConfidenceStructure float64        `bun:"confidence_structure"`
	ConfidenceParams    float64        `bun:"confidence_parameters"`
	DeterministicRepairs []byte        `bun:"deterministic_repairs,type:jsonb"`
	RepairCounters      map[string]int `bun:"repair_counters,type:jsonb"`
	Valid               bool           `bun:"valid"`
	Violations          []string       `bun:"violations,type:jsonb"`
	CreatedAt           time.Time      `bun:"created_at"`
}

// Record is the orchestrator-facing shape of one request's checkpoint
// write, decoupled from pipeline.Context so this package never imports
// the orchestrator.
type Record struct {
	RequestID            string
	PlanID               string
	PlanHash             string
	ModelID              string
	PromptVersion        string
	ConfidenceOverall    float64
	ConfidenceStructure  float64
	ConfidenceParameters float64
	DeterministicRepairsJSON []byte
	RepairCounters       map[string]int
	Valid                bool
	Violations           []string
}

// Save writes one checkpoint row. Callers should treat a non-nil error
// as non-fatal to the request that produced it — audit is a side
// channel, never a gate on the response.
func (s *Store) Save(ctx context.Context, r Record) error {
	model := &CheckpointModel{
		ID:                   uuid.New(),
		RequestID:            r.RequestID,
		PlanID:               r.PlanID,
		PlanHash:             r.PlanHash,
		ModelID:              r.ModelID,
		PromptVersion:        r.PromptVersion,
		ConfidenceOverall:    r.ConfidenceOverall,
		ConfidenceStructure:  r.ConfidenceStructure,
		ConfidenceParams:     r.ConfidenceParameters,
		DeterministicRepairs: r.DeterministicRepairsJSON,
		RepairCounters:       r.RepairCounters,
		Valid:                r.Valid,
		Violations:           r.Violations,
		CreatedAt:            time.Now(),
	}
	_, err := s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

// GetByRequestID looks up a previously persisted checkpoint.
func (s *Store) GetByRequestID(ctx context.Context, requestID string) (*CheckpointModel, error) {
	model := new(CheckpointModel)
	err := s.db.NewSelect().Model(model).Where("request_id = ?", requestID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
