package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckpointModelCarriesRecordFields(t *testing.T) {
	r := Record{
		RequestID:            "req-1",
		PlanID:               "plan-1",
		PlanHash:             "abc123",
		ModelID:              "fixture",
		PromptVersion:        "v1",
		ConfidenceOverall:    0.8,
		ConfidenceStructure:  0.9,
		ConfidenceParameters: 0.7,
		RepairCounters:       map[string]int{"GOAL_NUMBER_AS_FACTOR": 1},
		Valid:                true,
		Violations:           nil,
	}

	model := &CheckpointModel{
		RequestID:           r.RequestID,
		PlanID:              r.PlanID,
		PlanHash:            r.PlanHash,
		ModelID:             r.ModelID,
		PromptVersion:       r.PromptVersion,
		ConfidenceOverall:   r.ConfidenceOverall,
		ConfidenceStructure: r.ConfidenceStructure,
		ConfidenceParams:    r.ConfidenceParameters,
		RepairCounters:      r.RepairCounters,
		Valid:               r.Valid,
		Violations:          r.Violations,
	}

	assert.Equal(t, "req-1", model.RequestID)
	assert.Equal(t, 1, model.RepairCounters["GOAL_NUMBER_AS_FACTOR"])
	assert.True(t, model.Valid)
}
