package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

func TestParseResponse_JSON(t *testing.T) {
	raw := `{"steps": ["SCADA: Check pressure readings for Filler_01", "MANUAL: Find overpressure procedures"]}`
	specs, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, plan.ToolSensorQuery, specs[0].Tool)
	assert.Equal(t, "Check pressure readings for Filler_01", specs[0].Description)
	assert.Equal(t, plan.ToolDocumentSearch, specs[1].Tool)
}

func TestParseResponse_JSONWithSurroundingProse(t *testing.T) {
	raw := "Here is the plan:\n{\"steps\": [\"SCADA: Check rpm on Capper_01\"]}\nLet me know."
	specs, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, plan.ToolSensorQuery, specs[0].Tool)
}

func TestParseResponse_NumberedLines(t *testing.T) {
	raw := "1. SCADA: Check the pressure\n2. MANUAL: Find the repair guide\n"
	specs, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "Check the pressure", specs[0].Description)
	assert.Equal(t, "Find the repair guide", specs[1].Description)
}

func TestParseResponse_DropsAnalysisSteps(t *testing.T) {
	raw := "SCADA: Check the pressure\nAnalyze the results and determine root cause\nMANUAL: Find safety protocol"
	specs, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "Check the pressure", specs[0].Description)
	assert.Equal(t, "Find safety protocol", specs[1].Description)
}

func TestParseResponse_CapsSteps(t *testing.T) {
	raw := "SCADA: a pressure check\nSCADA: b rpm check\nMANUAL: c repair guide\nMANUAL: d safety guide"
	specs, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Len(t, specs, maxPlanSteps)
}

func TestParseResponse_AllAnalysis(t *testing.T) {
	_, err := ParseResponse("Analyze the data\nEvaluate the findings")
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestParseResponse_UntaggedLinesAreClassified(t *testing.T) {
	specs, err := ParseResponse("Check vibration sensor readings on the capper")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, plan.ToolSensorQuery, specs[0].Tool)
}
