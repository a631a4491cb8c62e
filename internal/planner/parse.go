package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// maxPlanSteps caps how many steps a single planning call may yield.
const maxPlanSteps = 3

// analysisTerms mark steps that are not tool operations. The planner is
// only allowed to emit data-gathering steps; analysis belongs to
// synthesis.
var analysisTerms = []string{
	"analyze", "analysis", "compare", "comparison", "determine",
	"conclude", "synthesize", "synthesis", "evaluate", "assess",
	"correlate", "interpret", "root cause", "decide", "recommend",
}

// planPayload is the JSON shape an LLM planner responds with.
type planPayload struct {
	Steps []string `json:"steps"`
}

// ParseResponse turns raw planner output into validated step specs.
// Accepts a JSON object with a "steps" array, or plain lines. Steps
// without a recognized tool tag are classified by vocabulary; analysis
// steps are dropped. An empty result after validation is ErrEmptyPlan.
func ParseResponse(raw string) ([]plan.StepSpec, error) {
	lines := extractLines(raw)
	specs := make([]plan.StepSpec, 0, len(lines))

	for _, line := range lines {
		spec, ok := parseStepLine(line)
		if !ok {
			continue
		}
		specs = append(specs, spec)
		if len(specs) == maxPlanSteps {
			break
		}
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyPlan, truncate(raw, 120))
	}
	return specs, nil
}

// extractLines pulls candidate step strings out of the raw response.
func extractLines(raw string) []string {
	raw = strings.TrimSpace(raw)

	// JSON form first: {"steps": ["SCADA: ...", "MANUAL: ..."]}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			var payload planPayload
			if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err == nil && len(payload.Steps) > 0 {
				return payload.Steps
			}
		}
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseStepLine validates one candidate step. Returns ok=false for
// analysis steps and empty descriptions.
func parseStepLine(line string) (plan.StepSpec, bool) {
	tool, description := splitToolTag(line)
	description = strings.TrimSpace(description)
	if description == "" {
		return plan.StepSpec{}, false
	}

	lower := strings.ToLower(description)
	for _, term := range analysisTerms {
		if strings.Contains(lower, term) {
			return plan.StepSpec{}, false
		}
	}

	if tool == "" {
		tool = plan.Classify(description)
	}
	return plan.StepSpec{Description: description, Tool: tool}, true
}

// splitToolTag recognizes the planner's tool prefixes and maps them to
// tool kinds. The prefix is kept out of the description; classification
// and duplicate normalization work on the bare text.
func splitToolTag(line string) (plan.ToolKind, string) {
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "SCADA:"), strings.HasPrefix(upper, "SENSOR:"):
		return plan.ToolSensorQuery, line[strings.Index(line, ":")+1:]
	case strings.HasPrefix(upper, "MANUAL:"), strings.HasPrefix(upper, "DOCS:"):
		return plan.ToolDocumentSearch, line[strings.Index(line, ":")+1:]
	}
	return "", line
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
