package plan

import "strings"

// Vocabulary for deterministic tool classification. Sensor terms mirror
// the metric names and symptoms the sensor service indexes; document
// terms mirror the procedural language of technical manuals.
var (
	sensorTerms = []string{
		"sensor", "pressure", "psi", "temperature", "temp", "celsius",
		"vibration", "hz", "rpm", "rotation", "load", "kw", "power",
		"reading", "readings", "data", "measurement", "metric",
		"error code", "alarm", "current value", "historical",
	}

	documentTerms = []string{
		"manual", "procedure", "procedures", "troubleshoot",
		"troubleshooting", "repair", "fix", "guide", "instructions",
		"steps to", "safety", "maintenance", "protocol", "how to",
		"documentation", "lookup", "look up",
	}
)

// Classify maps a step description to a tool kind using keyword
// vocabulary. Ties resolve to the sensor service; when neither
// vocabulary fires the step falls through to document search.
func Classify(description string) ToolKind {
	if tool, ok := ClassifyStrict(description); ok {
		return tool
	}
	return ToolDocumentSearch
}

// ClassifyStrict is Classify without the fallback: ok is false when no
// vocabulary matched at all. Callers merging feedback use this to leave
// the original tool kind untouched on neutral text.
func ClassifyStrict(description string) (ToolKind, bool) {
	text := strings.ToLower(description)
	sensor := containsAny(text, sensorTerms)
	document := containsAny(text, documentTerms)
	switch {
	case sensor:
		// Sensor wins ties.
		return ToolSensorQuery, true
	case document:
		return ToolDocumentSearch, true
	default:
		return "", false
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
