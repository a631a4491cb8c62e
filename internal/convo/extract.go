package convo

import (
	"regexp"
	"sort"
	"strings"
)

// Patterns for salient entity extraction from queries and reports.
var (
	// Equipment identifiers like Filler_01, Packer_04.
	machinePattern = regexp.MustCompile(`\b[A-Z][A-Za-z]+_\d+\b`)

	// Error codes like ERR_PRESSURE_LOW_503.
	errorCodePattern = regexp.MustCompile(`\bERR_[A-Z_]+_?\d*\b`)
)

// domainTerms are diagnostic vocabulary worth carrying between turns.
var domainTerms = []string{
	"pressure", "temperature", "vibration", "rpm", "load",
	"leak", "overheat", "alarm", "fault", "anomaly",
	"maintenance", "repair", "safety", "shutdown",
}

// ExtractEntities pulls equipment names, error codes, and domain terms
// out of free text, deduplicated and sorted for stable output.
func ExtractEntities(text string) []string {
	set := make(map[string]struct{})

	for _, m := range machinePattern.FindAllString(text, -1) {
		set[m] = struct{}{}
	}
	for _, m := range errorCodePattern.FindAllString(text, -1) {
		set[m] = struct{}{}
	}

	lower := strings.ToLower(text)
	for _, term := range domainTerms {
		if strings.Contains(lower, term) {
			set[term] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
