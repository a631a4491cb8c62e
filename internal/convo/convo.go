// Package convo retains completed conversation turns and derives the
// context injected into planning requests for follow-up queries.
//
// Selection combines recency (linear decay over the retention window)
// with lexical overlap against the new query, so "what about the
// temperature data from my last query" pulls in the turn that actually
// discussed temperature. Context for turn N is built strictly from turns
// 1..N-1: a turn becomes visible only after Append.
package convo

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// DefaultRetention is the number of completed turns kept per session.
	DefaultRetention = 10

	// DefaultTopK is the number of prior turns folded into new context.
	DefaultTopK = 3

	// reportPreviewLen bounds how much of a prior report is injected.
	reportPreviewLen = 500
)

// Turn is one completed query/report exchange. Never mutated after
// Append.
type Turn struct {
	Number    int       `json:"number"`
	Query     string    `json:"query"`
	Report    string    `json:"report"`
	Entities  []string  `json:"entities,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns the turn history for one session.
type Manager struct {
	mu        sync.RWMutex
	retention int
	topK      int
	turns     []Turn
	logger    *zap.Logger
}

// NewManager creates a manager with the given retention limit and
// context fan-in. Non-positive values fall back to defaults.
func NewManager(retention, topK int, logger *zap.Logger) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{retention: retention, topK: topK, logger: logger}
}

// NextTurnNumber returns the number the next appended turn will receive.
func (m *Manager) NextTurnNumber() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.turns) == 0 {
		return 1
	}
	return m.turns[len(m.turns)-1].Number + 1
}

// Append records a completed turn, discarding the oldest entry beyond
// the retention limit. Returns the stored turn.
func (m *Manager) Append(query, report string) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	number := 1
	if len(m.turns) > 0 {
		number = m.turns[len(m.turns)-1].Number + 1
	}
	turn := Turn{
		Number:    number,
		Query:     query,
		Report:    report,
		Entities:  ExtractEntities(query + " " + report),
		CreatedAt: time.Now(),
	}
	m.turns = append(m.turns, turn)
	if len(m.turns) > m.retention {
		m.turns = m.turns[len(m.turns)-m.retention:]
	}

	m.logger.Debug("conversation turn appended",
		zap.Int("turn", turn.Number),
		zap.Int("retained", len(m.turns)),
		zap.Strings("entities", turn.Entities),
	)
	return turn
}

// History returns a copy of the retained turns in order.
func (m *Manager) History() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Context builds the planning context for a new query from the retained
// history. Returns "" on the first turn.
func (m *Manager) Context(query string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.turns) == 0 {
		return ""
	}

	selected := m.selectRelevant(query)

	var b strings.Builder
	b.WriteString("Previous conversation context:\n")
	for _, t := range selected {
		fmt.Fprintf(&b, "Turn %d query: %s\n", t.Number, t.Query)
		if len(t.Entities) > 0 {
			fmt.Fprintf(&b, "Key entities: %s\n", strings.Join(t.Entities, ", "))
		}
		fmt.Fprintf(&b, "Findings: %s\n", preview(t.Report, reportPreviewLen))
	}
	fmt.Fprintf(&b, "\nCurrent query: %s", query)
	return b.String()
}

type scoredTurn struct {
	turn  Turn
	score float64
}

// selectRelevant picks the top-K turns by combined recency and lexical
// overlap, returned in chronological order. Caller holds the read lock.
func (m *Manager) selectRelevant(query string) []Turn {
	queryTokens := tokenize(query)
	latest := m.turns[len(m.turns)-1].Number

	scored := make([]scoredTurn, 0, len(m.turns))
	for _, t := range m.turns {
		distance := latest - t.Number // 0 for the most recent turn
		recency := 1.0 - float64(distance)/float64(m.retention)
		if recency < 0 {
			recency = 0
		}
		overlap := overlapScore(queryTokens, t)
		scored = append(scored, scoredTurn{turn: t, score: 0.5*recency + 0.5*overlap})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].turn.Number > scored[j].turn.Number
	})

	k := m.topK
	if k > len(scored) {
		k = len(scored)
	}
	picked := scored[:k]
	sort.Slice(picked, func(i, j int) bool {
		return picked[i].turn.Number < picked[j].turn.Number
	})

	out := make([]Turn, len(picked))
	for i, s := range picked {
		out[i] = s.turn
	}
	return out
}

// overlapScore is the fraction of query tokens also present in the
// turn's query or entities.
func overlapScore(queryTokens map[string]struct{}, t Turn) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	turnTokens := tokenize(t.Query + " " + strings.Join(t.Entities, " "))
	hits := 0
	for tok := range queryTokens {
		if _, ok := turnTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// stopwords excluded from overlap scoring.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {},
	"what": {}, "how": {}, "why": {}, "do": {}, "i": {}, "my": {},
	"in": {}, "on": {}, "of": {}, "to": {}, "and": {}, "or": {},
	"it": {}, "this": {}, "that": {}, "for": {}, "with": {},
	"please": {}, "help": {}, "me": {}, "very": {}, "about": {},
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:()\"'")
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

func preview(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	// Back up to a rune boundary so a multi-byte character is never
	// split.
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}
