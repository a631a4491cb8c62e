// Package manuals indexes equipment manuals into an embedded vector
// store and answers document-search queries against them.
package manuals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	// topK is how many passages a search returns.
	topK = 3

	// previewLen bounds each passage excerpt in the result text.
	previewLen = 200

	// chunkLen is the target passage size when splitting a manual.
	chunkLen = 800
)

// NoResults is returned when no indexed passage matches a query.
const NoResults = "No relevant information found."

// Config configures the manual store.
type Config struct {
	// Path is the persistence directory. Empty means in-memory.
	Path string

	// Collection is the chromem collection name.
	Collection string

	// Embedding produces the vector for a passage or query.
	Embedding chromem.EmbeddingFunc
}

// Store holds the indexed manual passages.
type Store struct {
	db     *chromem.DB
	col    *chromem.Collection
	logger *zap.Logger
}

// New opens the store and its collection. A nil logger disables
// logging; a nil embedding function falls back to the deterministic
// local embedder.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "equipment_manuals"
	}
	if cfg.Embedding == nil {
		cfg.Embedding = NewHashEmbedding()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("creating manual store directory %s: %w", cfg.Path, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, true)
		if err != nil {
			return nil, fmt.Errorf("creating manual store: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", cfg.Collection, err)
	}

	logger.Info("manual store opened",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("passages", col.Count()))
	return &Store{db: db, col: col, logger: logger}, nil
}

// Passage is one indexable slice of a manual.
type Passage struct {
	ID      string
	Source  string
	Content string
}

// Index adds passages to the collection, replacing any passage with the
// same id.
func (s *Store) Index(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(passages))
	for i, p := range passages {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", p.Source, i)
		}
		docs[i] = chromem.Document{
			ID:       id,
			Content:  p.Content,
			Metadata: map[string]string{"source": p.Source},
		}
	}
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("indexing manual passages: %w", err)
	}
	s.logger.Debug("indexed manual passages", zap.Int("count", len(passages)))
	return nil
}

// IndexDir indexes every .txt and .md file under dir, one file per
// manual, split into paragraph-aligned passages.
func (s *Store) IndexDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading manuals directory %s: %w", dir, err)
	}

	var passages []Passage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return 0, fmt.Errorf("reading manual %s: %w", e.Name(), err)
		}
		source := strings.TrimSuffix(e.Name(), ext)
		for i, chunk := range splitPassages(string(content), chunkLen) {
			passages = append(passages, Passage{
				ID:      fmt.Sprintf("%s#%d", source, i),
				Source:  source,
				Content: chunk,
			})
		}
	}
	if len(passages) == 0 {
		return 0, nil
	}
	if err := s.Index(ctx, passages); err != nil {
		return 0, err
	}
	return len(passages), nil
}

// Count reports the number of indexed passages.
func (s *Store) Count() int {
	return s.col.Count()
}

// Search finds the passages most similar to the query and formats them
// as excerpt plus source attribution. It returns NoResults when the
// index is empty or nothing matches.
func (s *Store) Search(ctx context.Context, query string) (string, error) {
	k := topK
	if n := s.col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return NoResults, nil
	}

	results, err := s.col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return "", fmt.Errorf("searching manuals: %w", err)
	}
	if len(results) == 0 {
		return NoResults, nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		excerpt := strings.TrimSpace(r.Content)
		if len(excerpt) > previewLen {
			cut := previewLen
			for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
				cut--
			}
			excerpt = excerpt[:cut] + "..."
		}
		source := r.Metadata["source"]
		if source == "" {
			source = r.ID
		}
		fmt.Fprintf(&b, "%s\n(Source: %s)", excerpt, source)
	}
	return b.String(), nil
}

// splitPassages splits text on blank lines and packs paragraphs into
// chunks of roughly the target size.
func splitPassages(text string, target int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > target {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}
