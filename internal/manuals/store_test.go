package manuals

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Collection: "test_manuals"}, nil)
	require.NoError(t, err)
	return s
}

func TestSearch_EmptyIndex(t *testing.T) {
	s := testStore(t)
	out, err := s.Search(context.Background(), "overpressure procedure")
	require.NoError(t, err)
	assert.Equal(t, NoResults, out)
}

func TestIndexAndSearch(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Index(context.Background(), []Passage{
		{Source: "filler_manual", Content: "Overpressure events above 85 psi require relieving the head pressure valve and inspecting the fill nozzles for blockage."},
		{Source: "capper_manual", Content: "Torque calibration for the capper head is performed monthly using the reference cap set."},
		{Source: "labeler_manual", Content: "Label skew is corrected by aligning the web guide and checking the drive roller tension."},
	}))
	assert.Equal(t, 3, s.Count())

	out, err := s.Search(context.Background(), "overpressure head pressure valve")
	require.NoError(t, err)
	assert.Contains(t, out, "(Source: filler_manual)")
	assert.Contains(t, out, "relieving the head pressure valve")
}

func TestSearch_TruncatesLongPassages(t *testing.T) {
	s := testStore(t)
	long := strings.Repeat("pressure relief valve inspection ", 20)
	require.NoError(t, s.Index(context.Background(), []Passage{
		{Source: "filler_manual", Content: long},
	}))

	out, err := s.Search(context.Background(), "pressure relief valve")
	require.NoError(t, err)
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "(Source: filler_manual)")
	// Excerpt is bounded, attribution excluded.
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "(Source:") {
			continue
		}
		assert.LessOrEqual(t, len(line), previewLen+3)
	}
}

func TestSearch_TruncatesAtRuneBoundary(t *testing.T) {
	s := testStore(t)
	long := strings.Repeat("高温警報 ", 25)
	require.NoError(t, s.Index(context.Background(), []Passage{
		{Source: "filler_manual_ja", Content: long},
	}))

	out, err := s.Search(context.Background(), "高温警報")
	require.NoError(t, err)
	assert.Contains(t, out, "...")
	assert.True(t, utf8.ValidString(out), "excerpt must not split a multi-byte rune")
}

func TestIndexDir(t *testing.T) {
	dir := t.TempDir()
	manual := "Filler overview.\n\nOverpressure: relieve the head valve.\n\nRoutine care: grease the cam weekly."
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filler_manual.txt"), []byte(manual), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("ignored"), 0644))

	s := testStore(t)
	n, err := s.IndexDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Equal(t, n, s.Count())

	out, err := s.Search(context.Background(), "overpressure head valve")
	require.NoError(t, err)
	assert.Contains(t, out, "(Source: filler_manual)")
}

func TestSplitPassages(t *testing.T) {
	text := "para one.\n\npara two.\n\npara three."
	chunks := splitPassages(text, 15)
	require.Len(t, chunks, 3)
	assert.Equal(t, "para one.", chunks[0])

	// Small paragraphs pack together under a large target.
	chunks = splitPassages(text, 1000)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "para one.")
	assert.Contains(t, chunks[0], "para three.")
}

func TestHashEmbedding_DeterministicAndNormalized(t *testing.T) {
	embed := NewHashEmbedding()
	a, err := embed(context.Background(), "pressure relief valve")
	require.NoError(t, err)
	b, err := embed(context.Background(), "pressure relief valve")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}
