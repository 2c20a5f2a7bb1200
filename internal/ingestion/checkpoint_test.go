package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCheckpointStore_MissingFileStartsAtZero(t *testing.T) {
	dir := t.TempDir()
	cs, err := LoadCheckpointStore(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, cs.LastProcessedLine("/some/file.jsonl"))
}

func TestCheckpointStore_AdvancePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	cs, err := LoadCheckpointStore(dir)
	require.NoError(t, err)

	require.NoError(t, cs.Advance("/a.jsonl", 10))
	assert.Equal(t, 10, cs.LastProcessedLine("/a.jsonl"))

	reloaded, err := LoadCheckpointStore(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.LastProcessedLine("/a.jsonl"))
}

func TestCheckpointStore_AdvanceNeverGoesBackward(t *testing.T) {
	dir := t.TempDir()
	cs, err := LoadCheckpointStore(dir)
	require.NoError(t, err)

	require.NoError(t, cs.Advance("/a.jsonl", 10))
	require.NoError(t, cs.Advance("/a.jsonl", 5))
	assert.Equal(t, 10, cs.LastProcessedLine("/a.jsonl"))
}

func TestLoadCheckpointStore_MigratesLegacySingleFileCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, checkpointFileName)
	legacy := `{"legacyFile":"/old/transcript.jsonl","legacyLine":7}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	cs, err := LoadCheckpointStore(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cs.LastProcessedLine("/old/transcript.jsonl"))
}

func TestLoadCheckpointStore_LegacyDoesNotOverrideExistingMapEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, checkpointFileName)
	// A legacy mirror pointing at a file that already has a (newer) map entry
	// must not clobber it.
	doc := `{"fileCheckpoints":{"/old/transcript.jsonl":20},"legacyFile":"/old/transcript.jsonl","legacyLine":7}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cs, err := LoadCheckpointStore(dir)
	require.NoError(t, err)
	assert.Equal(t, 20, cs.LastProcessedLine("/old/transcript.jsonl"))
}
