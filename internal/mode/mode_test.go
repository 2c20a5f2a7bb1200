package mode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_AllowsCanonicalObservationTypes(t *testing.T) {
	m := Default()
	for _, typ := range []string{"discovery", "bugfix", "feature", "refactor", "decision", "change"} {
		assert.True(t, m.AllowsObservationType(typ), "expected %q to be allowed", typ)
	}
	assert.False(t, m.AllowsObservationType("not-a-type"))
}

func TestLoad_MissingFileFallsBackToDefault(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), m)
}

func TestLoad_ReadsYAMLBundle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mode.yaml")
	contents := `
name: research
observationTypes: ["discovery", "decision"]
concepts: ["architecture"]
initPromptTemplate: "hello {{.Project}}"
observationPromptTemplate: "obs {{.ToolName}}"
summarizePromptTemplate: "sum {{.LastAssistantMessage}}"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "research", m.Name)
	assert.True(t, m.AllowsObservationType("decision"))
	assert.False(t, m.AllowsObservationType("bugfix"))
}
