package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObservations_SingleWellFormedBlock(t *testing.T) {
	text := `<observation>
<type>bugfix</type>
<title>fixed off-by-one</title>
<subtitle>loop bound</subtitle>
<narrative>the loop ran one iteration too many</narrative>
<fact>loop used <= instead of <</fact>
<fact>test added</fact>
<concept>indexing</concept>
<files_modified>main.go, util.go</files_modified>
<cwd>/home/dev/proj</cwd>
</observation>`

	res := ParseObservations(text, 100, "/fallback")
	require.Len(t, res.Observations, 1)
	assert.True(t, res.Productive)
	assert.Empty(t, res.Warnings)

	o := res.Observations[0]
	assert.Equal(t, "bugfix", o.Type)
	assert.Equal(t, "fixed off-by-one", o.Title)
	assert.Equal(t, "loop bound", o.Subtitle)
	assert.Len(t, o.Facts, 2)
	assert.Equal(t, []string{"indexing"}, o.Concepts)
	assert.Equal(t, []string{"main.go", "util.go"}, o.FilesModified)
	assert.Equal(t, "/home/dev/proj", o.Cwd)
	assert.EqualValues(t, 100, o.CreatedAtEpoch)
}

func TestParseObservations_MultipleBlocks(t *testing.T) {
	text := `<observation><title>one</title></observation><observation><title>two</title></observation>`
	res := ParseObservations(text, 1, "")
	require.Len(t, res.Observations, 2)
	assert.Equal(t, "one", res.Observations[0].Title)
	assert.Equal(t, "two", res.Observations[1].Title)
}

func TestParseObservations_InvalidEnumFallsBackToChange(t *testing.T) {
	text := `<observation><type>not-a-real-type</type><title>x</title></observation>`
	res := ParseObservations(text, 1, "")
	require.Len(t, res.Observations, 1)
	assert.Equal(t, "change", res.Observations[0].Type)
}

func TestParseObservations_MissingTypeDefaultsToChange(t *testing.T) {
	text := `<observation><title>no type given</title></observation>`
	res := ParseObservations(text, 1, "")
	require.Len(t, res.Observations, 1)
	assert.Equal(t, "change", res.Observations[0].Type)
}

func TestParseObservations_EmptyTitleAndNarrativeSkipsWithWarning(t *testing.T) {
	text := `<observation><type>change</type></observation>`
	res := ParseObservations(text, 1, "")
	assert.Empty(t, res.Observations)
	assert.False(t, res.Productive)
	require.Len(t, res.Warnings, 1)
}

func TestParseObservations_CwdFallsBackWhenTagAbsent(t *testing.T) {
	text := `<observation><title>x</title></observation>`
	res := ParseObservations(text, 1, "/fallback/dir")
	require.Len(t, res.Observations, 1)
	assert.Equal(t, "/fallback/dir", res.Observations[0].Cwd)
}

func TestParseObservations_NoBlocksIsEmptyNotNil(t *testing.T) {
	res := ParseObservations("just plain text, no tags", 1, "")
	assert.Empty(t, res.Observations)
	assert.False(t, res.Productive)
}

func TestParseSummary_WellFormedBlock(t *testing.T) {
	text := `<summary>
<request>fix the thing</request>
<investigated>the call site</investigated>
<learned>it was a race</learned>
<completed>added a mutex</completed>
<next_steps>add a regression test</next_steps>
<notes>nothing else notable</notes>
</summary>`

	s := ParseSummary(text, "initial prompt", 5)
	require.NotNil(t, s)
	assert.Equal(t, "fix the thing", s.Request)
	assert.Equal(t, "the call site", s.Investigated)
	assert.Equal(t, "it was a race", s.Learned)
	assert.Equal(t, "added a mutex", s.Completed)
	assert.Equal(t, "add a regression test", s.NextSteps)
	assert.EqualValues(t, 5, s.CreatedAtEpoch)
}

func TestParseSummary_MissingRequestFallsBackToInitialPrompt(t *testing.T) {
	text := `<summary><notes>some notes</notes></summary>`
	s := ParseSummary(text, "the original ask", 5)
	require.NotNil(t, s)
	assert.Equal(t, "the original ask", s.Request)
}

func TestParseSummary_NoBlockSynthesizesFallback(t *testing.T) {
	s := ParseSummary("free-form closing remarks with no tags", "original prompt", 9)
	require.NotNil(t, s)
	assert.Equal(t, "original prompt", s.Request)
	assert.Equal(t, "free-form closing remarks with no tags", s.Notes)
	assert.EqualValues(t, 9, s.CreatedAtEpoch)
}

func TestParseSummary_EmptyTextReturnsNil(t *testing.T) {
	s := ParseSummary("   ", "original prompt", 9)
	assert.Nil(t, s)
}

func TestSplitTokenUsage_SeventyThirtySplit(t *testing.T) {
	in, out := SplitTokenUsage(100)
	assert.Equal(t, 70, in)
	assert.Equal(t, 30, out)

	in, out = SplitTokenUsage(10)
	assert.Equal(t, 7, in)
	assert.Equal(t, 3, out)
	assert.Equal(t, 10, in+out)
}

func TestSplitTokenUsage_ZeroTotal(t *testing.T) {
	in, out := SplitTokenUsage(0)
	assert.Equal(t, 0, in)
	assert.Equal(t, 0, out)
}
