package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHistoryFileContents_StructuredFormat(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"session_meta","payload":{"id":"sess-1","cwd":"/home/dev/myproj"}}`,
		`{"type":"event_msg","payload":{"type":"user_message","message":"fix the bug"},"ts":100}`,
		`{"type":"response_item","payload":{"role":"assistant","phase":"commentary","content":[{"type":"output_text","text":"looking into it"}]},"ts":101}`,
		`{"type":"response_item","payload":{"role":"assistant","phase":"final_answer","content":[{"type":"output_text","text":"fixed it"}]},"ts":102}`,
		`not json at all`,
		`{"type":"response_item","payload":{"role":"assistant","phase":"final_answer","content":[]}}`, // no output_text, dropped
	}, "\n")

	recs := ParseHistoryFileContents(strings.NewReader(input))

	require.Len(t, recs, 3)
	assert.Equal(t, "sess-1", recs[0].SessionID)
	assert.Equal(t, "/home/dev/myproj", recs[0].Cwd)
	assert.Equal(t, "user", recs[0].Role)
	assert.Equal(t, "fix the bug", recs[0].Text)

	assert.Equal(t, "commentary", recs[1].Phase)
	assert.Equal(t, "final_answer", recs[2].Phase)
	assert.Equal(t, "fixed it", recs[2].Text)
	// session metadata carries forward to later lines.
	assert.Equal(t, "sess-1", recs[2].SessionID)
	assert.Equal(t, "/home/dev/myproj", recs[2].Cwd)
}

func TestParseHistoryFileContents_LegacyFlatFormat(t *testing.T) {
	input := `{"session_id":"abc","ts":42,"text":"hello there"}`
	recs := ParseHistoryFileContents(strings.NewReader(input))

	require.Len(t, recs, 1)
	assert.Equal(t, "abc", recs[0].SessionID)
	assert.Equal(t, "hello there", recs[0].Text)
	assert.Equal(t, "user", recs[0].Role)
	assert.EqualValues(t, 42, recs[0].TimestampEpoch)
}

func TestIsSystemLine(t *testing.T) {
	assert.True(t, isSystemLine("⚠ something went wrong"))
	assert.True(t, isSystemLine("[experimental] feature flag enabled"))
	assert.True(t, isSystemLine("the MCP server timed out waiting for a response"))
	assert.False(t, isSystemLine("a perfectly normal message"))
}

func TestSelectRecordsForIngestion_FiltersAndOrders(t *testing.T) {
	recs := []Record{
		{LineNumber: 3, Text: "third", TimestampEpoch: 30},
		{LineNumber: 1, Text: "first", TimestampEpoch: 10},
		{LineNumber: 2, Text: "   ", TimestampEpoch: 20},    // empty after trim, dropped
		{LineNumber: 4, Text: "⚠ noisy", TimestampEpoch: 40}, // system line, dropped by default
		{LineNumber: 5, Text: "old", TimestampEpoch: 5},      // before since_ts
	}

	out := SelectRecordsForIngestion(recs, SelectionParams{SinceTs: 10})
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Text)
	assert.Equal(t, "third", out[1].Text)
}

func TestSelectRecordsForIngestion_ChecckpointExcludesAlreadyProcessed(t *testing.T) {
	recs := []Record{
		{LineNumber: 1, Text: "a"},
		{LineNumber: 2, Text: "b"},
		{LineNumber: 3, Text: "c"},
	}
	out := SelectRecordsForIngestion(recs, SelectionParams{LastProcessedLine: 2})
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].Text)
}

func TestSelectRecordsForIngestion_IncludeSystemKeepsSystemLines(t *testing.T) {
	recs := []Record{{LineNumber: 1, Text: "⚠ noisy"}}
	out := SelectRecordsForIngestion(recs, SelectionParams{IncludeSystem: true})
	require.Len(t, out, 1)
}

func TestSelectRecordsForIngestion_LimitIsPrefixOfUnlimited(t *testing.T) {
	recs := []Record{
		{LineNumber: 1, Text: "a"},
		{LineNumber: 2, Text: "b"},
		{LineNumber: 3, Text: "c"},
	}
	unlimited := SelectRecordsForIngestion(recs, SelectionParams{})
	limited := SelectRecordsForIngestion(recs, SelectionParams{Limit: 2})

	require.Len(t, limited, 2)
	for i := range limited {
		assert.Equal(t, unlimited[i], limited[i])
	}
}
