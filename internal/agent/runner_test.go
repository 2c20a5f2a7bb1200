package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/llm"
	"memoryd/internal/mode"
	"memoryd/internal/persistence"
	"memoryd/internal/testhelpers"
)

func TestRunner_Drain_ObservationProducesStoredObservation(t *testing.T) {
	store := testhelpers.NewFakeStore(persistence.Session{SessionDBID: 1, ContentSessionID: "sess-1", Project: "proj"})

	reply := "<observation><type>bugfix</type><title>fixed it</title>" +
		"<narrative>found and fixed the bug</narrative></observation>"
	provider := &testhelpers.FakeProvider{Resp: llm.Message{Role: "assistant", Content: reply}}

	r := &Runner{Store: store, Provider: provider, Model: "test-model"}
	sess := NewSession(1, "sess-1", "", "proj", "fix the bug", mode.Default())

	payload, err := json.Marshal(ObservationPayload{ToolName: "edit", ToolResponse: "ok", Cwd: "/work"})
	require.NoError(t, err)
	_, err = store.Enqueue(t.Context(), 1, "sess-1", persistence.MessageObservation, payload, 1000, 10)
	require.NoError(t, err)

	require.NoError(t, r.Drain(t.Context(), sess))

	require.Len(t, store.Observations, 1)
	assert.Equal(t, "bugfix", store.Observations[0].Type)
	assert.Equal(t, "fixed it", store.Observations[0].Title)
	assert.NotEmpty(t, sess.MemorySessionID)
}

func TestRunner_Drain_UnparsableReplySynthesizesFallbackObservation(t *testing.T) {
	store := testhelpers.NewFakeStore(persistence.Session{SessionDBID: 1, ContentSessionID: "sess-1", Project: "proj"})
	provider := &testhelpers.FakeProvider{Resp: llm.Message{Role: "assistant", Content: "no tags here"}}

	r := &Runner{Store: store, Provider: provider, Model: "test-model"}
	sess := NewSession(1, "sess-1", "", "proj", "fix the bug", mode.Default())

	payload, err := json.Marshal(ObservationPayload{ToolName: "edit", ToolResponse: "ok", Cwd: "/work"})
	require.NoError(t, err)
	_, err = store.Enqueue(t.Context(), 1, "sess-1", persistence.MessageObservation, payload, 1000, 10)
	require.NoError(t, err)

	require.NoError(t, r.Drain(t.Context(), sess))

	require.Len(t, store.Observations, 1)
	assert.Contains(t, store.Observations[0].Title, "edit")
}

func TestRunner_Drain_SummarizeStoresSummary(t *testing.T) {
	store := testhelpers.NewFakeStore(persistence.Session{SessionDBID: 1, ContentSessionID: "sess-1", Project: "proj"})
	reply := "<summary><request>do it</request><investigated>code</investigated>" +
		"<learned>stuff</learned><completed>yes</completed><next_steps>none</next_steps><notes>n/a</notes></summary>"
	provider := &testhelpers.FakeProvider{Resp: llm.Message{Role: "assistant", Content: reply}}

	r := &Runner{Store: store, Provider: provider, Model: "test-model"}
	sess := NewSession(1, "sess-1", "", "proj", "fix the bug", mode.Default())

	payload, err := json.Marshal(SummarizePayload{LastAssistantMessage: "done"})
	require.NoError(t, err)
	_, err = store.Enqueue(t.Context(), 1, "sess-1", persistence.MessageSummarize, payload, 1000, 10)
	require.NoError(t, err)

	require.NoError(t, r.Drain(t.Context(), sess))

	require.Len(t, store.Summaries, 1)
	assert.Equal(t, "do it", store.Summaries[0].Request)
}

func TestRunner_Drain_ProviderErrorIsNonFatalAndQueueDrains(t *testing.T) {
	store := testhelpers.NewFakeStore(persistence.Session{SessionDBID: 1, ContentSessionID: "sess-1", Project: "proj"})
	provider := &testhelpers.FakeProvider{Err: assertError("boom")}

	r := &Runner{Store: store, Provider: provider, Model: "test-model"}
	sess := NewSession(1, "sess-1", "", "proj", "fix the bug", mode.Default())

	payload, err := json.Marshal(ObservationPayload{ToolName: "edit", ToolResponse: "ok", Cwd: "/work"})
	require.NoError(t, err)
	_, err = store.Enqueue(t.Context(), 1, "sess-1", persistence.MessageObservation, payload, 1000, 10)
	require.NoError(t, err)

	require.NoError(t, r.Drain(t.Context(), sess))
	assert.Empty(t, store.Observations)
}

type assertError string

func (e assertError) Error() string { return string(e) }
