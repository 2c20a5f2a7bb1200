package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/apierr"
	"memoryd/internal/llm"
)

func TestIsFallbackEligible_KindMatrix(t *testing.T) {
	cases := []struct {
		kind     apierr.Kind
		eligible bool
	}{
		{apierr.KindValidation, false},
		{apierr.KindCancelled, false},
		{apierr.KindFatal, false},
		{apierr.KindNotFound, false},
		{apierr.KindParse, false},
		{apierr.KindRateLimited, true},
		{apierr.KindUpstream, true},
		{apierr.KindNetwork, true},
		{apierr.KindTimeout, true},
		{apierr.KindProviderEmpty, true},
	}
	for _, c := range cases {
		err := apierr.New(c.kind, "boom", nil)
		assert.Equal(t, c.eligible, isFallbackEligible(err), "kind %v", c.kind)
	}
}

func TestIsFallbackEligible_UnclassifiedErrorIsTreatedAsTransient(t *testing.T) {
	assert.True(t, isFallbackEligible(errors.New("some opaque error")))
}

// fakeNamedProvider is a minimal namedProvider for Chain tests.
type fakeNamedProvider struct {
	name string
	resp llm.Message
	err  error
}

func (f *fakeNamedProvider) Name() string { return f.name }
func (f *fakeNamedProvider) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return f.resp, nil
}

func TestChain_Chat_FallsBackOnEligibleError(t *testing.T) {
	primary := &fakeNamedProvider{name: "primary", err: apierr.New(apierr.KindNetwork, "down", nil)}
	secondary := &fakeNamedProvider{name: "secondary", resp: llm.Message{Content: "ok"}}
	c := &Chain{providers: []namedProvider{primary, secondary}}

	msg, err := c.Chat(context.Background(), nil, "model")
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
}

func TestChain_Chat_StopsOnNonEligibleError(t *testing.T) {
	primary := &fakeNamedProvider{name: "primary", err: apierr.New(apierr.KindValidation, "bad request", nil)}
	secondary := &fakeNamedProvider{name: "secondary", resp: llm.Message{Content: "should not be reached"}}
	c := &Chain{providers: []namedProvider{primary, secondary}}

	_, err := c.Chat(context.Background(), nil, "model")
	require.Error(t, err)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.KindValidation, ae.Kind)
}

func TestChain_Chat_ReturnsLastErrorWhenAllProvidersFail(t *testing.T) {
	primary := &fakeNamedProvider{name: "primary", err: apierr.New(apierr.KindNetwork, "down1", nil)}
	secondary := &fakeNamedProvider{name: "secondary", err: apierr.New(apierr.KindUpstream, "down2", nil)}
	c := &Chain{providers: []namedProvider{primary, secondary}}

	_, err := c.Chat(context.Background(), nil, "model")
	require.Error(t, err)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.KindUpstream, ae.Kind)
}

func TestBuildChain_OffPolicyNeverAddsFallback(t *testing.T) {
	primary := &fakeNamedProvider{name: "primary"}
	cli := &cliLike{fakeNamedProvider: fakeNamedProvider{name: "cli"}, available: true}
	hosted := &fakeNamedProvider{name: "hosted"}

	c := BuildChain(FallbackOff, primary, cli, hosted)
	assert.Len(t, c.providers, 1)
}

func TestBuildChain_AutoPrefersAvailableCLIOverHosted(t *testing.T) {
	primary := &fakeNamedProvider{name: "primary"}
	cli := &cliLike{fakeNamedProvider: fakeNamedProvider{name: "cli"}, available: true}
	hosted := &fakeNamedProvider{name: "hosted"}

	c := BuildChain(FallbackAuto, primary, cli, hosted)
	require.Len(t, c.providers, 2)
	assert.Equal(t, "cli", c.providers[1].Name())
}

func TestBuildChain_AutoFallsBackToHostedWhenCLIUnavailable(t *testing.T) {
	primary := &fakeNamedProvider{name: "primary"}
	cli := &cliLike{fakeNamedProvider: fakeNamedProvider{name: "cli"}, available: false}
	hosted := &fakeNamedProvider{name: "hosted"}

	c := BuildChain(FallbackAuto, primary, cli, hosted)
	require.Len(t, c.providers, 2)
	assert.Equal(t, "hosted", c.providers[1].Name())
}

func TestBuildChain_CodexPolicyPinsCLIProvider(t *testing.T) {
	primary := &fakeNamedProvider{name: "primary"}
	cli := &cliLike{fakeNamedProvider: fakeNamedProvider{name: "cli"}, available: false}
	hosted := &fakeNamedProvider{name: "hosted"}

	c := BuildChain(FallbackCodex, primary, cli, hosted)
	require.Len(t, c.providers, 2)
	assert.Equal(t, "cli", c.providers[1].Name())
}

// cliLike adds the Available() method BuildChain's cliProvider parameter requires.
type cliLike struct {
	fakeNamedProvider
	available bool
}

func (c *cliLike) Available() bool { return c.available }
