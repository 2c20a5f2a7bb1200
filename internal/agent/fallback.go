package agent

import (
	"context"

	"github.com/rs/zerolog/log"

	"memoryd/internal/apierr"
	"memoryd/internal/llm"
)

// FallbackPolicy selects the alternate provider when the primary fails on a
// fallback-eligible error, per spec.md §4.3/GLOSSARY.
type FallbackPolicy string

const (
	FallbackAuto  FallbackPolicy = "auto"
	FallbackOff   FallbackPolicy = "off"
	FallbackCodex FallbackPolicy = "codex"
	FallbackSDK   FallbackPolicy = "sdk"
)

// namedProvider is the minimal llm.Provider plus a display name, satisfied by
// every variant in internal/agent/provider.
type namedProvider interface {
	llm.Provider
	Name() string
}

// Chain is an ordered list of providers tried in sequence on a
// fallback-eligible error. Chain itself satisfies llm.Provider so the Runner
// can treat "one provider" and "a fallback chain" uniformly.
type Chain struct {
	policy    FallbackPolicy
	providers []namedProvider
}

// BuildChain orders providers per spec.md §4.3's auto policy: "auto prefers
// the CLI provider if available, else the hosted-chat provider"; "off"
// disables fallback entirely (primary only). codex/sdk keep the primary and
// pin the fallback to the CLI or hosted provider respectively, whether or
// not the CLI binary is available.
func BuildChain(policy FallbackPolicy, primary namedProvider, cliProvider interface {
	namedProvider
	Available() bool
}, hostedProvider namedProvider) *Chain {
	c := &Chain{policy: policy}
	c.providers = append(c.providers, primary)
	if policy == FallbackOff {
		return c
	}
	switch policy {
	case FallbackCodex:
		if cliProvider != nil && cliProvider != any(primary) {
			c.providers = append(c.providers, cliProvider)
		}
	case FallbackSDK:
		if hostedProvider != nil && hostedProvider != any(primary) {
			c.providers = append(c.providers, hostedProvider)
		}
	default: // auto
		if cliProvider != nil && cliProvider.Available() && cliProvider != any(primary) {
			c.providers = append(c.providers, cliProvider)
		} else if hostedProvider != nil && hostedProvider != any(primary) {
			c.providers = append(c.providers, hostedProvider)
		}
	}
	return c
}

// Chat runs the primary provider, and on a fallback-eligible error hands the
// same msgs (the session's shared conversation history) to the next
// provider in the chain, per spec.md §4.3 step 5.
func (c *Chain) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	var lastErr error
	for i, p := range c.providers {
		msg, err := p.Chat(ctx, msgs, model)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if i == len(c.providers)-1 {
			break
		}
		if !isFallbackEligible(err) {
			break
		}
		log.Warn().Err(err).Str("from_provider", p.Name()).Str("to_provider", c.providers[i+1].Name()).
			Msg("agent provider fallback engaged")
	}
	return llm.Message{}, lastErr
}

// isFallbackEligible matches spec.md §4.3's fallback-eligible error set:
// "network, 5xx, rate-limit, empty response on init".
func isFallbackEligible(err error) bool {
	ae, ok := err.(*apierr.Error)
	if !ok {
		return true // unclassified errors are treated as transient, conservatively
	}
	switch ae.Kind {
	case apierr.KindValidation, apierr.KindCancelled, apierr.KindFatal:
		return false
	default:
		return ae.Retryable() || ae.Kind == apierr.KindProviderEmpty
	}
}
