package provider

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"memoryd/internal/apierr"
	"memoryd/internal/llm"
)

// Hosted wraps an llm.Provider (the Anthropic SDK client in practice) with
// the hosted-chat variant's two extras from spec.md §4.3: a rate limiter
// consulted before every call, and a single retry against a named fallback
// model on a model-not-found/bad-model error.
type Hosted struct {
	inner        llm.Provider
	model        string
	fallbackModel string
	limiter      RateWaiter
}

// RateWaiter is the subset of agent.RateLimiter Hosted depends on, kept as
// an interface here to avoid provider -> agent import cycle.
type RateWaiter interface {
	Wait(ctx context.Context, model string) error
}

func NewHosted(inner llm.Provider, model, fallbackModel string, limiter RateWaiter) *Hosted {
	return &Hosted{inner: inner, model: model, fallbackModel: fallbackModel, limiter: limiter}
}

func (h *Hosted) Name() string { return "hosted-chat" }

func (h *Hosted) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	if model == "" {
		model = h.model
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, model); err != nil {
			return llm.Message{}, apierr.New(apierr.KindCancelled, "rate limiter wait cancelled", err)
		}
	}
	msg, err := h.inner.Chat(ctx, msgs, model)
	if err != nil && h.fallbackModel != "" && h.fallbackModel != model && isBadModelError(err) {
		log.Warn().Err(err).Str("model", model).Str("fallback_model", h.fallbackModel).
			Msg("hosted provider retrying with fallback model")
		if h.limiter != nil {
			if werr := h.limiter.Wait(ctx, h.fallbackModel); werr != nil {
				return llm.Message{}, apierr.New(apierr.KindCancelled, "rate limiter wait cancelled", werr)
			}
		}
		return h.inner.Chat(ctx, msgs, h.fallbackModel)
	}
	return msg, classifyHTTPError(err)
}

// isBadModelError recognises the narrow class of errors spec.md §4.3 says
// should trigger exactly one retry against the named fallback model:
// model-not-found or otherwise-rejected model name.
func isBadModelError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "model") && (strings.Contains(msg, "not_found") ||
		strings.Contains(msg, "not found") || strings.Contains(msg, "invalid") || strings.Contains(msg, "does not exist"))
}

// classifyHTTPError maps a raw provider error into the apierr taxonomy so
// the fallback policy and HTTP layer can switch on Kind instead of
// re-parsing status text. Errors already tagged are passed through.
func classifyHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*apierr.Error); ok {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return apierr.New(apierr.KindRateLimited, "provider rate limited", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return apierr.New(apierr.KindTimeout, "provider timeout", err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "no such host") || strings.Contains(msg, "eof"):
		return apierr.New(apierr.KindNetwork, "provider network error", err)
	case containsStatus5xx(msg):
		return apierr.New(apierr.KindUpstream, "provider upstream error", err)
	case strings.Contains(msg, "empty response") || strings.TrimSpace(msg) == "":
		return apierr.New(apierr.KindProviderEmpty, "provider returned empty response", err)
	default:
		return apierr.New(apierr.KindUpstream, "provider error", err)
	}
}

func containsStatus5xx(msg string) bool {
	for code := http.StatusInternalServerError; code < 600; code++ {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return true
		}
	}
	return false
}
