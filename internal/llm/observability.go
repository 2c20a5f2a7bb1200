package llm

import (
	"context"
	"encoding/json"

	"memoryd/internal/observability"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartRequestSpan starts a tracer span for an LLM request and sets common attributes.
func StartRequestSpan(ctx context.Context, operation string, model string, messages int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llm").Start(ctx, operation)
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.messages", messages))
	return ctx, span
}

// LogRedactedPrompt logs a redacted copy of the outgoing messages at debug
// level, skipping the marshal entirely when debug logging is disabled.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	log := observability.LoggerWithTrace(ctx)
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	log.Debug().RawJSON("prompt", observability.RedactJSON(b)).Msg("llm_request")
}

// LogRedactedResponse logs a redacted copy of the response payload at debug level.
func LogRedactedResponse(ctx context.Context, resp any) {
	log := observability.LoggerWithTrace(ctx)
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	log.Debug().RawJSON("response", observability.RedactJSON(b)).Msg("llm_response")
}

// RecordTokenAttributes sets the prompt, completion and total token counts
// reported by the provider on the request span.
func RecordTokenAttributes(span trace.Span, promptTokens, completionTokens, totalTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
		attribute.Int("llm.total_tokens", totalTokens),
	)
}
