package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"memoryd/internal/config"
	"memoryd/internal/llm"
	"memoryd/internal/observability"
)

// LocalHTTP is the local-HTTP Agent provider variant from spec.md §4.3: chat
// over a local OpenAI-compatible daemon (ollama, llama.cpp server, vLLM,
// ...), configured with a base URL, model, temperature, timeout, and an
// arbitrary options object that is rejected if it isn't a plain map. The
// configured context window (LocalHTTPConfig.ContextSize) is not read and
// is not sent to the daemon.
type LocalHTTP struct {
	sdk     sdk.Client
	model   string
	temp    float64
	timeout time.Duration
	extra   map[string]any
}

// NewLocalHTTP validates cfg.ExtraOptions (spec.md: "rejected if not a plain
// map") and builds the client.
func NewLocalHTTP(cfg config.LocalHTTPConfig, httpClient *http.Client) (*LocalHTTP, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.ExtraOptions != nil {
		for k := range cfg.ExtraOptions {
			if k == "" {
				return nil, errInvalidExtraOptions
			}
		}
	}
	opts := []option.RequestOption{option.WithAPIKey("local"), option.WithHTTPClient(httpClient)}
	if base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LocalHTTP{
		sdk:     sdk.NewClient(opts...),
		model:   cfg.Model,
		temp:    cfg.Temperature,
		timeout: timeout,
		extra:   cfg.ExtraOptions,
	}, nil
}

var errInvalidExtraOptions = localHTTPError("extraOptions must be a plain key-value map")

type localHTTPError string

func (e localHTTPError) Error() string { return string(e) }

func (c *LocalHTTP) Name() string { return "local-http" }

func (c *LocalHTTP) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	if model == "" {
		model = c.model
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(model)}
	params.Messages = adaptMessages(msgs)
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}

	ctx, span := llm.StartRequestSpan(cctx, "LocalHTTP Chat", string(params.Model), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("local_http_chat_error")
		return llm.Message{}, classifyHTTPError(err)
	}
	if len(comp.Choices) == 0 {
		return llm.Message{}, classifyHTTPError(errEmptyResponse)
	}
	prompt := int(comp.Usage.PromptTokens)
	completion := int(comp.Usage.CompletionTokens)
	llm.RecordTokenAttributes(span, prompt, completion, prompt+completion)
	log.Debug().Str("model", model).Int("prompt_tokens", prompt).Int("completion_tokens", completion).
		Dur("duration", dur).Msg("local_http_chat_ok")

	return llm.Message{Role: "assistant", Content: comp.Choices[0].Message.Content}, nil
}

var errEmptyResponse = localHTTPError("empty response")

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
