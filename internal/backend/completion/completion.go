// Package completion implements a text generation instance over any
// OpenAI compatible chat completions endpoint.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// Config configures an Instance.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Defaults  chain.TextGeneration
	Verbose   bool
	ClientOps []option.RequestOption
}

// Instance keeps the conversation history of one model instance. A system
// input starts a new conversation; each user input is answered by streaming.
type Instance struct {
	client   openai.Client
	model    string
	defaults chain.TextGeneration
	verbose  bool
	history  []openai.ChatCompletionMessageParamUnion
	mu       sync.Mutex
	busy     atomic.Bool
	wg       sync.WaitGroup
}

// New creates an instance talking to cfg.BaseURL.
func New(cfg Config) *Instance {
	opts := []option.RequestOption{option.WithBaseURL(cfg.BaseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// The client otherwise falls back to OPENAI_API_KEY from the environment.
		opts = append(opts, option.WithAPIKey("none"))
	}
	opts = append(opts, cfg.ClientOps...)

	return &Instance{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		defaults: cfg.Defaults,
		verbose:  cfg.Verbose,
	}
}

// Evaluate handles a system or user input.
func (i *Instance) Evaluate(ctx context.Context, exec *plugin.ExecutionContext) error {
	if system, ok := exec.Inputs.Text(plugin.SlotSystem); ok {
		i.mu.Lock()
		i.history = []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}
		i.mu.Unlock()

		exec.Callback(nil, plugin.StateDone)
		return nil
	}

	user, ok := exec.Inputs.Text(plugin.SlotUser)
	if !ok {
		return fmt.Errorf("%w: %s", plugin.ErrMissingInput, plugin.SlotUser)
	}

	if !i.busy.CompareAndSwap(false, true) {
		return plugin.ErrBusy
	}

	i.mu.Lock()
	messages := append(append([]openai.ChatCompletionMessageParamUnion(nil), i.history...), openai.UserMessage(user))
	i.mu.Unlock()

	params := i.params(messages, exec.Runtime)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.busy.Store(false)

		answer, stopped, err := i.stream(ctx, params, exec.Callback)
		if err != nil {
			slog.Error("Chat completion failed", "model", i.model, "error", err)
			exec.Callback(nil, plugin.StateError)
			return
		}

		// Without interactive mode every turn starts from the system prompt.
		if exec.Runtime == nil || exec.Runtime.Interactive {
			i.mu.Lock()
			i.history = append(messages, openai.AssistantMessage(answer))
			i.mu.Unlock()
		}

		// The callback already ended the turn.
		if stopped {
			return
		}
		exec.Callback(nil, plugin.StateDone)
	}()

	return nil
}

// Close waits for a running evaluation to finish.
func (i *Instance) Close() {
	i.wg.Wait()
}

// History returns the number of messages in the conversation.
func (i *Instance) History() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.history)
}

func (i *Instance) params(messages []openai.ChatCompletionMessageParamUnion, rp *plugin.RuntimeParameters) openai.ChatCompletionNewParams {
	maxTokens := i.defaults.MaxTokensToPredict
	seed := i.defaults.Seed
	if rp != nil {
		if rp.TokensToPredict > 0 {
			maxTokens = rp.TokensToPredict
		}
		seed = rp.Seed
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(i.model),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if seed >= 0 {
		params.Seed = openai.Int(int64(seed))
	}
	if rp != nil && rp.ReversePrompt != "" {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfString: openai.String(rp.ReversePrompt)}
	}
	return params
}

// stream forwards every content delta to cb until the stream ends or cb asks
// to stop. stopped reports that cb returned a terminal state.
func (i *Instance) stream(ctx context.Context, params openai.ChatCompletionNewParams, cb plugin.Callback) (answer string, stopped bool, err error) {
	if i.verbose {
		slog.Debug("Chat completion request", "model", i.model, "messages", len(params.Messages))
	}

	stream := i.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			sb.WriteString(ch.Delta.Content)

			if cb(plugin.Slots{{Key: plugin.SlotResponse, Text: ch.Delta.Content}}, plugin.StateDataPending).Terminal() {
				return sb.String(), true, nil
			}
		}
	}

	if err := stream.Err(); err != nil {
		return "", false, fmt.Errorf("openai streaming error: %w", err)
	}
	return sb.String(), false, nil
}
