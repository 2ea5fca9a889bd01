// Package llm wraps an OpenAI-compatible API behind purpose-tagged text
// and audio calls. Every failed call surfaces as ErrUnavailable so
// callers can branch to their deterministic fallbacks; raw transport
// errors never reach the orchestrator. An unknown purpose, an unsupported
// audio format or an empty audio payload is rejected with a plain error
// before any call is made.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Purpose selects the system prompt, temperature and JSON response mode
// for a completion call.
type Purpose string

const (
	PurposeHint        Purpose = "hint"
	PurposeQuestionGen Purpose = "question-gen"
	PurposeAnswerScore Purpose = "answer-score"
	PurposeProblemGen  Purpose = "problem-gen"
)

// ErrUnavailable is returned after the retry budget is exhausted.
var ErrUnavailable = errors.New("llm unavailable")

// Client is the LLM surface the engines depend on.
type Client interface {
	// Complete sends a purpose-tagged prompt and returns the text reply.
	Complete(ctx context.Context, purpose Purpose, prompt string) (string, error)
	// Transcribe converts spoken audio to text. Format is the container
	// extension: wav, mp3, m4a or webm.
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

type purposeConfig struct {
	system      string
	temperature float32
	jsonMode    bool
}

var purposeConfigs = map[Purpose]purposeConfig{
	PurposeHint: {
		system: "You are a patient Socratic coding tutor. You are given a structural " +
			"analysis of the student's code; reference specific functions and variables " +
			"from it, never generic advice. Follow the hint-level instructions in the " +
			"prompt exactly and never reveal a full solution.",
		temperature: 0.7,
	},
	PurposeQuestionGen: {
		system: "You are an oral-examination question writer. Generate questions about " +
			"the specific code described, targeting exactly what each instruction asks. " +
			"Respond only with the JSON requested.",
		temperature: 0.6,
		jsonMode:    true,
	},
	PurposeAnswerScore: {
		system: "You are an expert programming instructor judging whether a student's " +
			"spoken explanation matches what their code actually does. The structural " +
			"analysis in the prompt is ground truth. Be fair but thorough. Respond only " +
			"with the JSON requested.",
		temperature: 0.1,
		jsonMode:    true,
	},
	PurposeProblemGen: {
		system: "You are a programming-exercise author. Produce one self-contained " +
			"practice problem matching the requested concept and difficulty. Respond " +
			"only with the JSON requested.",
		temperature: 0.8,
		jsonMode:    true,
	},
}

// Config holds client construction options.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	TranscribeModel string
	Deadline       time.Duration // per attempt, default 8 s
	RetryWait      time.Duration // backoff before the single retry
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	api             *openai.Client
	model           string
	transcribeModel string
	deadline        time.Duration
	retryWait       time.Duration
}

// New creates a client. Zero durations get defaults (8 s deadline,
// 500 ms initial retry wait).
func New(cfg Config) *OpenAIClient {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	deadline := cfg.Deadline
	if deadline == 0 {
		deadline = 8 * time.Second
	}
	retryWait := cfg.RetryWait
	if retryWait == 0 {
		retryWait = 500 * time.Millisecond
	}
	transcribeModel := cfg.TranscribeModel
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}
	return &OpenAIClient{
		api:             openai.NewClientWithConfig(c),
		model:           cfg.Model,
		transcribeModel: transcribeModel,
		deadline:        deadline,
		retryWait:       retryWait,
	}
}

// Complete implements Client. It retries once with exponential backoff
// on timeout or server-side failure, then reports ErrUnavailable.
func (c *OpenAIClient) Complete(ctx context.Context, purpose Purpose, prompt string) (string, error) {
	cfg, ok := purposeConfigs[purpose]
	if !ok {
		return "", fmt.Errorf("unknown purpose %q", purpose)
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: cfg.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: cfg.temperature,
	}
	if cfg.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	wait := c.retryWait
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.deadline)
		resp, err := c.api.CreateChatCompletion(attemptCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			slog.Warn("llm completion failed", "purpose", purpose, "attempt", attempt+1, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("no choices in response")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

var transcribeFormats = map[string]bool{
	"wav": true, "mp3": true, "m4a": true, "webm": true,
}

// Transcribe implements Client.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if !transcribeFormats[format] {
		return "", fmt.Errorf("unsupported audio format %q", format)
	}
	if len(audio) == 0 {
		return "", errors.New("empty audio payload")
	}

	req := openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: "answer." + format,
		Reader:   bytes.NewReader(audio),
	}

	var lastErr error
	wait := c.retryWait
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
			req.Reader = bytes.NewReader(audio)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.deadline)
		resp, err := c.api.CreateTranscription(attemptCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			slog.Warn("transcription failed", "attempt", attempt+1, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return resp.Text, nil
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
