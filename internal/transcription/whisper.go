package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type audioAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperTranscriber uses an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperTranscriber struct {
	api      audioAPI
	model    string
	language string
}

// NewWhisperTranscriber builds a transcriber for apiKey. An empty baseURL
// targets api.openai.com.
func NewWhisperTranscriber(apiKey, baseURL, model string) (*WhisperTranscriber, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("transcription: whisper api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newWhisperTranscriber(openai.NewClientWithConfig(cfg), model), nil
}

func newWhisperTranscriber(api audioAPI, model string) *WhisperTranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{api: api, model: model, language: "es"}
}

func (w *WhisperTranscriber) Name() string { return "whisper" }

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "nota.ogg",
		Reader:   bytes.NewReader(audio),
		Language: w.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: whisper: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
