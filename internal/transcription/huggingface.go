package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHuggingFaceURL = "https://api-inference.huggingface.co/models/openai/whisper-large-v3-turbo"

// HuggingFaceTranscriber posts raw audio to a Hugging Face inference
// endpoint running an ASR model.
type HuggingFaceTranscriber struct {
	client   *http.Client
	endpoint string
	token    string
}

func NewHuggingFaceTranscriber(token, endpoint string, client *http.Client) (*HuggingFaceTranscriber, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("transcription: hugging face token is required")
	}
	if endpoint == "" {
		endpoint = defaultHuggingFaceURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HuggingFaceTranscriber{client: client, endpoint: endpoint, token: token}, nil
}

func (h *HuggingFaceTranscriber) Name() string { return "huggingface" }

type hfResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (h *HuggingFaceTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("transcription: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "audio/ogg")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription: hugging face request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("transcription: read response: %w", err)
	}
	var out hfResponse
	decodeErr := json.Unmarshal(body, &out)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("transcription: hugging face status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("transcription: decode response: %w", decodeErr)
	}
	return strings.TrimSpace(out.Text), nil
}
