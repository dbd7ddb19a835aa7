// Package transcription turns patient voice notes into text.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// ErrEmptyTranscript is returned when a provider answers without text.
var ErrEmptyTranscript = errors.New("transcription: empty transcript")

// Provider is one speech-to-text backend.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Chain tries each provider in order and returns the first non-empty
// transcript.
type Chain struct {
	providers []Provider
	logger    *logging.Logger
}

func NewChain(logger *logging.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = logging.Default()
	}
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Chain{providers: kept, logger: logger}
}

// Len reports how many providers are configured.
func (c *Chain) Len() int { return len(c.providers) }

func (c *Chain) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("transcription: no audio")
	}
	if len(c.providers) == 0 {
		return "", errors.New("transcription: no providers configured")
	}
	var errs []error
	for _, p := range c.providers {
		text, err := p.Transcribe(ctx, audio)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return text, nil
			}
			err = ErrEmptyTranscript
		}
		c.logger.Warn("transcription provider failed", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("transcription: all providers failed: %w", errors.Join(errs...))
}
