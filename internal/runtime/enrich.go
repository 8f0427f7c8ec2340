package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wolfganghq/centurion/internal/channels"
	"github.com/wolfganghq/centurion/internal/egress"
	"github.com/wolfganghq/centurion/internal/llm"
)

const mediaDownloadTimeout = 20 * time.Second

// Enricher turns inbound media into text the model can reason over: audio is
// transcribed, images described. Any failure falls back to the raw body so
// the pipeline never stalls on media.
type Enricher struct {
	client *http.Client
	policy *egress.Policy
	limits egress.Limits
	logger *slog.Logger
}

func NewEnricher(policy *egress.Policy, limits egress.Limits, logger *slog.Logger) *Enricher {
	return &Enricher{
		client: &http.Client{Timeout: mediaDownloadTimeout},
		policy: policy,
		limits: limits,
		logger: logger,
	}
}

// Enrichment is the outcome attached to the stored message.
type Enrichment struct {
	Body     string
	Metadata map[string]any
}

// Enrich resolves the textual body for an inbound message. Text passes
// through; media is downloaded and converted when a provider is available
// and the bot can process it.
func (e *Enricher) Enrich(ctx context.Context, provider llm.Provider, msg *channels.Inbound, canProcessAudio bool) Enrichment {
	switch msg.ContentType {
	case channels.ContentAudio:
		if !canProcessAudio || provider == nil {
			return fallbackEnrichment(msg, "audio_processing_disabled")
		}
		data, err := e.download(ctx, msg.MediaURL, e.limits.MaxSTTBytes)
		if err != nil {
			e.logger.Warn("enrich.audio_download_failed", "error", err)
			return fallbackEnrichment(msg, err.Error())
		}
		text, err := provider.Transcribe(ctx, data, msg.MediaMimeType)
		if err != nil {
			e.logger.Warn("enrich.transcription_failed", "error", err)
			return fallbackEnrichment(msg, err.Error())
		}
		return Enrichment{
			Body:     "[Áudio transcrito]: " + text,
			Metadata: map[string]any{"transcription": text},
		}

	case channels.ContentImage:
		if provider == nil {
			return fallbackEnrichment(msg, "no_provider")
		}
		data, err := e.download(ctx, msg.MediaURL, e.limits.MaxVisionBytes)
		if err != nil {
			e.logger.Warn("enrich.image_download_failed", "error", err)
			return fallbackEnrichment(msg, err.Error())
		}
		description, err := provider.DescribeImage(ctx, data, msg.MediaMimeType)
		if err != nil {
			e.logger.Warn("enrich.vision_failed", "error", err)
			return fallbackEnrichment(msg, err.Error())
		}
		body := "[Imagem]: " + description
		if msg.Body != "" {
			body = msg.Body + "\n" + body
		}
		return Enrichment{
			Body:     body,
			Metadata: map[string]any{"image_description": description},
		}

	default:
		return Enrichment{Body: msg.Body}
	}
}

func fallbackEnrichment(msg *channels.Inbound, reason string) Enrichment {
	body := msg.Body
	if body == "" {
		switch msg.ContentType {
		case channels.ContentAudio:
			body = "[Áudio recebido]"
		case channels.ContentImage:
			body = "[Imagem recebida]"
		case channels.ContentVideo:
			body = "[Vídeo recebido]"
		case channels.ContentDocument:
			body = "[Documento recebido]"
		}
	}
	return Enrichment{Body: body, Metadata: map[string]any{"enrichment_skipped": reason}}
}

// download fetches media bytes under the egress policy and size cap.
func (e *Enricher) download(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("no media url")
	}
	if err := e.policy.CheckURL(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("media download status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", maxBytes)
	}
	return data, nil
}
