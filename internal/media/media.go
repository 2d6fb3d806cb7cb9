package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	unifiedgenai "google.golang.org/genai"
)

// Default provider models for the media stages.
const (
	defaultImageModel = "gemini-3-pro-image-preview"
	defaultTTSModel   = "gemini-2.5-pro-preview-tts"
)

// Artifact is a produced media result. Either Data carries content to
// upload, or URI is already addressable (placeholder fallback).
type Artifact struct {
	URI      string
	Data     io.Reader
	Size     int64
	MimeType string
	Format   string
	Duration float64 // seconds, audio only
	Meta     map[string]any
}

// ImageInput is the image handler input.
type ImageInput struct {
	Prompt string
	Size   string // e.g. "1024x1024"
}

// AudioInput is the TTS handler input.
type AudioInput struct {
	Text   string
	Voice  string
	Format string
}

// Generator produces page illustrations and narration audio. When a
// provider is unconfigured the handlers succeed with synthetic placeholder
// URIs; that is acceptable behavior, not an error.
type Generator struct {
	genaiClient *genai.Client
	ttsClient   *unifiedgenai.Client
	imageModel  string
	ttsModel    string
	ttsVoice    string
}

// NewGenerator creates a Generator. Empty API keys leave the respective
// provider unconfigured and enable the placeholder path.
func NewGenerator(imageAPIKey, ttsAPIKey, ttsVoice string) *Generator {
	if ttsVoice == "" {
		ttsVoice = "Zephyr"
	}

	var genaiClient *genai.Client
	if imageAPIKey != "" {
		client, err := genai.NewClient(context.Background(), option.WithAPIKey(imageAPIKey))
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize genai client for image generation")
		} else {
			genaiClient = client
		}
	}

	var ttsClient *unifiedgenai.Client
	if ttsAPIKey != "" {
		client, err := unifiedgenai.NewClient(context.Background(), &unifiedgenai.ClientConfig{APIKey: ttsAPIKey})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize genai client for TTS")
		} else {
			ttsClient = client
		}
	}

	log.Info().
		Bool("image_provider", genaiClient != nil).
		Bool("tts_provider", ttsClient != nil).
		Str("tts_voice", ttsVoice).
		Msg("Media generator initialized")

	return &Generator{
		genaiClient: genaiClient,
		ttsClient:   ttsClient,
		imageModel:  defaultImageModel,
		ttsModel:    defaultTTSModel,
		ttsVoice:    ttsVoice,
	}
}

// placeholderURI derives a deterministic synthetic URI from the input, so
// unconfigured environments still produce stable, addressable assets.
func placeholderURI(kind, seed, ext string) string {
	sum := sha256.Sum256([]byte(seed))
	return "https://placeholder.tales.invalid/" + kind + "/" + hex.EncodeToString(sum[:8]) + "." + ext
}
