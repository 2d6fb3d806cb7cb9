package media

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
)

// GenerateImage generates a page illustration. With a configured provider
// it requests strict IMAGE modality; unconfigured environments fall back to
// a synthetic placeholder URL derived from the prompt.
func (g *Generator) GenerateImage(ctx context.Context, in ImageInput) (*Artifact, error) {
	size := in.Size
	if size == "" {
		size = "1024x1024"
	}

	log.Debug().
		Str("prompt", preview(in.Prompt, 60)).
		Str("size", size).
		Msg("Generating image")

	if g.genaiClient != nil {
		artifact, err := g.generateImageGenai(ctx, in.Prompt, size)
		if err != nil {
			log.Error().Err(err).
				Str("model", g.imageModel).
				Str("prompt_preview", preview(in.Prompt, 80)).
				Msg("Image generation failed")
			return nil, err
		}
		return artifact, nil
	}

	return g.placeholderImage(in.Prompt, size), nil
}

// generateImageGenai calls the provider expecting an image Blob in the
// response (strict modality).
func (g *Generator) generateImageGenai(ctx context.Context, prompt, size string) (*Artifact, error) {
	model := g.genaiClient.GenerativeModel(g.imageModel)
	setResponseModality(model, []string{"IMAGE"})

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			blob, ok := part.(genai.Blob)
			if !ok || len(blob.Data) == 0 {
				continue
			}
			mimeType := blob.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			log.Info().
				Int64("image_size_bytes", int64(len(blob.Data))).
				Str("mime_type", mimeType).
				Str("model", g.imageModel).
				Msg("Image generated")
			return &Artifact{
				Data:     bytes.NewReader(blob.Data),
				Size:     int64(len(blob.Data)),
				MimeType: mimeType,
				Format:   imageFormat(mimeType),
				Meta: map[string]any{
					"model":      g.imageModel,
					"resolution": size,
				},
			}, nil
		}
	}

	return nil, fmt.Errorf("no image blob in response (expected IMAGE modality)")
}

// setResponseModality sets model.ResponseModality when the genai SDK
// exposes it. Uses reflection so it no-ops on older SDKs.
func setResponseModality(model *genai.GenerativeModel, modalities []string) {
	v := reflect.ValueOf(model).Elem()
	f := v.FieldByName("ResponseModality")
	if !f.IsValid() || !f.CanSet() {
		log.Debug().Msg("ResponseModality not available on GenerativeModel")
		return
	}
	if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String {
		f.Set(reflect.ValueOf(modalities))
	}
}

func (g *Generator) placeholderImage(prompt, size string) *Artifact {
	uri := placeholderURI("images", prompt, "png")
	log.Info().
		Str("uri", uri).
		Msg("Image provider not configured, using placeholder URI")
	return &Artifact{
		URI:      uri,
		MimeType: "image/png",
		Format:   "png",
		Meta: map[string]any{
			"placeholder": true,
			"resolution":  size,
		},
	}
}

func imageFormat(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
