package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	unifiedgenai "google.golang.org/genai"
)

// GenerateAudio narrates a page of text. With a configured provider it
// streams TTS audio and converts raw PCM to WAV; unconfigured environments
// fall back to a synthetic placeholder URL.
func (g *Generator) GenerateAudio(ctx context.Context, in AudioInput) (*Artifact, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("audio input text is empty")
	}

	voice := in.Voice
	if voice == "" {
		voice = g.ttsVoice
	}

	log.Debug().
		Int("text_length", len(in.Text)).
		Str("voice", voice).
		Msg("Generating audio")

	if g.ttsClient != nil {
		artifact, err := g.generateAudioTTS(ctx, in.Text, voice)
		if err != nil {
			log.Error().Err(err).
				Str("model", g.ttsModel).
				Int("text_length", len(in.Text)).
				Msg("TTS generation failed")
			return nil, err
		}
		return artifact, nil
	}

	return g.placeholderAudio(in.Text), nil
}

// generateAudioTTS streams audio parts with response_modalities: ["audio"].
func (g *Generator) generateAudioTTS(ctx context.Context, text, voice string) (*Artifact, error) {
	contents := []*unifiedgenai.Content{
		{
			Role: "user",
			Parts: []*unifiedgenai.Part{
				unifiedgenai.NewPartFromText("[tone: warm, gentle, read slowly for a young child] " + text),
			},
		},
	}

	config := &unifiedgenai.GenerateContentConfig{
		ResponseModalities: []string{"audio"},
		SpeechConfig: &unifiedgenai.SpeechConfig{
			VoiceConfig: &unifiedgenai.VoiceConfig{
				PrebuiltVoiceConfig: &unifiedgenai.PrebuiltVoiceConfig{
					VoiceName: voice,
				},
			},
		},
	}

	var audioBuffer bytes.Buffer
	var lastMimeType string
	for resp, err := range g.ttsClient.Models.GenerateContentStream(ctx, g.ttsModel, contents, config) {
		if err != nil {
			return nil, fmt.Errorf("TTS stream error: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				audioBuffer.Write(part.InlineData.Data)
				if part.InlineData.MIMEType != "" {
					lastMimeType = part.InlineData.MIMEType
				}
			}
		}
	}

	if audioBuffer.Len() == 0 {
		return nil, fmt.Errorf("TTS returned no audio data")
	}

	audioBytes := audioBuffer.Bytes()
	outMime := lastMimeType
	if strings.HasPrefix(lastMimeType, "audio/L") {
		// Raw PCM from the provider; wrap it in a WAV container.
		audioBytes = convertToWAV(audioBytes, lastMimeType)
		outMime = "audio/wav"
	}
	if outMime == "" {
		outMime = "audio/wav"
	}

	duration := estimateDuration(text)

	log.Info().
		Int64("audio_size_bytes", int64(len(audioBytes))).
		Str("voice", voice).
		Str("mime_type", outMime).
		Msg("TTS audio generated")

	return &Artifact{
		Data:     bytes.NewReader(audioBytes),
		Size:     int64(len(audioBytes)),
		MimeType: outMime,
		Format:   audioFormat(outMime),
		Duration: duration,
		Meta: map[string]any{
			"model": g.ttsModel,
			"voice": voice,
		},
	}, nil
}

func (g *Generator) placeholderAudio(text string) *Artifact {
	uri := placeholderURI("audio", text, "wav")
	log.Info().
		Str("uri", uri).
		Msg("TTS provider not configured, using placeholder URI")
	return &Artifact{
		URI:      uri,
		MimeType: "audio/wav",
		Format:   "wav",
		Duration: estimateDuration(text),
		Meta: map[string]any{
			"placeholder": true,
		},
	}
}

// estimateDuration approximates narration length at 150 words per minute.
func estimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	return float64(words) / 150.0 * 60.0
}

// convertToWAV converts raw PCM audio data to WAV format.
func convertToWAV(audioData []byte, mimeType string) []byte {
	params := parseAudioMimeType(mimeType)
	bitsPerSample := params.bitsPerSample
	sampleRate := params.rate
	numChannels := 1
	dataSize := len(audioData)
	bytesPerSample := bitsPerSample / 8
	blockAlign := numChannels * bytesPerSample
	byteRate := sampleRate * blockAlign
	chunkSize := 36 + dataSize

	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, []byte("RIFF"))
	binary.Write(header, binary.LittleEndian, uint32(chunkSize))
	binary.Write(header, binary.LittleEndian, []byte("WAVE"))
	binary.Write(header, binary.LittleEndian, []byte("fmt "))
	binary.Write(header, binary.LittleEndian, uint32(16))
	binary.Write(header, binary.LittleEndian, uint16(1))
	binary.Write(header, binary.LittleEndian, uint16(numChannels))
	binary.Write(header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(header, binary.LittleEndian, uint32(byteRate))
	binary.Write(header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(header, binary.LittleEndian, uint16(bitsPerSample))
	binary.Write(header, binary.LittleEndian, []byte("data"))
	binary.Write(header, binary.LittleEndian, uint32(dataSize))

	return append(header.Bytes(), audioData...)
}

type audioParams struct {
	bitsPerSample int
	rate          int
}

// parseAudioMimeType parses bits per sample and rate from an audio MIME
// type such as "audio/L16;rate=24000".
func parseAudioMimeType(mimeType string) audioParams {
	params := audioParams{bitsPerSample: 16, rate: 24000}

	pcmRe := regexp.MustCompile(`audio/L(\d+)`)
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if rate, err := strconv.Atoi(strings.SplitN(part, "=", 2)[1]); err == nil {
				params.rate = rate
			}
		} else if matches := pcmRe.FindStringSubmatch(part); len(matches) > 1 {
			if bits, err := strconv.Atoi(matches[1]); err == nil {
				params.bitsPerSample = bits
			}
		}
	}
	return params
}

func audioFormat(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	default:
		return "wav"
	}
}
