package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// The v1p1beta1 surface is required for MP3 input, which is what the platform
// serves for audio messages.
const defaultSpeechBase = "https://speech.googleapis.com"

// RecognitionConfig carries the hints the recognizer needs about the audio.
type RecognitionConfig struct {
	Encoding     string // e.g. "MP3"
	SampleRateHz int
	LanguageCode string // e.g. "en-US"
}

// Transcriber calls the Google Speech-to-Text REST API.
type Transcriber struct {
	httpClient *http.Client
	apiBase    string
	cfg        RecognitionConfig
}

// NewTranscriber authenticates against Google with the given service-account
// JSON (nil means application default credentials).
func NewTranscriber(ctx context.Context, credentialsJSON []byte, cfg RecognitionConfig) (*Transcriber, error) {
	client, err := googleHTTPClient(ctx, credentialsJSON)
	if err != nil {
		return nil, err
	}
	return &Transcriber{httpClient: client, apiBase: defaultSpeechBase, cfg: cfg}, nil
}

// NewTranscriberWithBase builds a transcriber against a custom API base with
// an unauthenticated client. Test seam.
func NewTranscriberWithBase(apiBase string, cfg RecognitionConfig) *Transcriber {
	return &Transcriber{httpClient: http.DefaultClient, apiBase: apiBase, cfg: cfg}
}

type recognizeRequest struct {
	Config struct {
		Encoding        string `json:"encoding"`
		SampleRateHertz int    `json:"sampleRateHertz"`
		LanguageCode    string `json:"languageCode"`
	} `json:"config"`
	Audio struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe converts audio bytes to text. A response with no recognition
// results is not an error: it returns the empty string and the caller
// substitutes the sentinel reply.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var reqBody recognizeRequest
	reqBody.Config.Encoding = t.cfg.Encoding
	reqBody.Config.SampleRateHertz = t.cfg.SampleRateHz
	reqBody.Config.LanguageCode = t.cfg.LanguageCode
	reqBody.Audio.Content = base64.StdEncoding.EncodeToString(audio)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode recognize request: %w", err)
	}

	url := t.apiBase + "/v1p1beta1/speech:recognize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognize call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read recognize response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech API status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed recognizeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode recognize response: %w", err)
	}
	if len(parsed.Results) == 0 || len(parsed.Results[0].Alternatives) == 0 {
		return "", nil
	}
	return parsed.Results[0].Alternatives[0].Transcript, nil
}
