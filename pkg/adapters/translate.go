package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultTranslateBase = "https://translation.googleapis.com"

// Translator calls the Google Translate v2 REST API.
type Translator struct {
	httpClient *http.Client
	apiBase    string
}

// NewTranslator authenticates against Google with the given service-account
// JSON (nil means application default credentials).
func NewTranslator(ctx context.Context, credentialsJSON []byte) (*Translator, error) {
	client, err := googleHTTPClient(ctx, credentialsJSON)
	if err != nil {
		return nil, err
	}
	return &Translator{httpClient: client, apiBase: defaultTranslateBase}, nil
}

// NewTranslatorWithBase builds a translator against a custom API base with an
// unauthenticated client. Test seam.
func NewTranslatorWithBase(apiBase string) *Translator {
	return &Translator{httpClient: http.DefaultClient, apiBase: apiBase}
}

type translateRequest struct {
	Q      []string `json:"q"`
	Target string   `json:"target"`
	Format string   `json:"format"`
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

// Translate renders text in targetLang (ISO 639-1). One attempt, no retry.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	payload, err := json.Marshal(translateRequest{
		Q:      []string{text},
		Target: targetLang,
		Format: "text",
	})
	if err != nil {
		return "", fmt.Errorf("encode translate request: %w", err)
	}

	url := t.apiBase + "/language/translate/v2"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read translate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate API status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed translateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	if len(parsed.Data.Translations) == 0 {
		return "", fmt.Errorf("translate API returned no translations")
	}
	return parsed.Data.Translations[0].TranslatedText, nil
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "…"
}
