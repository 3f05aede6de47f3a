// Package gamma is a client for the Gamma document-generation API, used to
// turn plan markdown into an exportable PDF document.
package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
)

const DefaultURL = "https://public-api.gamma.app/v1.0"

// Gamma splits cards on explicit breaks, so promote headings to breaks
// before submitting.
var headingPattern = regexp.MustCompile(`(?m)^(#{1,3}\s)`)

type generateRequest struct {
	InputText              string       `json:"inputText"`
	TextMode               string       `json:"textMode"`
	Format                 string       `json:"format"`
	CardSplit              string       `json:"cardSplit"`
	NumCards               int          `json:"numCards"`
	ImageOptions           imageOptions `json:"imageOptions"`
	ExportAs               string       `json:"exportAs"`
	AdditionalInstructions string       `json:"additionalInstructions"`
}

type imageOptions struct {
	Source string `json:"source"`
}

type generateResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	GammaURL   string `json:"gammaUrl,omitempty"`
	ExportURLs struct {
		PDF  string `json:"pdf,omitempty"`
		PPTX string `json:"pptx,omitempty"`
	} `json:"exportUrls"`
	Error string `json:"error,omitempty"`
}

// GenerationResult is the client-facing view of a Gamma generation.
type GenerationResult struct {
	GenerationID string `json:"generationId"`
	Status       string `json:"status"`
	GammaURL     string `json:"gammaUrl,omitempty"`
	ExportURL    string `json:"exportUrl,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Client represents a Gamma API client
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a new Gamma API client
func NewClient(baseURL, apiKey string, c *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if c == nil {
		c = &http.Client{}
	}

	return &Client{
		httpClient: c,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// StartGeneration submits plan markdown for document generation and
// returns the pending generation handle.
func (c *Client) StartGeneration(ctx context.Context, markdown string) (*GenerationResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("gamma api key is not configured")
	}

	formatted := headingPattern.ReplaceAllString(markdown, "\n---\n$1")

	reqBody := generateRequest{
		InputText:              formatted,
		TextMode:               "preserve",
		Format:                 "document",
		CardSplit:              "inputTextBreaks",
		NumCards:               30,
		ImageOptions:           imageOptions{Source: "noImages"},
		ExportAs:               "pdf",
		AdditionalInstructions: "Keep formatting clean. Preserve headings. Use a professional, minimal style.",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	return c.do(req)
}

// PollStatus fetches the current state of a generation.
func (c *Client) PollStatus(ctx context.Context, generationID string) (*GenerationResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("gamma api key is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generations/"+generationID, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*GenerationResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma api error: %d - %s", resp.StatusCode, string(body))
	}

	var data generateResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}

	status := data.Status
	if status == "" {
		status = "pending"
	}

	return &GenerationResult{
		GenerationID: data.ID,
		Status:       status,
		GammaURL:     data.GammaURL,
		ExportURL:    data.ExportURLs.PDF,
		Error:        data.Error,
	}, nil
}
