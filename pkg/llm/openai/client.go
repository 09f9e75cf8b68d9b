package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/knowledgebot/pkg/llm"
)

const defaultTimeout = 60 * time.Second

// Client implements the llm.Provider interface for OpenAI-compatible APIs
// (OpenAI, OpenRouter, Gemini's OpenAI endpoint).
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config, opts ...Option) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []requestMessage `json:"messages"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    *float32         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
	Modalities     []string         `json:"modalities,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// requestMessage is the OpenAI message format for requests. Content is
// either a string or a list of content parts.
type requestMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *mediaURL `json:"image_url,omitempty"`
	VideoURL *mediaURL `json:"video_url,omitempty"`
}

type mediaURL struct {
	URL string `json:"url"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

// choice represents a single completion choice.
type choice struct {
	Message responseMessage `json:"message"`
}

// responseMessage is the OpenAI message format in responses. Images is the
// OpenRouter extension for image-capable models.
type responseMessage struct {
	Role    string          `json:"role"`
	Content string          `json:"content"`
	Images  []responseImage `json:"images,omitempty"`
}

type responseImage struct {
	Type     string   `json:"type"`
	ImageURL mediaURL `json:"image_url"`
}

// responseUsage is the OpenAI token usage format.
type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toRequestMessage(msg llm.Message) requestMessage {
	if len(msg.Parts) == 0 {
		return requestMessage{Role: msg.Role, Content: msg.Content}
	}
	parts := make([]contentPart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case llm.PartImage:
			parts = append(parts, contentPart{Type: llm.PartImage, ImageURL: &mediaURL{URL: p.URL}})
		case llm.PartVideo:
			parts = append(parts, contentPart{Type: llm.PartVideo, VideoURL: &mediaURL{URL: p.URL}})
		default:
			parts = append(parts, contentPart{Type: llm.PartText, Text: p.Text})
		}
	}
	return requestMessage{Role: msg.Role, Content: parts}
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	reqMessages := make([]requestMessage, len(r.Messages))
	for i, msg := range r.Messages {
		reqMessages[i] = toRequestMessage(msg)
	}

	reqBody := chatRequest{
		Model:      c.config.Model,
		Messages:   reqMessages,
		Modalities: r.Modalities,
	}
	if r.Model != "" {
		reqBody.Model = r.Model
	}
	if r.JSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	if c.config.MaxTokens > 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}

	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg := chatResp.Choices[0].Message
	out := &llm.Response{
		Content: msg.Content,
		Usage: llm.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}
	for _, img := range msg.Images {
		if img.ImageURL.URL != "" {
			out.Images = append(out.Images, img.ImageURL.URL)
		}
	}
	return out, nil
}

// Ping lists models, which every compatible backend serves cheaply.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, body)
	}
	return nil
}

// Close drops idle pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) setHeaders(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
}

func statusError(resp *http.Response, body []byte) *llm.StatusError {
	se := &llm.StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return se
}
