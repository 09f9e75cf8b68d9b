package llm

import (
	"fmt"
	"time"
)

// Part kinds for multimodal messages.
const (
	PartText  = "text"
	PartImage = "image_url"
	PartVideo = "video_url"
)

// Message represents a chat message in a conversation. When Parts is set
// it is sent instead of Content.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Parts   []Part `json:"parts,omitempty"`
}

// Part is one element of a multimodal message.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Request is one completion call.
type Request struct {
	Messages []Message
	// JSON asks the backend for a JSON object response.
	JSON bool
	// Modalities requests output kinds, e.g. ["image", "text"].
	Modalities []string
	// Model overrides Config.Model when set.
	Model string
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
	Usage   Usage    `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}
