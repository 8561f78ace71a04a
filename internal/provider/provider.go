package provider

import (
	"context"
	"fmt"
	"net/http"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONOutput asks the backend to constrain output to a JSON object
	// where it supports that.
	JSONOutput bool
}

type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// APIError is a non-200 reply from a backend.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.Status, e.Body)
}

// Option configures a provider client.
type Option func(*Options)

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

func WithBaseURL(u string) Option {
	return func(o *Options) { o.BaseURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// Apply resolves opts over the given default base URL.
func Apply(defaultBaseURL string, opts []Option) Options {
	o := Options{BaseURL: defaultBaseURL, HTTPClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
