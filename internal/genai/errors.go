package genai

import (
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
)

var (
	// ErrNoCredentials is returned when the pool holds no API key.
	ErrNoCredentials = errors.New("no API credentials configured")
	// ErrEmptyCompletion is returned when the provider answered without any content.
	ErrEmptyCompletion = errors.New("no choices returned")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown LLM provider")
)

// rateLimitMarkers are matched case-insensitively against error text when the
// provider error carries no structured status code.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"resource_exhausted",
	"429",
}

// IsRateLimited reports whether err signals provider throttling, either through
// an HTTP 429 status or through a recognizable marker in its text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
