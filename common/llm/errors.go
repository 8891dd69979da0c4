package llm

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// StatusCode extracts the HTTP status from a provider SDK error. ok is
// false when the request never produced an API response (transport
// failures, cancellation), which callers should treat as retryable.
func StatusCode(err error) (status int, ok bool) {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode, true
	}

	var gemErr genai.APIError
	if errors.As(err, &gemErr) {
		return gemErr.Code, true
	}

	return 0, false
}

// RetryAfter reports the provider's Retry-After hint in seconds form,
// zero when the error carries none. Gemini errors never carry headers.
func RetryAfter(err error) time.Duration {
	var resp *http.Response

	var oaiErr *openai.Error
	var antErr *anthropic.Error
	switch {
	case errors.As(err, &oaiErr):
		resp = oaiErr.Response
	case errors.As(err, &antErr):
		resp = antErr.Response
	}
	if resp == nil {
		return 0
	}

	seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After"))
	if convErr != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Temp returns a pointer for AgentRequest.Temperature.
func Temp(t float64) *float64 {
	return &t
}
