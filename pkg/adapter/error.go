package adapter

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"

	"github.com/zen-systems/council/pkg/transport"
)

// sdkError converts an SDK error into one the transport can classify. Errors
// that carry an HTTP status become *transport.StatusError; everything else
// is wrapped so context and network errors stay visible to errors.Is.
func sdkError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if status := sdkStatus(err); status != 0 {
		return fmt.Errorf("%s API error: %w", provider, &transport.StatusError{Status: status, Body: err.Error()})
	}
	return fmt.Errorf("%s API error: %w", provider, err)
}

func sdkStatus(err error) int {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code
	}
	var genaiPtrErr *genai.APIError
	if errors.As(err, &genaiPtrErr) && genaiPtrErr != nil {
		return genaiPtrErr.Code
	}
	return 0
}
