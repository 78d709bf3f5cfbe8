package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrConfig means the model could not be built: missing key, unknown vendor.
	ErrConfig = errors.New("model configuration error")
	// ErrAuth means the provider rejected the API key.
	ErrAuth = errors.New("model authentication failed")
	// ErrQuota means the provider refused the call for rate or billing reasons.
	ErrQuota = errors.New("model quota exceeded")
	// ErrModelNotFound means the provider does not know the requested model.
	ErrModelNotFound = errors.New("model not found")
)

// Classify tags a provider error with the sentinel matching its HTTP status.
// A 404 counts as ErrModelNotFound only when the provider says the model is
// missing; other 404s are ErrConfig.
// Errors without a recognisable status are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range []error{ErrConfig, ErrAuth, ErrQuota, ErrModelNotFound} {
		if errors.Is(err, s) {
			return err
		}
	}

	var sentinel error
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrAuth
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		sentinel = ErrQuota
	case http.StatusNotFound:
		// A 404 that does not name the model usually means a wrong base URL.
		sentinel = ErrConfig
		if modelNotFound(err) {
			sentinel = ErrModelNotFound
		}
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// StatusCode extracts the HTTP status from any supported provider error, or 0.
func StatusCode(err error) int {
	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) {
		return oaAPI.HTTPStatusCode
	}
	var oaReq *openai.RequestError
	if errors.As(err, &oaReq) {
		return oaReq.HTTPStatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	// genai has returned its APIError both by value and by pointer.
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return v.Code
		case *genai.APIError:
			return v.Code
		}
	}
	return 0
}

// modelNotFound reports whether a 404 from the provider is about the model.
// OpenAI sets the model_not_found code; OpenRouter, Anthropic and Gemini
// name the model in the message.
func modelNotFound(err error) bool {
	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) {
		if code, ok := oaAPI.Code.(string); ok && code == "model_not_found" {
			return true
		}
		return strings.Contains(strings.ToLower(oaAPI.Message), "model")
	}
	return strings.Contains(strings.ToLower(err.Error()), "model")
}
