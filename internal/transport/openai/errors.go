package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/threadscout/internal/domain"
)

// classifyError maps a go-openai error onto the domain taxonomy.
// 429 becomes ErrUpstreamRateLimited, 5xx and transport failures become
// ErrUpstreamUnavailable; both are retried. wrap tags the operation.
func classifyError(op string, err error, wrap error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	status, detail := apiStatus(err)
	switch {
	case status == http.StatusTooManyRequests:
		return joinWrap(op, detail, domain.NewUpstreamRateLimited(0), wrap)
	case status >= 500 || status == 0:
		return joinWrap(op, detail, domain.ErrUpstreamUnavailable, wrap)
	default:
		if wrap == nil {
			return fmt.Errorf("%s: API error %d: %s", op, status, detail)
		}
		return fmt.Errorf("%s: API error %d: %s: %w", op, status, detail, wrap)
	}
}

func joinWrap(op, detail string, kind, wrap error) error {
	if wrap == nil {
		return fmt.Errorf("%s: %s: %w", op, detail, kind)
	}
	return fmt.Errorf("%s: %s: %w: %w", op, detail, kind, wrap)
}

// apiStatus extracts the HTTP status and a human-readable detail. Status 0
// means the request never got a response.
func apiStatus(err error) (int, string) {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if d := extractDetail(reqErr.Body); d != "" {
			return reqErr.HTTPStatusCode, d
		}
		return reqErr.HTTPStatusCode, string(reqErr.Body)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}

	return 0, err.Error()
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
