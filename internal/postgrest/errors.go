package postgrest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"bollette/internal/core"
)

// PostgREST error codes with a meaning for the core.
const (
	codeNoRows         = "PGRST116"
	codeAggregates     = "PGRST123"
	codeFunctionAbsent = "PGRST202"
	codeJWTInvalid     = "PGRST301"
	codeJWTExpired     = "PGRST303"
)

// APIError is a decoded PostgREST error response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`

	kind error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest %d: %s", e.Status, e.Message)
}

// Unwrap exposes the core sentinel matching the response, if any.
func (e *APIError) Unwrap() error { return e.kind }

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	if len(body) > 0 {
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Message = string(body)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, apiErr.Code == codeJWTInvalid, apiErr.Code == codeJWTExpired:
		apiErr.kind = core.ErrSessionInvalid
	case apiErr.Code == codeNoRows:
		apiErr.kind = core.ErrNotFound
	case apiErr.Code == codeAggregates, apiErr.Code == codeFunctionAbsent:
		apiErr.kind = core.ErrAggregationUnsupported
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return &core.TransientError{Op: "postgrest", Err: apiErr}
	}
	return apiErr
}
