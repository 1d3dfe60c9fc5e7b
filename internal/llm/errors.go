package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vocalnews/assistant/internal/apperr"
)

var Providers = []string{"openai", "openrouter", "local"}

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider %q (want one of %s)", e.Provider, strings.Join(Providers, ", "))
}

// statusError classifies a non-2xx completion response. 5xx counts as a
// network failure, anything else as a rejection of the request.
func statusError(resp *http.Response) error {
	kind := apperr.UpstreamRejection
	if resp.StatusCode >= http.StatusInternalServerError {
		kind = apperr.NetworkFailure
	}
	msg := fmt.Sprintf("LLM request failed: %s", resp.Status)
	if detail := errorDetail(io.LimitReader(resp.Body, 4096)); detail != "" {
		msg += ": " + detail
	}
	return apperr.Newf(kind, opGenerate, "%s", msg)
}

// errorDetail accepts {"error": "..."} and {"error": {"message": "..."}}.
func errorDetail(body io.Reader) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil || len(payload.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(payload.Error, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Error, &obj); err == nil {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}
