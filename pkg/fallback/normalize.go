package fallback

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// Normalize turns a raw transport reply into a FallbackResponse. A reply
// is successful only if its status is 2xx and, when the body is a JSON
// object carrying a boolean "success" field, that field is true.
func Normalize(transport string, res *models.TransportResponse) *models.FallbackResponse {
	if res == nil {
		return &models.FallbackResponse{Transport: transport, Error: ErrEmptyReply.Error()}
	}
	out := &models.FallbackResponse{
		Status:    res.StatusCode,
		Transport: transport,
	}

	body := bytes.TrimSpace(res.Body)
	var obj map[string]json.RawMessage
	isObject := len(body) > 0 && body[0] == '{' && json.Unmarshal(body, &obj) == nil

	switch {
	case len(body) == 0:
	case json.Valid(body):
		out.Data = json.RawMessage(body)
	default:
		quoted, _ := json.Marshal(string(body))
		out.Data = quoted
	}

	out.Success = res.StatusCode >= 200 && res.StatusCode < 300
	if isObject {
		if raw, ok := obj["success"]; ok {
			var flag bool
			if json.Unmarshal(raw, &flag) == nil && !flag {
				out.Success = false
			}
		}
	}

	if !out.Success {
		out.Error = errorMessage(obj, res.StatusCode)
	}
	return out
}

func errorMessage(obj map[string]json.RawMessage, status int) string {
	for _, key := range []string{"error", "message"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "request failed"
}
