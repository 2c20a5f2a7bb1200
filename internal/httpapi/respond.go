package httpapi

import (
	"encoding/json"
	"net/http"

	"memoryd/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorEnvelope is the compact JSON error shape from spec.md §7's
// propagation policy.
type errorEnvelope struct {
	Error string `json:"error"`
}

// writeError maps err through the apierr taxonomy to an HTTP status,
// per spec.md §7: "HTTP handlers translate Validation->400, NotFound->404,
// RateLimited->429, others->500."
func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusFor(err)
	writeJSON(w, status, errorEnvelope{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.New(apierr.KindValidation, "malformed JSON body", err)
	}
	return nil
}

func contentTextResponse(text string) map[string]any {
	return map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	}
}
