package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/michaelbrown/funcgate/internal/adapter"
	"github.com/michaelbrown/funcgate/internal/prompt"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

// apiError is the OpenAI error body.
type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

func errorBody(typ, msg string) apiError {
	return apiError{Error: apiErrorDetail{Message: msg, Type: typ}}
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, errorBody(typ, msg))
}

// errorStatus maps a request failure to its HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, prompt.ErrValidation), errors.Is(err, prompt.ErrConfiguration):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, adapter.ErrEngine):
		return http.StatusBadGateway, "engine_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeRequestError(w http.ResponseWriter, err error) {
	status, typ := errorStatus(err)
	writeError(w, status, typ, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return prompt.Validationf("request body is empty")
		}
		return prompt.Validationf("invalid JSON: %v", err)
	}
	return nil
}

// sseWriter writes server-sent events: one JSON object per data line,
// terminated by [DONE].
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) Data(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) Error(err error) error {
	_, typ := errorStatus(err)
	return s.Data(errorBody(typ, err.Error()))
}

func (s *sseWriter) Done() {
	io.WriteString(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
