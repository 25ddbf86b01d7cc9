package server

import (
	"net/http"

	"github.com/michaelbrown/funcgate/internal/adapter"
	"github.com/michaelbrown/funcgate/internal/llm"
)

// chatHandler serves function-calling chat completions, as one JSON body
// or as server-sent events when the request asks to stream.
func chatHandler(h *adapter.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatCompletionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeRequestError(w, err)
			return
		}

		if !req.Stream {
			resp, err := h.Complete(r.Context(), &req)
			if err != nil {
				writeRequestError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		events, err := h.Stream(r.Context(), &req)
		if err != nil {
			writeRequestError(w, err)
			return
		}

		sse, err := newSSEWriter(w)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		for ev := range events {
			if ev.Err != nil {
				sse.Error(ev.Err)
				break
			}
			if err := sse.Data(ev.Chunk); err != nil {
				// Client went away; the request context cancels the stream.
				return
			}
		}
		sse.Done()
	}
}
