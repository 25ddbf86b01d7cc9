package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/funcgate/internal/adapter"
	"github.com/michaelbrown/funcgate/internal/llm"
)

var upgrader = websocket.Upgrader{
	// Requests are authenticated by bearer token, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsOutgoing is a frame sent to the client.
type wsOutgoing struct {
	Type  string                   `json:"type"`
	Data  *llm.ChatCompletionChunk `json:"data,omitempty"`
	Error *apiErrorDetail          `json:"error,omitempty"`
}

const (
	wsChunk = "chunk"
	wsError = "error"
	wsDone  = "done"
)

// wsChatHandler streams chat completions over a WebSocket. Each text frame
// from the client is a chat completion request; the reply is a sequence of
// chunk frames closed by a done or error frame. Requests on one connection
// run one at a time.
func wsChatHandler(h *adapter.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		// Canceled when the client disconnects, which stops a running
		// generation.
		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		defer cancel()

		incoming := make(chan []byte)
		go func() {
			defer close(incoming)
			defer cancel()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						slog.Debug("websocket read ended", "error", err)
					}
					return
				}
				select {
				case incoming <- data:
				case <-ctx.Done():
					return
				}
			}
		}()

		for data := range incoming {
			if err := streamOverWebSocket(ctx, conn, h, data); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func streamOverWebSocket(ctx context.Context, conn *websocket.Conn, h *adapter.Handler, data []byte) error {
	sendError := func(err error) error {
		_, typ := errorStatus(err)
		return wsWriteJSON(conn, wsOutgoing{Type: wsError, Error: &apiErrorDetail{Message: err.Error(), Type: typ}})
	}

	var req llm.ChatCompletionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsWriteJSON(conn, wsOutgoing{Type: wsError, Error: &apiErrorDetail{
			Message: "invalid JSON: " + err.Error(),
			Type:    "invalid_request_error",
		}})
	}
	req.Stream = true

	events, err := h.Stream(ctx, &req)
	if err != nil {
		return sendError(err)
	}
	for ev := range events {
		if ev.Err != nil {
			return sendError(ev.Err)
		}
		if err := wsWriteJSON(conn, wsOutgoing{Type: wsChunk, Data: ev.Chunk}); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return wsWriteJSON(conn, wsOutgoing{Type: wsDone})
}

func wsWriteJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
