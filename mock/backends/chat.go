package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nodegrid/inference-gateway/internal/api"
)

// chatChoice / chatResponse follow the backend collaborator contract:
// {id, choices: [{index, message: {role, content}}]}.
type chatChoice struct {
	Index   int             `json:"index"`
	Message api.ChatMessage `json:"message"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

func chatMux(latency time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(latency)

		var req api.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		user := lastUserMessage(req.Messages)

		slog.Info("chat request",
			slog.String("model", req.Model),
			slog.Int("messages", len(req.Messages)),
		)

		resp := chatResponse{
			ID: uuid.New().String(),
			Choices: []chatChoice{{
				Index: 0,
				Message: api.ChatMessage{
					Role:    "assistant",
					Content: fmt.Sprintf("Echo from llm-node (model=%s): %s", req.Model, user.Content),
				},
			}},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

// lastUserMessage picks the newest user turn; a placeholder keeps the echo
// well-formed when the conversation has none.
func lastUserMessage(messages []api.ChatMessage) api.ChatMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i]
		}
	}
	return api.ChatMessage{Role: "user", Content: "(no user message found)"}
}
