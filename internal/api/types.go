// Package api holds the OpenAI-compatible wire types shared by the gateway
// and the stand-in backends. The gateway never validates these beyond JSON
// well-formedness — fields pass through to the backend verbatim.
package api

type (
	// ChatMessage is a single turn in a conversation.
	ChatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// ChatCompletionRequest mirrors POST /v1/chat/completions. The model name
	// is the routing key; messages may be empty.
	ChatCompletionRequest struct {
		Model    string        `json:"model"`
		Messages []ChatMessage `json:"messages"`
	}

	// SpeechRequest mirrors POST /v1/audio/speech. Voice and Format are
	// optional; pointers keep "absent" distinct from "empty" so the forwarded
	// body matches what the client sent.
	SpeechRequest struct {
		Input  string  `json:"input"`
		Voice  *string `json:"voice,omitempty"`
		Format *string `json:"format,omitempty"`
	}
)
