// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/provider"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// chatCompletionRequest is the OpenAI-compatible request body. Model
// accepts a friendly name, "provider/model", or "auto".
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// registerChatRoute mounts the OpenAI-compatible completion endpoint
// outside huma: the wire shape, error body included, must match what
// OpenAI clients expect byte for byte.
func (s *Server) registerChatRoute() {
	s.router.Post("/v1/chat/completions", s.handleChatCompletion)
}

func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var in chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "", "malformed JSON body: "+err.Error())
		return
	}
	if len(in.Messages) == 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "", "messages must not be empty")
		return
	}
	if in.Stream {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "", "streaming is not supported")
		return
	}

	req := &provider.Request{
		Messages:    make([]provider.Message, 0, len(in.Messages)),
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	}
	for _, m := range in.Messages {
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.MessageRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := s.services.dispatcher.Dispatch(r.Context(), in.Model, req)
	if err != nil {
		status := relayerr.HTTPStatus(err)
		slog.Warn("chat completion failed", "model", in.Model, "status", status, "error", err)
		writeAPIError(w, status, errorTypeForStatus(status), string(relayerr.CodeOf(err)), err.Error())
		return
	}

	out := chatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Provider + "/" + resp.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: resp.Content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Warn("writing chat completion response", "error", err)
	}
}

func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}

func writeAPIError(w http.ResponseWriter, status int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := apiError{Error: apiErrorDetail{Message: message, Type: errType, Code: code}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("writing error response", "error", err)
	}
}
