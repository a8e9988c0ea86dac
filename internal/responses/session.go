// Package responses implements the OpenAI Responses API on top of the
// session store: stateless POST /v1/responses calls chained together via
// previous_response_id.
package responses

import (
	"encoding/json"
	"strconv"
	"time"
)

// Session is one Responses API conversation, persisted as a single JSONB
// row keyed by its first response id. Messages are keyed by their
// stringified insertion index so the JSONB scan can match response ids.
type Session struct {
	ResponseID string                    `json:"response_id"`
	Created    int64                     `json:"created"`
	ModelUsed  string                    `json:"model_used"`
	Messages   map[string]SessionMessage `json:"messages"`
	Extended   json.RawMessage           `json:"extended_data,omitempty"`
}

type SessionMessage struct {
	Role         string `json:"role"`
	Content      string `json:"content"`
	Tokens       int    `json:"tokens"`
	CreatedAt    int64  `json:"created_at"`
	ResponseTime int64  `json:"response_time,omitempty"`
	ResponseID   string `json:"response_id,omitempty"`
}

// NewSession seeds a session. A non-empty instructions string becomes
// message 0 with the system role.
func NewSession(responseID, model, instructions string) *Session {
	s := &Session{
		ResponseID: responseID,
		Created:    time.Now().Unix(),
		ModelUsed:  model,
		Messages:   make(map[string]SessionMessage),
	}
	if instructions != "" {
		s.Messages["0"] = SessionMessage{
			Role:      "system",
			Content:   instructions,
			CreatedAt: s.Created,
		}
	}
	return s
}

// AddMessage appends a message at the next index. responseID tags assistant
// replies so later calls can resume the session by any response id it
// produced.
func (s *Session) AddMessage(role, content string, tokens int, responseTimeMS int64, responseID string) {
	index := strconv.Itoa(len(s.Messages))
	s.Messages[index] = SessionMessage{
		Role:         role,
		Content:      content,
		Tokens:       tokens,
		CreatedAt:    time.Now().Unix(),
		ResponseTime: responseTimeMS,
		ResponseID:   responseID,
	}
}

// History returns the messages in insertion order.
func (s *Session) History() []SessionMessage {
	out := make([]SessionMessage, 0, len(s.Messages))
	for i := 0; i < len(s.Messages); i++ {
		if msg, ok := s.Messages[strconv.Itoa(i)]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// estimateTokens approximates a token count as ceil(len/4), the same
// heuristic the memory manager uses.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
