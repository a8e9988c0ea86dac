package chat

import (
	"encoding/json"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/id"
)

// systemFingerprint is stamped on every synthesized stream chunk.
const systemFingerprint = "fp_44709d6fcb"

// Chunks splits text into streaming chunks of at least size runes each. A
// chunk never ends mid-word: it extends to the next whitespace run, absorbs
// that run, and takes one trailing newline when present. Concatenating the
// chunks restores the input exactly.
func Chunks(text string, size int) []string {
	runes := []rune(text)
	var chunks []string

	i := 0
	for i < len(runes) {
		start := i
		for i < len(runes) && i-start < size {
			i++
		}
		if i < len(runes) {
			for i < len(runes) && !unicode.IsSpace(runes[i]) {
				i++
			}
			for i < len(runes) && unicode.IsSpace(runes[i]) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) && runes[i] == '\n' {
				i++
			}
		}
		if i > start {
			chunks = append(chunks, string(runes[start:i]))
		}
	}
	return chunks
}

// Frames synthesizes the SSE event sequence for a finished assistant answer:
// one data event per chunk, finish_reason "stop" plus the downstream usage
// on the last content frame, then the [DONE] marker. An empty answer still
// yields one terminating content frame so every stream carries a stop.
func Frames(text, chatID, model string, usage *openai.Usage, chunkSize int) []string {
	chunks := Chunks(text, chunkSize)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	frames := make([]string, 0, len(chunks)+1)
	for i, chunk := range chunks {
		frame := openai.ChatCompletionStreamResponse{
			ID:                chatID,
			Object:            "chat.completion.chunk",
			Created:           time.Now().Unix(),
			Model:             model,
			SystemFingerprint: systemFingerprint,
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{
					Role:    openai.ChatMessageRoleAssistant,
					Content: chunk,
				},
			}},
		}
		if i == len(chunks)-1 {
			frame.Choices[0].FinishReason = openai.FinishReasonStop
			frame.Usage = usage
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		frames = append(frames, "data: "+string(payload)+"\n\n")
	}
	return append(frames, "data: [DONE]\n\n")
}

func newChatID() string { return id.NewChat() }
