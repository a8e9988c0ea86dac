package main

import (
	"slices"
	"strings"
	"testing"
)

func TestChunkTextKeepsParagraphsTogether(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."

	chunks := chunkText(text, 1024)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != text {
		t.Errorf("expected paragraphs joined unchanged, got %q", chunks[0])
	}
}

func TestChunkTextSplitsOnParagraphBoundary(t *testing.T) {
	chunks := chunkText("aaaa\n\nbbbb\n\ncccc", 10)

	want := []string{"aaaa\n\nbbbb", "cccc"}
	if !slices.Equal(chunks, want) {
		t.Errorf("expected %q, got %q", want, chunks)
	}
}

func TestChunkTextSplitsOversizedParagraphOnWords(t *testing.T) {
	chunks := chunkText("one two three four five", 9)

	want := []string{"one two", "three", "four five"}
	if !slices.Equal(chunks, want) {
		t.Errorf("expected %q, got %q", want, chunks)
	}

	t.Run("long word kept intact", func(t *testing.T) {
		chunks := chunkText("supercalifragilistic", 5)
		if len(chunks) != 1 || chunks[0] != "supercalifragilistic" {
			t.Errorf("expected the word as one chunk, got %q", chunks)
		}
	})
}

func TestChunkTextCapacityRespected(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 40) +
		"\n\n" + strings.Repeat("word ", 100)

	for _, chunk := range chunkText(text, 64) {
		if len(chunk) > 64 {
			t.Errorf("chunk exceeds capacity: %d bytes: %q", len(chunk), chunk)
		}
		if chunk == "" {
			t.Error("empty chunk produced")
		}
	}
}

func TestChunkTextEmptyInput(t *testing.T) {
	if got := chunkText("", 100); got != nil {
		t.Errorf("expected no chunks for empty input, got %q", got)
	}
	if got := chunkText("\n\n   \n\n", 100); got != nil {
		t.Errorf("expected no chunks for blank input, got %q", got)
	}
}
