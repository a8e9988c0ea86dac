package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/longregen/relay/internal/llm"
	"github.com/longregen/relay/internal/registry"
	"github.com/longregen/relay/internal/tools"
	"github.com/longregen/relay/pkg/otel"
)

// ingestCmd loads a document into the vector tool server
func ingestCmd() *cobra.Command {
	var (
		file       string
		collection string
		chunkSize  int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk a document and load it into the vector tool server",
		Long: `Read a text or markdown file, chunk it on paragraph boundaries,
embed every chunk and upsert the points into the configured vector
tool server.

Requires a downstream server with the "embeddings" capability under
downstream_servers and a vector tool server exposing the
create_collection and upsert_points tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), file, collection, chunkSize)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "text or markdown file to ingest")
	cmd.Flags().StringVar(&collection, "collection", "", "name of the vector collection")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 1024, "maximum chunk size in bytes")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runIngest(ctx context.Context, file, collection string, chunkSize int) error {
	logger := slog.New(otel.NewPrettyHandler())
	slog.SetDefault(logger)

	if cfg.RAG.VectorServer == "" {
		return fmt.Errorf("no vector tool server configured; set rag.vector_server")
	}
	if chunkSize < 1 {
		return fmt.Errorf("chunk-size must be at least 1")
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), ".")
	if ext != "txt" && ext != "md" {
		return fmt.Errorf("only files with 'txt' and 'md' extensions are supported")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	chunks := chunkText(string(data), chunkSize)
	if len(chunks) == 0 {
		return fmt.Errorf("no content to ingest in %s", file)
	}
	logger.Info("chunked document", "file", file, "chunks", len(chunks), "chunk_size", chunkSize)

	reg := registry.New(logger)
	seedDownstream(ctx, reg, logger)
	router := llm.NewRouter(reg)

	pool := tools.NewPool(logger)
	defer pool.Close()

	var connected bool
	for _, tc := range cfg.ToolServers {
		if tc.Name != cfg.RAG.VectorServer {
			continue
		}
		if err := pool.Connect(ctx, tc); err != nil {
			return fmt.Errorf("failed to connect to tool server %s: %w", tc.Name, err)
		}
		connected = true
	}
	if !connected {
		return fmt.Errorf("vector tool server %q is not configured under tool_servers", cfg.RAG.VectorServer)
	}

	resp, err := router.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: chunks,
		User:  "ingest",
	})
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(resp.Data) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(resp.Data))
	}

	size := len(resp.Data[0].Embedding)
	if _, err := pool.CallTool(ctx, cfg.RAG.VectorServer, "create_collection", map[string]any{
		"name": collection,
		"size": size,
	}); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	logger.Info("collection ready", "collection", collection, "dimensions", size)

	points := make([]map[string]any, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(chunks) {
			return fmt.Errorf("embedding index %d out of range for %d chunks", d.Index, len(chunks))
		}
		points = append(points, map[string]any{
			"id":     d.Index,
			"vector": d.Embedding,
			"payload": map[string]any{
				"source": chunks[d.Index],
			},
		})
	}

	if _, err := pool.CallTool(ctx, cfg.RAG.VectorServer, "upsert_points", map[string]any{
		"name":   collection,
		"points": points,
	}); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.Info("ingested document", "file", file, "collection", collection, "points", len(points))
	return nil
}

// chunkText splits text into chunks of at most capacity bytes, preferring
// paragraph boundaries and falling back to word boundaries for oversized
// paragraphs. A single word longer than capacity stays intact.
func chunkText(text string, capacity int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > capacity {
			flush()
			chunks = append(chunks, splitWords(para, capacity)...)
			continue
		}
		if current.Len() > 0 && current.Len()+2+len(para) > capacity {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// splitWords splits one oversized paragraph on word boundaries.
func splitWords(para string, capacity int) []string {
	var chunks []string
	var current strings.Builder

	for _, word := range strings.Fields(para) {
		if current.Len() > 0 && current.Len()+1+len(word) > capacity {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
