package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/longregen/relay/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay - OpenAI-compatible inference gateway",
		Long: `Relay fronts a fleet of OpenAI-compatible model servers behind a
single endpoint. It routes chat, embeddings, audio and image requests,
augments chat with retrieval over MCP tool servers, and keeps
conversation memory in PostgreSQL.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		ingestCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Listen:       %s\n", cfg.ListenAddr())
			fmt.Printf("  CORS Origins: %s\n", strings.Join(cfg.Server.CORSOrigins, ", "))
			fmt.Println()

			fmt.Println("Chat:")
			fmt.Printf("  Mode:           %s\n", cfg.Chat.Mode)
			fmt.Printf("  Max Iterations: %d\n", cfg.Chat.ReactMaxIterations)
			fmt.Printf("  Chunk Size:     %d\n", cfg.Chat.ChunkSize)
			fmt.Println()

			fmt.Println("Retrieval:")
			fmt.Printf("  Enabled:        %v\n", cfg.RAG.Enabled)
			fmt.Printf("  Policy:         %s\n", cfg.RAG.Policy)
			fmt.Printf("  Vector Server:  %s\n", cfg.RAG.VectorServer)
			fmt.Printf("  Keyword Server: %s\n", cfg.RAG.KeywordServer)
			fmt.Printf("  Limit:          %d\n", cfg.RAG.Limit)
			fmt.Printf("  Threshold:      %.2f\n", cfg.RAG.ScoreThreshold)
			fmt.Println()

			fmt.Println("Memory:")
			fmt.Printf("  Enabled:       %v\n", cfg.Memory.Enabled)
			fmt.Printf("  PostgreSQL:    %s\n", maskSecret(cfg.Memory.DatabaseURL))
			fmt.Printf("  Summary Model: %s\n", cfg.Memory.SummaryModel)
			fmt.Println()

			fmt.Printf("Tool servers (%d):\n", len(cfg.ToolServers))
			for _, ts := range cfg.ToolServers {
				fmt.Printf("  %-16s %s\n", ts.Name, ts.URL)
			}
			fmt.Println()

			fmt.Printf("Downstream servers (%d):\n", len(cfg.Downstream))
			for _, ds := range cfg.Downstream {
				fmt.Printf("  %-16s %s (%s)\n", ds.ID, ds.URL, strings.Join(ds.Kind, ", "))
			}
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  RELAY_CONFIG, RELAY_SERVER_HOST, RELAY_SERVER_PORT, RELAY_CORS_ORIGINS")
			fmt.Println("  RELAY_MODE, RELAY_REACT_MAX_ITERATIONS, RELAY_CHUNK_SIZE")
			fmt.Println("  RELAY_RAG_ENABLED, RELAY_RAG_POLICY, RELAY_RAG_SCORE_THRESHOLD")
			fmt.Println("  RELAY_MEMORY_ENABLED, RELAY_DATABASE_URL")
			fmt.Println("  RELAY_OTLP_ENDPOINT, RELAY_ENVIRONMENT")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Relay %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
