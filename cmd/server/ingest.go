package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kloudping-venkat/DevopsMate/internal/rag"
	"github.com/kloudping-venkat/DevopsMate/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var ingestKB string

var ingestCmd = &cobra.Command{
	Use:   "ingest --kb <id> <files...>",
	Short: "Ingest local files into a knowledge base",
	Long: `Ingest chunks, embeds and indexes each file through the same pipeline the
API uses. A file is keyed by its name, so ingesting it again replaces the
previous version.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		srv, err := server.New(ctx)
		if err != nil {
			return fmt.Errorf("initialize server: %w", err)
		}
		defer srv.Shutdown(context.Background())

		failed := 0
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("Cannot read file")
				failed++
				continue
			}
			name := filepath.Base(path)
			doc, err := srv.Engine.Ingest(ctx, rag.DocumentInput{
				ID:              rag.DocumentIDForFile(ingestKB, name),
				KnowledgeBaseID: ingestKB,
				Title:           strings.TrimSuffix(name, filepath.Ext(name)),
				Content:         string(content),
				SourceRef:       path,
			})
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("Ingestion failed")
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\n", doc.ID, doc.Status, doc.ChunkCount)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKB, "kb", "", "knowledge base id")
	ingestCmd.MarkFlagRequired("kb")
}
