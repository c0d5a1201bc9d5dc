package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hrygo/productsense/ai/catalog"
	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/ai/observability/logging"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed products and reviews that have no vector for the configured embedding model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		slog.SetDefault(logging.Setup(p.Mode, os.Stderr))

		ctx, stop := signal.NotifyContext(context.Background(), terminationSignals...)
		defer stop()

		st, err := openStore(ctx, p)
		if err != nil {
			return err
		}
		defer st.Close()

		embedder, err := embedding.NewService(&embedding.Config{
			Provider:   p.EmbeddingProvider,
			Model:      p.EmbeddingModel,
			APIKey:     p.EmbeddingAPIKey,
			BaseURL:    p.EmbeddingBaseURL,
			Dimensions: p.EmbeddingDimensions,
		})
		if err != nil {
			return err
		}

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		stats, err := catalog.NewIndexer(st, embedder, p.EmbeddingModel, batchSize).Run(ctx)
		fmt.Printf("Embedded %d products and %d reviews with %s\n", stats.Products, stats.Reviews, p.EmbeddingModel)
		return err
	},
}

func init() {
	embedCmd.Flags().Int("batch-size", catalog.DefaultBatchSize, "rows embedded per request")
}
