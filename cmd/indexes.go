package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"botforge/internal/pkg/mongodb"
)

var indexesCmd = &cobra.Command{
	Use:   "ensure-indexes",
	Short: "Create MongoDB indexes and exit",
	RunE:  runEnsureIndexes,
}

func init() {
	rootCmd.AddCommand(indexesCmd)
}

func runEnsureIndexes(cmd *cobra.Command, args []string) error {
	client, err := connectMongo()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close(context.Background())
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	if err := mongodb.EnsureIndexes(ctx, client.Database()); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	log.Info().Int("models", len(mongodb.AllModels())).Msg("indexes ensured")
	return nil
}

// connectMongo 管理命令只作用于持久化存储
func connectMongo() (*mongodb.Client, error) {
	cfg := GetConfig()
	if cfg.Mongo.URI == "" {
		return nil, errors.New("mongo.uri is not configured (BOTFORGE_MONGO_URI)")
	}
	client, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	return client, nil
}
