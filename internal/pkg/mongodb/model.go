package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
)

// Model 需要维护索引的持久化实体
type Model interface {
	Collection() string
	EnsureIndexes(ctx context.Context, db *mongo.Database) error
}

// EnsureAllIndexes 依次为各模型建索引，单个失败不影响其余模型，返回合并后的错误
func EnsureAllIndexes(ctx context.Context, db *mongo.Database, models ...Model) error {
	var errs []error
	for _, m := range models {
		if err := m.EnsureIndexes(ctx, db); err != nil {
			log.Error().Err(err).Str("collection", m.Collection()).Msg("failed to ensure indexes")
			errs = append(errs, fmt.Errorf("%s: %w", m.Collection(), err))
			continue
		}
		log.Debug().Str("collection", m.Collection()).Msg("indexes ensured")
	}
	return errors.Join(errs...)
}
