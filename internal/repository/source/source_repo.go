package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"botforge/internal/model/source"
	"botforge/internal/repository"
)

// SourceRepo 知识源仓库，切片存放在独立的 chunks 集合
type SourceRepo struct {
	sources *mongo.Collection
	chunks  *mongo.Collection
}

// NewSourceRepo 创建知识源仓库
func NewSourceRepo(db *mongo.Database) *SourceRepo {
	return &SourceRepo{
		sources: db.Collection((&source.Source{}).Collection()),
		chunks:  db.Collection((&source.Chunk{}).Collection()),
	}
}

// Create 创建知识源，初始状态为 pending
func (r *SourceRepo) Create(ctx context.Context, s *source.Source) error {
	now := time.Now().UTC()
	s.Status = source.StatusPending
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.sources.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	return err
}

// FindByID 根据ID查询
func (r *SourceRepo) FindByID(ctx context.Context, id string) (*source.Source, error) {
	var s source.Source
	if err := r.sources.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListByBot 查询机器人的全部知识源
func (r *SourceRepo) ListByBot(ctx context.Context, botID string) ([]*source.Source, error) {
	return r.find(ctx, bson.M{"bot_id": botID})
}

// ListByStatus 按状态查询，用于启动时恢复
func (r *SourceRepo) ListByStatus(ctx context.Context, status source.Status) ([]*source.Source, error) {
	return r.find(ctx, bson.M{"status": status})
}

// ListProcessed 查询已入库的知识源
func (r *SourceRepo) ListProcessed(ctx context.Context, botID string) ([]*source.Source, error) {
	return r.find(ctx, bson.M{"bot_id": botID, "status": source.StatusProcessed})
}

func (r *SourceRepo) find(ctx context.Context, filter bson.M) ([]*source.Source, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: 1}, bson.E{Key: "_id", Value: 1}})
	cursor, err := r.sources.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]*source.Source, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transition 条件更新状态，当前状态不是 from 时返回 ErrInvalidTransition
func (r *SourceRepo) Transition(ctx context.Context, id string, from, to source.Status) error {
	if !source.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	res, err := r.sources.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.missOrConflict(ctx, id, from, to)
	}
	return nil
}

// AttachChunks 先写入切片，再把 processing 推进到 processed
//
// 检索只读取 processed 知识源的切片，推进状态之前写入的切片对读方不可见。
func (r *SourceRepo) AttachChunks(ctx context.Context, id string, chunks []*source.Chunk) error {
	s, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if s.Status != source.StatusProcessing {
		return fmt.Errorf("%w: attach chunks in %s", repository.ErrInvalidTransition, s.Status)
	}

	// 清理上次中断留下的切片
	if _, err := r.chunks.DeleteMany(ctx, bson.M{"source_id": id}); err != nil {
		return err
	}

	if len(chunks) > 0 {
		now := time.Now().UTC()
		docs := make([]interface{}, 0, len(chunks))
		for _, c := range chunks {
			c.SourceID = id
			c.BotID = s.BotID
			c.CreatedAt = now
			docs = append(docs, c)
		}
		if _, err := r.chunks.InsertMany(ctx, docs); err != nil {
			r.dropChunks(id)
			return err
		}
	}

	now := time.Now().UTC()
	res, err := r.sources.UpdateOne(ctx,
		bson.M{"_id": id, "status": source.StatusProcessing},
		bson.M{"$set": bson.M{
			"status":       source.StatusProcessed,
			"chunk_count":  len(chunks),
			"processed_at": now,
			"updated_at":   now,
		}},
	)
	if err != nil || res.MatchedCount == 0 {
		r.dropChunks(id)
		if err != nil {
			return err
		}
		return r.missOrConflict(ctx, id, source.StatusProcessing, source.StatusProcessed)
	}
	return nil
}

// MarkFailed 记录失败原因并推进到 failed，同时删除残留切片
func (r *SourceRepo) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.sources.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []source.Status{source.StatusPending, source.StatusProcessing}}},
		bson.M{"$set": bson.M{
			"status":         source.StatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.missOrConflict(ctx, id, "", source.StatusFailed)
	}
	_, err = r.chunks.DeleteMany(ctx, bson.M{"source_id": id})
	return err
}

// ListChunks 查询机器人所有 processed 知识源的切片
//
// 删除知识源时先删文档再删切片，读完切片后重新确认知识源仍为 processed，
// 丢弃读取期间被删除的知识源的切片，读方不会看到不完整的切片集合。
func (r *SourceRepo) ListChunks(ctx context.Context, botID string) ([]*source.Chunk, error) {
	ids, err := r.processedIDs(ctx, bson.M{"bot_id": botID, "status": source.StatusProcessed})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*source.Chunk{}, nil
	}

	chunkOpts := options.Find().SetSort(bson.D{bson.E{Key: "source_id", Value: 1}, bson.E{Key: "ordinal", Value: 1}})
	chunkCursor, err := r.chunks.Find(ctx, bson.M{"source_id": bson.M{"$in": ids}}, chunkOpts)
	if err != nil {
		return nil, err
	}
	defer chunkCursor.Close(ctx)

	chunks := make([]*source.Chunk, 0)
	if err := chunkCursor.All(ctx, &chunks); err != nil {
		return nil, err
	}

	still, err := r.processedIDs(ctx, bson.M{"_id": bson.M{"$in": ids}, "status": source.StatusProcessed})
	if err != nil {
		return nil, err
	}
	if len(still) == len(ids) {
		return chunks, nil
	}
	alive := make(map[string]struct{}, len(still))
	for _, id := range still {
		alive[id] = struct{}{}
	}
	out := chunks[:0]
	for _, c := range chunks {
		if _, ok := alive[c.SourceID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *SourceRepo) processedIDs(ctx context.Context, filter bson.M) ([]string, error) {
	cursor, err := r.sources.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var refs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &refs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// Delete 删除终态知识源及其切片；文档先于切片删除，见 ListChunks
func (r *SourceRepo) Delete(ctx context.Context, id string) error {
	res, err := r.sources.DeleteOne(ctx, bson.M{
		"_id":    id,
		"status": bson.M{"$in": []source.Status{source.StatusProcessed, source.StatusFailed}},
	})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: source %s is not in a terminal state", repository.ErrInvalidTransition, id)
	}
	_, err = r.chunks.DeleteMany(ctx, bson.M{"source_id": id})
	return err
}

// DeleteByBot 删除机器人的全部知识源与切片
func (r *SourceRepo) DeleteByBot(ctx context.Context, botID string) ([]*source.Source, error) {
	sources, err := r.ListByBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if _, err := r.sources.DeleteMany(ctx, bson.M{"bot_id": botID}); err != nil {
		return nil, err
	}
	if _, err := r.chunks.DeleteMany(ctx, bson.M{"bot_id": botID}); err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *SourceRepo) missOrConflict(ctx context.Context, id string, from, to source.Status) error {
	s, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if from == "" {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, s.Status, to)
	}
	return fmt.Errorf("%w: expected %s, found %s", repository.ErrInvalidTransition, from, s.Status)
}

// dropChunks 失败路径上的清理，使用独立 context 避免被调用方取消
func (r *SourceRepo) dropChunks(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = r.chunks.DeleteMany(ctx, bson.M{"source_id": id})
}
