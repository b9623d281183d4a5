package service

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"botforge/internal/model/source"
	"botforge/internal/pkg/embedding"
	"botforge/internal/repository"
)

// ScoredChunk 检索结果
type ScoredChunk struct {
	Chunk *source.Chunk
	Score float64
}

// Retriever 在机器人的已入库切片中做余弦相似度 top-k 检索
type Retriever struct {
	sources  repository.SourceRepository
	embedder embedding.Embedder
	floor    float64
}

// NewRetriever 创建检索器，分数低于 floor 的切片被丢弃
func NewRetriever(sources repository.SourceRepository, embedder embedding.Embedder, floor float64) *Retriever {
	return &Retriever{sources: sources, embedder: embedder, floor: floor}
}

// Retrieve 返回分数降序的前 k 个切片，同分按 (source_id, ordinal) 升序
//
// 查询向量化失败时返回错误；读取切片失败视为没有切片。
func (r *Retriever) Retrieve(ctx context.Context, botID, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return []ScoredChunk{}, nil
	}

	chunks, err := r.sources.ListChunks(ctx, botID)
	if err != nil {
		log.Warn().Err(err).Str("bot_id", botID).Msg("failed to load chunks, retrieving nothing")
		return []ScoredChunk{}, nil
	}
	if len(chunks) == 0 {
		return []ScoredChunk{}, nil
	}

	qv, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	return TopK(qv, chunks, k, r.floor), nil
}

// TopK 对切片打分排序，结果只依赖输入
func TopK(query []float32, chunks []*source.Chunk, k int, floor float64) []ScoredChunk {
	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Vector) != len(query) {
			continue
		}
		s := Cosine(query, c.Vector)
		if s < floor {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: s})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.SourceID != b.Chunk.SourceID {
			return a.Chunk.SourceID < b.Chunk.SourceID
		}
		return a.Chunk.Ordinal < b.Chunk.Ordinal
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Cosine 余弦相似度，零向量得分为 0
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
