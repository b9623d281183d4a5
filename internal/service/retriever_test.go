package service

import (
	"context"
	"errors"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"botforge/internal/model/source"
	"botforge/internal/repository"
	"botforge/internal/repository/memory"
)

type brokenChunks struct {
	repository.SourceRepository
}

func (brokenChunks) ListChunks(ctx context.Context, botID string) ([]*source.Chunk, error) {
	return nil, errors.New("connection reset")
}

func TestTopK(t *testing.T) {
	Convey("TopK", t, func() {
		chunk := func(sourceID string, ordinal int, v ...float32) *source.Chunk {
			return &source.Chunk{SourceID: sourceID, Ordinal: ordinal, Vector: v}
		}
		query := []float32{1, 0}

		Convey("按分数降序截取前 k 个", func() {
			chunks := []*source.Chunk{
				chunk("a", 0, 0, 1),
				chunk("a", 1, 1, 0),
				chunk("a", 2, 1, 1),
			}
			got := TopK(query, chunks, 2, 0)
			So(got, ShouldHaveLength, 2)
			So(got[0].Chunk.Ordinal, ShouldEqual, 1)
			So(got[0].Score, ShouldAlmostEqual, 1.0, 1e-9)
			So(got[1].Chunk.Ordinal, ShouldEqual, 2)
			So(got[1].Score, ShouldAlmostEqual, 1/math.Sqrt2, 1e-9)
		})

		Convey("同分按 source_id 和 ordinal 升序", func() {
			chunks := []*source.Chunk{
				chunk("b", 0, 2, 0),
				chunk("a", 3, 1, 0),
				chunk("a", 1, 3, 0),
			}
			want := []string{"a/1", "a/3", "b/0"}
			for _, input := range [][]*source.Chunk{
				chunks,
				{chunks[2], chunks[0], chunks[1]},
				{chunks[1], chunks[2], chunks[0]},
			} {
				got := TopK(query, input, 3, 0)
				keys := make([]string, len(got))
				for i, c := range got {
					keys[i] = c.Chunk.SourceID + "/" + string(rune('0'+c.Chunk.Ordinal))
				}
				So(keys, ShouldResemble, want)
			}
		})

		Convey("低于下限或维度不符的切片被丢弃", func() {
			chunks := []*source.Chunk{
				chunk("a", 0, 0, 1),
				chunk("a", 1, 1, 0, 0),
				chunk("a", 2, 1, 0.1),
			}
			got := TopK(query, chunks, 5, 0.5)
			So(got, ShouldHaveLength, 1)
			So(got[0].Chunk.Ordinal, ShouldEqual, 2)
		})

		Convey("零向量得分为 0", func() {
			So(Cosine([]float32{0, 0}, []float32{1, 0}), ShouldEqual, 0)
		})
	})
}

func TestRetriever(t *testing.T) {
	Convey("Retriever", t, func() {
		ctx := context.Background()
		sources := memory.NewSourceRepo()
		embedder := &wordEmbedder{}

		Convey("没有切片时不调用向量化", func() {
			r := NewRetriever(sources, embedder, 0)
			got, err := r.Retrieve(ctx, "bot", "anything", 5)
			So(err, ShouldBeNil)
			So(got, ShouldBeEmpty)
			So(embedder.callCount(), ShouldEqual, 0)
		})

		Convey("只检索已入库的知识源", func() {
			for _, id := range []string{"s1", "s2"} {
				So(sources.Create(ctx, &source.Source{ID: id, BotID: "bot", Kind: source.KindText}), ShouldBeNil)
				So(sources.Transition(ctx, id, source.StatusPending, source.StatusProcessing), ShouldBeNil)
			}
			So(sources.AttachChunks(ctx, "s1", []*source.Chunk{
				{ID: "c1", Ordinal: 0, Text: "refund policy thirty days", Vector: bagOfWords("refund policy thirty days")},
			}), ShouldBeNil)

			r := NewRetriever(sources, embedder, 0)
			got, err := r.Retrieve(ctx, "bot", "what is the refund policy", 5)
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)
			So(got[0].Chunk.SourceID, ShouldEqual, "s1")
			So(got[0].Score, ShouldBeGreaterThan, 0)
		})

		Convey("读取切片失败视为无结果", func() {
			r := NewRetriever(brokenChunks{sources}, embedder, 0)
			got, err := r.Retrieve(ctx, "bot", "q", 5)
			So(err, ShouldBeNil)
			So(got, ShouldBeEmpty)
		})

		Convey("查询向量化失败返回错误", func() {
			So(sources.Create(ctx, &source.Source{ID: "s1", BotID: "bot", Kind: source.KindText}), ShouldBeNil)
			So(sources.Transition(ctx, "s1", source.StatusPending, source.StatusProcessing), ShouldBeNil)
			So(sources.AttachChunks(ctx, "s1", []*source.Chunk{{ID: "c1", Text: "x", Vector: bagOfWords("x")}}), ShouldBeNil)
			embedder.setFail(true)

			r := NewRetriever(sources, embedder, 0)
			_, err := r.Retrieve(ctx, "bot", "q", 5)
			So(err, ShouldNotBeNil)
		})
	})
}
