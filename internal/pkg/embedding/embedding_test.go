package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// stubBackend 把输入的序号编码进向量，便于校验顺序
type stubBackend struct {
	mu      sync.Mutex
	batches []int
	err     error
	dim     int
	delay   time.Duration
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.batches = append(s.batches, len(texts))
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		n, _ := strconv.Atoi(t)
		v := make([]float32, s.dim)
		v[0] = float32(n)
		out[i] = v
	}
	return out, nil
}

func TestClient_EmbedTexts(t *testing.T) {
	Convey("EmbedTexts 分批调用后端并保持输入顺序", t, func() {
		ctx := context.Background()
		backend := &stubBackend{dim: 3}
		client := NewClient(backend, Options{Dimension: 3, BatchSize: 100, Concurrency: 4, Timeout: time.Second})

		Convey("空输入不调用后端", func() {
			out, err := client.EmbedTexts(ctx, nil)
			So(err, ShouldBeNil)
			So(out, ShouldBeEmpty)
			So(backend.batches, ShouldBeEmpty)
		})

		Convey("250 条输入拆成 100/100/50 三批", func() {
			texts := make([]string, 250)
			for i := range texts {
				texts[i] = strconv.Itoa(i)
			}
			out, err := client.EmbedTexts(ctx, texts)
			So(err, ShouldBeNil)
			So(out, ShouldHaveLength, 250)
			for i, v := range out {
				So(v[0], ShouldEqual, float32(i))
			}
			So(backend.batches, ShouldHaveLength, 3)
			total := 0
			for _, n := range backend.batches {
				So(n, ShouldBeLessThanOrEqualTo, MaxBatchSize)
				total += n
			}
			So(total, ShouldEqual, 250)
		})

		Convey("后端错误返回 ErrEmbeddingUnavailable，不返回零向量", func() {
			backend.err = errors.New("boom")
			out, err := client.EmbedTexts(ctx, []string{"1"})
			So(errors.Is(err, ErrEmbeddingUnavailable), ShouldBeTrue)
			So(out, ShouldBeNil)
		})

		Convey("超时视为不可用", func() {
			backend.delay = time.Second
			client := NewClient(backend, Options{Dimension: 3, Timeout: 20 * time.Millisecond})
			_, err := client.EmbedQuery(ctx, "1")
			So(errors.Is(err, ErrEmbeddingUnavailable), ShouldBeTrue)
		})

		Convey("维度不一致时报错", func() {
			client := NewClient(backend, Options{Dimension: 8, Timeout: time.Second})
			_, err := client.EmbedTexts(ctx, []string{"1"})
			So(errors.Is(err, ErrDimensionMismatch), ShouldBeTrue)
		})

		Convey("非法的批大小回落到上限", func() {
			client := NewClient(backend, Options{BatchSize: 500})
			So(client.opts.BatchSize, ShouldEqual, MaxBatchSize)
			So(client.opts.Concurrency, ShouldEqual, 1)
		})
	})
}

func TestOpenAIBackend_Embed(t *testing.T) {
	Convey("OpenAI 兼容后端", t, func() {
		var got struct {
			Model      string   `json:"model"`
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/embeddings" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.Header().Set("Content-Type", "application/json")
			if got.Input[0] == "fail" {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[` +
				`{"object":"embedding","index":0,"embedding":[1,0]},` +
				`{"object":"embedding","index":1,"embedding":[0,1]}],` +
				`"usage":{"prompt_tokens":2,"total_tokens":2}}`))
		}))
		defer srv.Close()

		ctx := context.Background()
		b, err := NewOpenAIBackend(ctx, srv.URL+"/v1/", "sk-test", "text-embedding-3-small", 2, srv.Client())
		So(err, ShouldBeNil)

		Convey("携带密钥和维度，结果转为 float32", func() {
			out, err := b.Embed(ctx, []string{"a", "b"})
			So(err, ShouldBeNil)
			So(out, ShouldResemble, [][]float32{{1, 0}, {0, 1}})
			So(auth, ShouldEqual, "Bearer sk-test")
			So(got.Model, ShouldEqual, "text-embedding-3-small")
			So(got.Dimensions, ShouldEqual, 2)
		})

		Convey("非 200 返回错误", func() {
			_, err := b.Embed(ctx, []string{"fail"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "429")
		})

		Convey("旧模型不发送 dimensions", func() {
			old, err := NewOpenAIBackend(ctx, srv.URL+"/v1", "sk-test", "text-embedding-ada-002", 2, srv.Client())
			So(err, ShouldBeNil)
			_, err = old.Embed(ctx, []string{"a", "b"})
			So(err, ShouldBeNil)
			So(got.Dimensions, ShouldEqual, 0)
		})

		Convey("经 Client 包装后上游错误归为 ErrEmbeddingUnavailable", func() {
			client := NewClient(b, Options{Dimension: 2})
			_, err := client.EmbedTexts(ctx, []string{"fail"})
			So(errors.Is(err, ErrEmbeddingUnavailable), ShouldBeTrue)
		})
	})
}
