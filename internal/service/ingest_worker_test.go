package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"botforge/internal/model/source"
	"botforge/internal/model/usage"
	"botforge/internal/pkg/chunker"
	"botforge/internal/pkg/extractor"
)

func TestIngestor(t *testing.T) {
	Convey("Ingestor", t, func() {
		env := newTestEnv(t)
		ctx := context.Background()
		b := env.createBot(env.tenantID, "")

		load := func(id string) *source.Source {
			src, err := env.stores.Sources.FindByID(ctx, id)
			So(err, ShouldBeNil)
			return src
		}

		Convey("文本知识源切片入库", func() {
			text := strings.Repeat("Our support team answers every ticket within one business day. ", 12)
			src, err := env.sources.CreateText(ctx, env.tenantID, b.ID, "sla", text)
			So(err, ShouldBeNil)
			So(src.Status, ShouldEqual, source.StatusPending)

			env.drain()
			got := load(src.ID)
			So(got.Status, ShouldEqual, source.StatusProcessed)
			So(got.ChunkCount, ShouldBeGreaterThan, 1)
			So(got.ProcessedAt, ShouldNotBeNil)

			chunks, err := env.stores.Sources.ListChunks(ctx, b.ID)
			So(err, ShouldBeNil)
			So(chunks, ShouldHaveLength, got.ChunkCount)
			for i, c := range chunks {
				So(c.Ordinal, ShouldEqual, i)
				So(c.Vector, ShouldHaveLength, testDim)
				So(c.BotID, ShouldEqual, b.ID)
			}
		})

		Convey("上传的 txt 文件从存储读取", func() {
			body := "Shipping is free for orders above fifty euros."
			src, err := env.sources.CreateFile(ctx, env.tenantID, b.ID, &FileUpload{
				FileName: "faq.txt",
				Size:     int64(len(body)),
				Body:     bytes.NewBufferString(body),
			})
			So(err, ShouldBeNil)
			So(src.StorageKey, ShouldEqual, fmt.Sprintf("sources/%s/%s.txt", b.ID, src.ID))

			env.drain()
			got := load(src.ID)
			So(got.Status, ShouldEqual, source.StatusProcessed)
			So(got.ChunkCount, ShouldEqual, 1)
		})

		Convey("无法访问的网址置为失败且没有切片", func() {
			srv := httptest.NewServer(http.NotFoundHandler())
			addr := srv.URL
			srv.Close()

			src, err := env.sources.CreateURL(ctx, env.tenantID, b.ID, addr+"/docs")
			So(err, ShouldBeNil)
			So(src.Status, ShouldEqual, source.StatusPending)

			env.drain()
			got := load(src.ID)
			So(got.Status, ShouldEqual, source.StatusFailed)
			So(got.FailureReason, ShouldNotBeEmpty)
			So(got.ChunkCount, ShouldEqual, 0)

			chunks, _ := env.stores.Sources.ListChunks(ctx, b.ID)
			So(chunks, ShouldBeEmpty)
		})

		Convey("网页正文被提取", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte("<html><head><script>var x=1;</script></head><body><h1>Pricing</h1><p>The starter plan costs nine dollars.</p></body></html>"))
			}))
			defer srv.Close()

			src, err := env.sources.CreateURL(ctx, env.tenantID, b.ID, srv.URL)
			So(err, ShouldBeNil)
			env.drain()

			got := load(src.ID)
			So(got.Status, ShouldEqual, source.StatusProcessed)
			chunks, _ := env.stores.Sources.ListChunks(ctx, b.ID)
			So(chunks, ShouldHaveLength, 1)
			So(chunks[0].Text, ShouldContainSubstring, "nine dollars")
			So(chunks[0].Text, ShouldNotContainSubstring, "var x")
		})

		Convey("没有可提取文本时失败", func() {
			src, err := env.sources.CreateFile(ctx, env.tenantID, b.ID, &FileUpload{
				FileName: "blank.txt",
				Size:     4,
				Body:     bytes.NewBufferString(" \n\t "),
			})
			So(err, ShouldBeNil)
			env.drain()

			got := load(src.ID)
			So(got.Status, ShouldEqual, source.StatusFailed)
			So(got.FailureReason, ShouldEqual, reasonNoText)
		})

		Convey("向量化失败时失败且不写入切片", func() {
			env.embedder.setFail(true)
			src, err := env.sources.CreateText(ctx, env.tenantID, b.ID, "", "some text")
			So(err, ShouldBeNil)
			env.drain()

			got := load(src.ID)
			So(got.Status, ShouldEqual, source.StatusFailed)
			So(got.FailureReason, ShouldContainSubstring, "embedding backend down")
		})

		Convey("已处理的知识源不会被重复处理", func() {
			src, err := env.sources.CreateText(ctx, env.tenantID, b.ID, "", "hello world")
			So(err, ShouldBeNil)
			env.drain()
			calls := env.embedder.callCount()

			So(env.ingestor.ProcessOne(ctx, src.ID), ShouldBeNil)
			So(env.embedder.callCount(), ShouldEqual, calls)
			So(load(src.ID).Status, ShouldEqual, source.StatusProcessed)
		})

		Convey("读方要么看到全部切片要么一个也看不到", func() {
			text := strings.Repeat("Each sentence here becomes part of a chunk for the atomicity check. ", 40)
			src, err := env.sources.CreateText(ctx, env.tenantID, b.ID, "", text)
			So(err, ShouldBeNil)
			<-env.ingestor.jobs

			var (
				stop atomic.Bool
				wg   sync.WaitGroup
				mu   sync.Mutex
			)
			counts := map[int]bool{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for !stop.Load() {
					chunks, err := env.stores.Sources.ListChunks(ctx, b.ID)
					if err != nil {
						continue
					}
					mu.Lock()
					counts[len(chunks)] = true
					mu.Unlock()
				}
			}()

			So(env.ingestor.ProcessOne(ctx, src.ID), ShouldBeNil)
			time.Sleep(5 * time.Millisecond)
			stop.Store(true)
			wg.Wait()

			total := load(src.ID).ChunkCount
			So(total, ShouldBeGreaterThan, 1)
			for n := range counts {
				So(n == 0 || n == total, ShouldBeTrue)
			}
		})

		Convey("队列满时立即受理，定期扫描补齐 pending 知识源", func() {
			small := NewIngestor(
				env.stores.Sources,
				env.storage,
				extractor.New(extractor.Options{}),
				chunker.New(chunker.Options{MaxChars: 200, Overlap: 20, NoSegmenter: true}),
				env.embedder,
				1,
			).WithSweepInterval(10 * time.Millisecond)
			svc := NewSourceService(env.stores.Sources, env.bots, env.storage, env.quota, small)

			ids := make([]string, 3)
			for n := range ids {
				reqCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				start := time.Now()
				src, err := svc.CreateText(reqCtx, env.tenantID, b.ID, "", fmt.Sprintf("document number %d", n))
				cancel()
				So(err, ShouldBeNil)
				So(time.Since(start), ShouldBeLessThan, 100*time.Millisecond)
				ids[n] = src.ID
			}
			So(len(small.jobs), ShouldEqual, 1)
			So(errors.Is(small.Enqueue(ctx, "another"), ErrQueueFull), ShouldBeTrue)
			So(small.Enqueue(ctx, ids[0]), ShouldBeNil)

			runCtx, stop := context.WithCancel(ctx)
			small.Start(runCtx, 2)
			processed := func() bool {
				for _, id := range ids {
					src, err := env.stores.Sources.FindByID(ctx, id)
					if err != nil || src.Status != source.StatusProcessed {
						return false
					}
				}
				return true
			}
			for deadline := time.Now().Add(2 * time.Second); !processed() && time.Now().Before(deadline); {
				time.Sleep(10 * time.Millisecond)
			}
			stop()
			small.Wait()

			for _, id := range ids {
				So(load(id).Status, ShouldEqual, source.StatusProcessed)
			}
			So(env.counter(env.tenantID, usage.CounterSourcesText), ShouldEqual, 3)
		})

		Convey("启动恢复：处理中置为失败，待处理重新入队", func() {
			for _, id := range []string{"stuck", "waiting"} {
				So(env.stores.Sources.Create(ctx, &source.Source{ID: id, BotID: b.ID, TenantID: env.tenantID, Kind: source.KindText, Content: "recover me"}), ShouldBeNil)
			}
			So(env.stores.Sources.Transition(ctx, "stuck", source.StatusPending, source.StatusProcessing), ShouldBeNil)

			So(env.ingestor.Recover(ctx), ShouldBeNil)
			stuck := load("stuck")
			So(stuck.Status, ShouldEqual, source.StatusFailed)
			So(stuck.FailureReason, ShouldEqual, reasonInterrupted)

			select {
			case id := <-env.ingestor.jobs:
				So(id, ShouldEqual, "waiting")
			case <-time.After(time.Second):
				So("pending source was not requeued", ShouldBeEmpty)
			}
		})

		Convey("worker 池处理队列直到 ctx 结束", func() {
			wctx, cancel := context.WithCancel(ctx)
			env.ingestor.Start(wctx, 2)

			src, err := env.sources.CreateText(ctx, env.tenantID, b.ID, "", "background processing works")
			So(err, ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) && load(src.ID).Status != source.StatusProcessed {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()
			env.ingestor.Wait()
			So(load(src.ID).Status, ShouldEqual, source.StatusProcessed)
		})
	})
}
