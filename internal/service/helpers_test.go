package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"botforge/internal/ai"
	"botforge/internal/model"
	"botforge/internal/model/auth"
	"botforge/internal/model/bot"
	"botforge/internal/model/plan"
	"botforge/internal/pkg/cache"
	"botforge/internal/pkg/chunker"
	"botforge/internal/pkg/extractor"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/storage/local"
	"botforge/internal/repository"
	"botforge/internal/repository/memory"
)

const testDim = 64

// wordEmbedder 词袋哈希向量，相同词越多余弦越大
type wordEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (e *wordEmbedder) setFail(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = v
}

func (e *wordEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagOfWords(t)
	}
	return out, nil
}

func (e *wordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *wordEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func bagOfWords(text string) []float32 {
	v := make([]float32, testDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDim]++
	}
	return v
}

// scriptedBackend 先依次返回 failures 中的错误，之后按 reply 回复
type scriptedBackend struct {
	mu       sync.Mutex
	failures []error
	requests []ai.Request
	reply    func(ctx context.Context, req *ai.Request) string
}

func (b *scriptedBackend) Complete(ctx context.Context, req *ai.Request) (string, error) {
	b.mu.Lock()
	b.requests = append(b.requests, *req)
	var err error
	if len(b.failures) > 0 {
		err = b.failures[0]
		b.failures = b.failures[1:]
	}
	reply := b.reply
	b.mu.Unlock()

	if err != nil {
		return "", err
	}
	if reply != nil {
		return reply(ctx, req), nil
	}
	return "echo: " + req.UserText, nil
}

func (b *scriptedBackend) fail(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, errs...)
}

func (b *scriptedBackend) calls() []ai.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ai.Request(nil), b.requests...)
}

// fakeClock 可手动拨动的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testEnv struct {
	stores    repository.Stores
	clock     *fakeClock
	quota     *QuotaGate
	bots      *BotService
	sources   *SourceService
	ingestor  *Ingestor
	retriever *Retriever
	chat      *ChatService
	convs     *ConversationService
	router    *ai.Router
	backend   *scriptedBackend
	embedder  *wordEmbedder
	storage   *local.LocalStorage
	tenantID  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	stores := memory.NewWithClock(clock.Now)
	return newTestEnvWithStores(t, stores, clock)
}

func newTestEnvWithStores(t *testing.T, stores repository.Stores, clock *fakeClock) *testEnv {
	t.Helper()
	store, err := local.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	e := &testEnv{
		stores:   stores,
		clock:    clock,
		backend:  &scriptedBackend{},
		embedder: &wordEmbedder{},
		storage:  store,
	}
	e.router = ai.NewRouter(time.Second)
	e.router.Register(ai.FamilyOpenAI, e.backend, []string{"m-mini", "m-large"})
	e.router.Register(ai.FamilyAnthropic, e.backend, []string{"c-small"})

	e.quota = NewQuotaGate(stores, nil).WithClock(clock.Now)
	e.bots = NewBotService(stores, store, cache.NewMemoryCache(), time.Minute, e.router, e.quota)
	e.ingestor = NewIngestor(
		stores.Sources,
		store,
		extractor.New(extractor.Options{FetchTimeout: 2 * time.Second}),
		chunker.New(chunker.Options{MaxChars: 200, Overlap: 20, NoSegmenter: true}),
		e.embedder,
		32,
	)
	e.sources = NewSourceService(stores.Sources, e.bots, store, e.quota, e.ingestor)
	e.retriever = NewRetriever(stores.Sources, e.embedder, 0)
	e.chat = NewChatService(e.bots, e.quota, stores.Conversations, e.retriever, e.router, ChatOptions{
		RetryDelay:   5 * time.Millisecond,
		HistoryLimit: 20,
	})
	e.convs = NewConversationService(stores.Conversations, e.bots)
	e.tenantID = e.addTenant("acme", "pro", nil)
	return e
}

func (e *testEnv) addTenant(name, planID string, overrides *plan.Overrides) string {
	u := &auth.User{
		ID:             id.New(),
		Username:       name,
		Email:          name + "@example.com",
		Plan:           planID,
		LimitOverrides: overrides,
		Status:         auth.UserStatusActive,
	}
	if err := e.stores.Tenants.Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u.ID
}

func (e *testEnv) createBot(tenantID, instructions string) *bot.Bot {
	b, err := e.bots.Create(context.Background(), tenantID, &model.CreateBotRequest{
		Name:         "support",
		Provider:     "openai",
		Model:        "m-mini",
		Instructions: instructions,
	})
	if err != nil {
		panic(err)
	}
	return b
}

// drain 同步处理队列中已提交的知识源
func (e *testEnv) drain() {
	for {
		select {
		case sourceID := <-e.ingestor.jobs:
			e.ingestor.dequeued(sourceID)
			_ = e.ingestor.ProcessOne(context.Background(), sourceID)
		default:
			return
		}
	}
}

func (e *testEnv) counter(tenantID, name string) int64 {
	u, err := e.quota.Usage(context.Background(), tenantID)
	if err != nil {
		panic(err)
	}
	return u.Get(name)
}

func int64Ptr(v int64) *int64 { return &v }
