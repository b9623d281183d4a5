package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"

	"botforge/internal/ai"
	authHandler "botforge/internal/handler/auth"
	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/pkg/cache"
	"botforge/internal/pkg/chunker"
	"botforge/internal/pkg/extractor"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/password"
	"botforge/internal/pkg/storage/local"
	"botforge/internal/repository"
	"botforge/internal/repository/memory"
	"botforge/internal/server/middleware"
	"botforge/internal/service"
)

// flatEmbedder 所有文本映射到同一个向量
type flatEmbedder struct{}

func (flatEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (flatEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type apiEnv struct {
	engine *gin.Engine
	stores repository.Stores
	calls  atomic.Int32
}

func init() {
	gin.SetMode(gin.TestMode)
}

// newAPIEnv 组装与线上一致的路由，模型回复由 UserText 决定：
// "flaky" 总是返回可重试错误，"broken" 返回不可重试错误，其余原样回显。
func newAPIEnv(t *testing.T, maxUploadBytes int64) *apiEnv {
	t.Helper()
	store, err := local.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	env := &apiEnv{stores: memory.New()}
	router := ai.NewRouter(time.Second)
	router.Register(ai.FamilyOpenAI, ai.BackendFunc(func(ctx context.Context, req *ai.Request) (string, error) {
		env.calls.Add(1)
		switch req.UserText {
		case "flaky":
			return "", fmt.Errorf("%w: upstream 502", ai.ErrProviderTransient)
		case "broken":
			return "", fmt.Errorf("%w: secret upstream detail", ai.ErrProviderPermanent)
		}
		return "reply: " + req.UserText, nil
	}), []string{"m-mini"})

	quota := service.NewQuotaGate(env.stores, nil)
	bots := service.NewBotService(env.stores, store, cache.NewMemoryCache(), time.Minute, router, quota)
	ingestor := service.NewIngestor(env.stores.Sources, store,
		extractor.New(extractor.Options{}),
		chunker.New(chunker.Options{MaxChars: 200, Overlap: 20, NoSegmenter: true}),
		flatEmbedder{}, 16)
	sources := service.NewSourceService(env.stores.Sources, bots, store, quota, ingestor)
	retriever := service.NewRetriever(env.stores.Sources, flatEmbedder{}, 0)
	chat := service.NewChatService(bots, quota, env.stores.Conversations, retriever, router, service.ChatOptions{RetryDelay: time.Millisecond})
	convs := service.NewConversationService(env.stores.Conversations, bots)
	authSvc := service.NewAuthService(env.stores.Tenants, quota, "test-secret", time.Hour)

	authHdl := authHandler.NewHandler(authSvc)
	chatHdl := NewChatHandler(chat)
	botHdl := NewBotHandler(bots)
	sourceHdl := NewSourceHandler(sources, maxUploadBytes)
	convHdl := NewConversationHandler(convs)
	usageHdl := NewUsageHandler(quota)

	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestID())
	r.POST("/chat", chatHdl.Chat)
	r.POST("/auth/register", authHdl.Register)
	r.POST("/auth/login", authHdl.Login)
	api := r.Group("")
	api.Use(middleware.Auth(authSvc))
	api.GET("/auth/me", authHdl.GetMe)
	api.GET("/usage", usageHdl.Get)
	api.POST("/bots", botHdl.Create)
	api.GET("/bots", botHdl.List)
	api.GET("/bots/:bot_id", botHdl.Get)
	api.PUT("/bots/:bot_id", botHdl.Update)
	api.DELETE("/bots/:bot_id", botHdl.Delete)
	api.POST("/sources/:bot_id/file", sourceHdl.CreateFile)
	api.POST("/sources/:bot_id/url", sourceHdl.CreateURL)
	api.POST("/sources/:bot_id/text", sourceHdl.CreateText)
	api.GET("/sources/:bot_id", sourceHdl.List)
	api.GET("/sources/:bot_id/:source_id", sourceHdl.Get)
	api.DELETE("/sources/:bot_id/:source_id", sourceHdl.Delete)
	api.GET("/conversations/:bot_id", convHdl.List)
	api.GET("/messages/:conversation_id", convHdl.Messages)

	env.engine = r
	return env
}

func (e *apiEnv) do(method, path, token string, body any) (int, map[string]any) {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.serve(req)
}

func (e *apiEnv) serve(req *http.Request) (int, map[string]any) {
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

// signup 注册并登录，返回 token
func (e *apiEnv) signup(username string) string {
	code, _ := e.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	So(code, ShouldEqual, http.StatusCreated)

	code, body := e.do(http.MethodPost, "/auth/login", "", map[string]string{
		"username": username,
		"password": "correct-horse",
	})
	So(code, ShouldEqual, http.StatusOK)
	return body["data"].(map[string]any)["access_token"].(string)
}

func (e *apiEnv) createBot(token string) string {
	code, body := e.do(http.MethodPost, "/bots", token, map[string]any{
		"name":         "helpdesk",
		"provider":     "openai",
		"model":        "m-mini",
		"instructions": "Be brief.",
	})
	So(code, ShouldEqual, http.StatusCreated)
	return body["data"].(map[string]any)["id"].(string)
}

// tenantWithLimit 直接写入一个自定义月消息上限的租户
func (e *apiEnv) tenantWithLimit(username string, messages int64) string {
	hashed, err := password.Hash("correct-horse")
	So(err, ShouldBeNil)
	So(e.stores.Tenants.Create(context.Background(), &auth.User{
		ID:             id.New(),
		Username:       username,
		Email:          username + "@example.com",
		Password:       hashed,
		Plan:           "free",
		LimitOverrides: &plan.Overrides{MaxMessagesPerMonth: &messages},
		Status:         auth.UserStatusActive,
	}), ShouldBeNil)

	code, body := e.do(http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": "correct-horse"})
	So(code, ShouldEqual, http.StatusOK)
	return body["data"].(map[string]any)["access_token"].(string)
}

func TestChatEndpoint(t *testing.T) {
	Convey("POST /chat", t, func() {
		env := newAPIEnv(t, 0)
		token := env.signup("acme")
		botID := env.createBot(token)

		Convey("返回回复和会话 id，同一 session 复用会话", func() {
			code, body := env.do(http.MethodPost, "/chat", "", map[string]string{
				"bot_id": botID, "session_id": "visitor-1", "message": "hello", "user_name": "Ann",
			})
			So(code, ShouldEqual, http.StatusOK)
			So(body["message"], ShouldEqual, "reply: hello")
			So(body["session_id"], ShouldEqual, "visitor-1")
			convID := body["conversation_id"]
			So(convID, ShouldNotBeEmpty)

			_, body = env.do(http.MethodPost, "/chat", "", map[string]string{
				"bot_id": botID, "session_id": "visitor-1", "message": "again",
			})
			So(body["conversation_id"], ShouldEqual, convID)
		})

		Convey("未声明的字段被忽略", func() {
			code, _ := env.do(http.MethodPost, "/chat", "", `{"bot_id":"`+botID+`","session_id":"s","message":"hi","channel":"slack"}`)
			So(code, ShouldEqual, http.StatusOK)
		})

		Convey("缺少字段或请求体不合法", func() {
			code, body := env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": botID, "session_id": "s"})
			So(code, ShouldEqual, http.StatusBadRequest)
			So(body["code"], ShouldEqual, float64(40001))

			code, _ = env.do(http.MethodPost, "/chat", "", "{not json")
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("机器人不存在返回 404", func() {
			code, body := env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": "nope", "session_id": "s", "message": "hi"})
			So(code, ShouldEqual, http.StatusNotFound)
			So(body["code"], ShouldEqual, float64(40401))
		})

		Convey("机器人停用返回 400", func() {
			code, _ := env.do(http.MethodPut, "/bots/"+botID, token, map[string]any{"active": false})
			So(code, ShouldEqual, http.StatusOK)

			code, _ = env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": botID, "session_id": "s", "message": "hi"})
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("模型两次可重试失败返回 503", func() {
			code, body := env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": botID, "session_id": "s", "message": "flaky"})
			So(code, ShouldEqual, http.StatusServiceUnavailable)
			So(body["code"], ShouldEqual, float64(50301))
			So(env.calls.Load(), ShouldEqual, 2)
		})

		Convey("不可重试失败返回 500 且不泄露上游信息", func() {
			code, body := env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": botID, "session_id": "s", "message": "broken"})
			So(code, ShouldEqual, http.StatusInternalServerError)
			So(body["message"], ShouldNotContainSubstring, "secret")
			So(env.calls.Load(), ShouldEqual, 1)
		})

		Convey("超出月消息上限返回 403 和限额名称", func() {
			limited := env.tenantWithLimit("tiny", 1)
			limitedBot := env.createBot(limited)

			code, _ := env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": limitedBot, "session_id": "s", "message": "one"})
			So(code, ShouldEqual, http.StatusOK)

			code, body := env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": limitedBot, "session_id": "s", "message": "two"})
			So(code, ShouldEqual, http.StatusForbidden)
			So(body["code"], ShouldEqual, float64(40301))
			So(body["limit"], ShouldEqual, plan.LimitMessagesPerMonth)
			So(body["upgrade_hint"], ShouldNotBeEmpty)
		})
	})
}

func TestManagementEndpoints(t *testing.T) {
	Convey("管理接口", t, func() {
		env := newAPIEnv(t, 0)
		token := env.signup("acme")

		Convey("未认证返回 401", func() {
			for _, path := range []string{"/bots", "/usage", "/auth/me", "/conversations/x", "/messages/x"} {
				code, body := env.do(http.MethodGet, path, "", nil)
				So(code, ShouldEqual, http.StatusUnauthorized)
				So(body["code"], ShouldEqual, float64(40101))
			}
			code, _ := env.do(http.MethodGet, "/bots", "not-a-token", nil)
			So(code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("重复注册返回 409，密码错误返回 401", func() {
			code, _ := env.do(http.MethodPost, "/auth/register", "", map[string]string{
				"username": "acme", "email": "other@example.com", "password": "correct-horse",
			})
			So(code, ShouldEqual, http.StatusConflict)

			code, _ = env.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "acme", "password": "nope-nope"})
			So(code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("me 和 usage 返回套餐与用量", func() {
			code, body := env.do(http.MethodGet, "/auth/me", token, nil)
			So(code, ShouldEqual, http.StatusOK)
			data := body["data"].(map[string]any)
			So(data["plan"], ShouldEqual, "free")
			So(data["user"].(map[string]any)["username"], ShouldEqual, "acme")

			code, body = env.do(http.MethodGet, "/usage", token, nil)
			So(code, ShouldEqual, http.StatusOK)
			So(body["data"].(map[string]any)["limits"], ShouldNotBeNil)
		})

		Convey("机器人增删改查", func() {
			botID := env.createBot(token)

			code, body := env.do(http.MethodGet, "/bots", token, nil)
			So(code, ShouldEqual, http.StatusOK)
			So(body["data"], ShouldHaveLength, 1)

			code, body = env.do(http.MethodPut, "/bots/"+botID, token, map[string]any{"name": "renamed"})
			So(code, ShouldEqual, http.StatusOK)
			So(body["data"].(map[string]any)["name"], ShouldEqual, "renamed")

			code, _ = env.do(http.MethodPost, "/bots", token, map[string]any{"name": "x", "provider": "openai", "model": "gpt-unknown"})
			So(code, ShouldEqual, http.StatusBadRequest)

			// free 套餐只能有一个机器人
			code, body = env.do(http.MethodPost, "/bots", token, map[string]any{"name": "x", "provider": "openai", "model": "m-mini"})
			So(code, ShouldEqual, http.StatusForbidden)
			So(body["limit"], ShouldEqual, plan.LimitChatbots)

			other := env.signup("other")
			code, _ = env.do(http.MethodGet, "/bots/"+botID, other, nil)
			So(code, ShouldEqual, http.StatusNotFound)

			code, _ = env.do(http.MethodDelete, "/bots/"+botID, token, nil)
			So(code, ShouldEqual, http.StatusOK)
			code, _ = env.do(http.MethodGet, "/bots/"+botID, token, nil)
			So(code, ShouldEqual, http.StatusNotFound)
		})

		Convey("知识源受理后异步处理", func() {
			botID := env.createBot(token)

			code, body := env.do(http.MethodPost, "/sources/"+botID+"/text", token, map[string]string{"title": "faq", "text": "We ship worldwide."})
			So(code, ShouldEqual, http.StatusAccepted)
			data := body["data"].(map[string]any)
			So(data["status"], ShouldEqual, "pending")
			sourceID := data["source_id"].(string)

			code, body = env.do(http.MethodGet, "/sources/"+botID+"/"+sourceID, token, nil)
			So(code, ShouldEqual, http.StatusOK)
			So(body["data"].(map[string]any)["kind"], ShouldEqual, "text")

			code, body = env.do(http.MethodGet, "/sources/"+botID, token, nil)
			So(code, ShouldEqual, http.StatusOK)
			So(body["data"].(map[string]any)["total"], ShouldEqual, 1)

			// 还没有 worker 处理，删除冲突
			code, body = env.do(http.MethodDelete, "/sources/"+botID+"/"+sourceID, token, nil)
			So(code, ShouldEqual, http.StatusConflict)
			So(body["code"], ShouldEqual, float64(40901))

			code, body = env.do(http.MethodPost, "/sources/"+botID+"/url", token, map[string]string{"url": "ftp://example.com/a"})
			So(code, ShouldEqual, http.StatusAccepted)
			So(body["data"].(map[string]any)["status"], ShouldEqual, "failed")

			code, _ = env.do(http.MethodPost, "/sources/missing/text", token, map[string]string{"text": "x"})
			So(code, ShouldEqual, http.StatusNotFound)
		})

		Convey("会话分页和消息", func() {
			botID := env.createBot(token)
			for _, s := range []string{"a", "b", "c"} {
				code, _ := env.do(http.MethodPost, "/chat", "", map[string]string{"bot_id": botID, "session_id": s, "message": "hi " + s})
				So(code, ShouldEqual, http.StatusOK)
			}

			code, body := env.do(http.MethodGet, "/conversations/"+botID+"?limit=2&offset=0", token, nil)
			So(code, ShouldEqual, http.StatusOK)
			page := body["data"].(map[string]any)
			So(page["total"], ShouldEqual, float64(3))
			So(page["items"], ShouldHaveLength, 2)

			convID := page["items"].([]any)[0].(map[string]any)["id"].(string)
			code, body = env.do(http.MethodGet, "/messages/"+convID, token, nil)
			So(code, ShouldEqual, http.StatusOK)
			msgs := body["data"].([]any)
			So(msgs, ShouldHaveLength, 2)
			So(msgs[0].(map[string]any)["role"], ShouldEqual, "user")

			code, _ = env.do(http.MethodGet, "/conversations/"+botID+"?limit=abc", token, nil)
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestFileUpload(t *testing.T) {
	Convey("POST /sources/{bot_id}/file", t, func() {
		env := newAPIEnv(t, 64)
		token := env.signup("acme")
		botID := env.createBot(token)

		upload := func(name, content string) (int, map[string]any) {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("file", name)
			So(err, ShouldBeNil)
			_, _ = fw.Write([]byte(content))
			So(mw.Close(), ShouldBeNil)

			req := httptest.NewRequest(http.MethodPost, "/sources/"+botID+"/file", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req.Header.Set("Authorization", "Bearer "+token)
			return env.serve(req)
		}

		Convey("受理上传的文件", func() {
			code, body := upload("faq.txt", "Opening hours are nine to five.")
			So(code, ShouldEqual, http.StatusAccepted)
			So(body["data"].(map[string]any)["status"], ShouldEqual, "pending")
		})

		Convey("超过上传上限返回 413", func() {
			code, body := upload("big.txt", strings.Repeat("x", 100))
			So(code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(body["code"], ShouldEqual, float64(41301))
		})

		Convey("缺少文件字段返回 400", func() {
			req := httptest.NewRequest(http.MethodPost, "/sources/"+botID+"/file", strings.NewReader("plain"))
			req.Header.Set("Content-Type", "text/plain")
			req.Header.Set("Authorization", "Bearer "+token)
			code, _ := env.serve(req)
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	Convey("健康和就绪检查", t, func() {
		var mongoErr error
		h := NewHealthHandler(map[string]Pinger{
			"mongo": func(context.Context) error { return mongoErr },
		})
		r := gin.New()
		r.GET("/health", h.Health)
		r.GET("/ready", h.Ready)

		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			return w
		}

		So(get("/health").Code, ShouldEqual, http.StatusOK)
		So(get("/ready").Code, ShouldEqual, http.StatusOK)

		mongoErr = fmt.Errorf("connection refused")
		w := get("/ready")
		So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		So(w.Body.String(), ShouldContainSubstring, "connection refused")
		So(get("/health").Code, ShouldEqual, http.StatusOK)
	})
}
