package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/api/middleware"
	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/jwt"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/pubsub"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/response"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/ws"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
	"github.com/koladefaj/document-intelligence-backend/internal/service"
	"github.com/koladefaj/document-intelligence-backend/internal/testutil"
)

const testSecret = "test-secret-key"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db         *gorm.DB
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	queue      *queue.RedisBackend
	store      *testutil.MemoryStore
	hub        *ws.Hub
	subscriber *pubsub.Subscriber
	cfg        *config.Config
	router     *gin.Engine
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	mr, rdb := testutil.SetupRedis(t)
	q := queue.NewRedisBackend(rdb, queue.RedisOptions{Name: "test_tasks"}, nil)
	store := testutil.NewMemoryStore(t.TempDir())

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: testSecret, AccessExpireMinutes: 20, RefreshExpireDays: 7},
		Upload: config.UploadConfig{
			MaxSize:     1024 * 1024,
			StagingDir:  filepath.Join(t.TempDir(), "staging"),
			PutAttempts: 1,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	userRepo := repository.NewUserRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	authService := service.NewAuthService(userRepo, cfg)
	uploadService := service.NewUploadService(docRepo, store, q, cfg, nil)
	documentService := service.NewDocumentService(docRepo, q, nil)
	taskService := service.NewTaskService(q)
	hub := ws.NewHub(nil)
	subscriber := pubsub.NewSubscriber(rdb, nil)

	authHandler := NewAuthHandler(authService)
	documentHandler := NewDocumentHandler(uploadService, documentService, cfg.Upload.MaxSize)
	taskHandler := NewTaskHandler(taskService)
	wsHandler := NewWebSocketHandler(hub, subscriber, authService, taskService, documentService, cfg.CORS.AllowedOrigins, nil)
	healthHandler := NewHealthHandler(db, rdb)

	router := gin.New()
	router.GET("/health", healthHandler.Check)
	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)
	router.POST("/auth/refresh", authHandler.Refresh)
	router.GET("/ws/tasks/:task_id", wsHandler.Handle)

	authed := router.Group("")
	authed.Use(middleware.Auth(authService))
	authed.POST("/documents/upload", documentHandler.Upload)
	authed.GET("/documents/", documentHandler.List)
	authed.GET("/documents/:id", documentHandler.Get)
	authed.POST("/documents/:id/retry", documentHandler.Retry)
	authed.GET("/tasks/:task_id", taskHandler.Status)

	return &testEnv{
		db:         db,
		mr:         mr,
		rdb:        rdb,
		queue:      q,
		store:      store,
		hub:        hub,
		subscriber: subscriber,
		cfg:        cfg,
		router:     router,
	}
}

func (e *testEnv) user(t *testing.T, opts ...func(*model.User)) (*model.User, string) {
	t.Helper()
	u := testutil.TestUser(t, e.db, opts...)
	token, err := jwt.GenerateAccessToken(u.ID, u.Email, testSecret, time.Minute)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, token, fileName string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

// decodeData re-decodes the envelope data into v.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}
