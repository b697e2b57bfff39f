//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/omnichat-platform/omnichat/internal/api"
	"github.com/omnichat-platform/omnichat/internal/auth"
	"github.com/omnichat-platform/omnichat/internal/config"
	"github.com/omnichat-platform/omnichat/internal/gateway"
	"github.com/omnichat-platform/omnichat/internal/gateway/audit"
	"github.com/omnichat-platform/omnichat/internal/gateway/quota"
	"github.com/omnichat-platform/omnichat/internal/model"
	"github.com/omnichat-platform/omnichat/internal/search"
)

// fakeUpstream is a canned OpenAI-style endpoint. Tests can swap the chat
// reply or force error statuses through the mutex-guarded fields.
type fakeUpstream struct {
	mu        sync.Mutex
	chatReply string
	chatCode  int
	calls     int
}

func (f *fakeUpstream) setChat(reply string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatReply = reply
	f.chatCode = code
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls++
		reply, code := f.chatReply, f.chatCode
		f.mu.Unlock()

		if code != http.StatusOK {
			w.WriteHeader(code)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "upstream unavailable"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
			"usage": map[string]int64{
				"prompt_tokens":     100,
				"completion_tokens": 30,
				"total_tokens":      130,
			},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float32, 1536)
		for i := range vec {
			vec[i] = 0.01
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": vec}},
			"usage": map[string]int64{
				"prompt_tokens": 12,
				"total_tokens":  12,
			},
		})
	})
	return mux
}

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	Upstream    *fakeUpstream
	JWT         *auth.JWTManager
	Ledger      *quota.Ledger
	AuditStore  *audit.PostgresStore
	SearchRepo  *search.PostgresRepository
	Limits      quota.Limits
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:0.8.1-pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "omnichat_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/omnichat_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Fake model upstream
	upstream := &fakeUpstream{chatReply: `{"positive":0.7,"neutral":0.2,"negative":0.1,"confidence":0.9}`, chatCode: http.StatusOK}
	upstreamServer := httptest.NewServer(upstream.handler())
	t.Cleanup(upstreamServer.Close)

	modelClient := model.NewClient(config.ModelConfig{
		BaseURL:        upstreamServer.URL,
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		AttemptTimeout: 5 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   time.Millisecond,
	})

	// Gateway services
	limits := quota.Limits{
		DailyRequests:   100,
		DailyTokens:     100_000,
		DailyCost:       10,
		MonthlyRequests: 1000,
		MonthlyTokens:   1_000_000,
		MonthlyCost:     100,
	}
	limiter := quota.NewRateLimiter(redisClient, 1000, time.Minute)
	ledger := quota.NewLedger(quota.NewPostgresStore(pool), limiter, limits)

	auditStore := audit.NewPostgresStore(pool)
	auditor := audit.NewService(auditStore, nil)

	searchRepo := search.NewPostgresRepository(pool)
	searchSvc := search.NewService(searchRepo, modelClient)

	gatewaySvc := gateway.NewService(ledger, auditor, modelClient, searchSvc,
		model.NewPriceTable(model.DefaultPricing), config.GatewayConfig{
			DefaultOutputTokens: 256,
			RateLimitCooldown:   time.Minute,
		})
	handler := gateway.NewHandler(gatewaySvc, ledger, auditor)

	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", 15*time.Minute)

	router := api.NewRouter(pool, nil, api.RouterConfig{}, api.HandlerSet{
		Invoke:           handler.Invoke,
		GetUsage:         handler.GetUsage,
		GetUsageRollup:   handler.GetUsageRollup,
		ListAuditEntries: handler.ListAuditEntries,

		ListFailures:   handler.ListFailures,
		ApplyRateLimit: handler.ApplyRateLimit,
		ClearRateLimit: handler.ClearRateLimit,
		SetActive:      handler.SetActive,
		SetLimits:      handler.SetLimits,
		Purge:          handler.Purge,

		AuthMiddleware:  auth.Middleware(jwtManager),
		AdminMiddleware: auth.RequireAdmin,

		ModelHealthy: func() bool { return true },
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		Upstream:    upstream,
		JWT:         jwtManager,
		Ledger:      ledger,
		AuditStore:  auditStore,
		SearchRepo:  searchRepo,
		Limits:      limits,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func MintToken(t *testing.T, env *TestEnv, userID uuid.UUID, admin bool) string {
	t.Helper()
	token, err := env.JWT.GenerateAccessToken(userID.String(), "user@example.com", admin)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
