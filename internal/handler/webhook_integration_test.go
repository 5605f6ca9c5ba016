package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testWebhookID = "6f1c2a8e-3b1e-4a55-9a57-0d0c0f6c2b11"

func TestWebhookIntegration_CreateWebhook(t *testing.T) {
	t.Parallel()

	provisionedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubWebhookService{
		createFn: func(ctx context.Context, input domain.CreateWebhookInput) (*domain.DispatcherState, error) {
			return domain.NewDispatcherState(input, provisionedAt), nil
		},
	}
	app, _ := newWebhookTestApp(t, svc)

	body := `{"id":"` + testWebhookID + `","target":"https://example.com/hook","payload":"cGF5"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/api/webhooks", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var created map[string]any
	if err := json.Unmarshal(respBody, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] != testWebhookID {
		t.Fatalf("id = %v, want %s", created["id"], testWebhookID)
	}
	if created["status"] != "PENDING" {
		t.Fatalf("status = %v, want PENDING", created["status"])
	}
	if created["provisionedAt"] != "2026-03-01T10:00:00Z" {
		t.Fatalf("provisionedAt = %v", created["provisionedAt"])
	}
	if attempts, ok := created["attempts"].([]any); !ok || len(attempts) != 0 {
		t.Fatalf("attempts = %v, want []", created["attempts"])
	}
}

func TestWebhookIntegration_CreateWebhookValidation(t *testing.T) {
	t.Parallel()

	called := false
	svc := &stubWebhookService{
		createFn: func(ctx context.Context, input domain.CreateWebhookInput) (*domain.DispatcherState, error) {
			called = true
			return nil, errors.New("should not be called")
		},
	}
	app, _ := newWebhookTestApp(t, svc)

	testCases := []struct {
		name     string
		body     string
		contains []string
	}{
		{
			name:     "malformed json",
			body:     `{"id":`,
			contains: []string{"invalid request body"},
		},
		{
			name:     "every field invalid",
			body:     `{"id":"nope","target":"not a url","payload":"***"}`,
			contains: []string{"id: invalid uuid", "target: invalid url", "payload: must be base64 encoded"},
		},
		{
			name:     "padded id",
			body:     `{"id":" ` + testWebhookID + `","target":"https://example.com/x","payload":""}`,
			contains: []string{"id: invalid uuid"},
		},
		{
			name:     "ftp target",
			body:     `{"id":"` + testWebhookID + `","target":"ftp://example.com/x","payload":""}`,
			contains: []string{"target: scheme must be http or https"},
		},
	}

	for _, tc := range testCases {
		resp, body := performRequest(t, app, http.MethodPost, "/api/webhooks", tc.body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400, body=%s", tc.name, resp.StatusCode, string(body))
		}
		for _, want := range tc.contains {
			if !strings.Contains(string(body), want) {
				t.Fatalf("%s: body = %s, want it to contain %q", tc.name, string(body), want)
			}
		}
	}

	if called {
		t.Fatal("invalid requests must never reach the service")
	}
}

func TestWebhookIntegration_CreateWebhookServiceError(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{
		createFn: func(ctx context.Context, input domain.CreateWebhookInput) (*domain.DispatcherState, error) {
			return nil, errors.New("redis: connection refused")
		},
	}
	app, _ := newWebhookTestApp(t, svc)

	body := `{"id":"` + testWebhookID + `","target":"https://example.com/hook","payload":"cGF5"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/api/webhooks", body)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if strings.Contains(string(respBody), "redis") {
		t.Fatalf("internal error leaked to client: %s", respBody)
	}
}

func TestWebhookIntegration_GetWebhook(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{
		getFn: func(ctx context.Context, id string) (*domain.DispatcherState, error) {
			if id != testWebhookID {
				return nil, domain.ErrNotFound
			}
			return &domain.DispatcherState{
				ID:       id,
				Target:   "https://example.com/hook",
				Payload:  "cGF5",
				Status:   domain.StatusSucceeded,
				Attempts: []domain.Attempt{{Status: 200, Message: "success"}},
			}, nil
		},
	}
	app, _ := newWebhookTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/api/webhooks/"+testWebhookID, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var state domain.DispatcherState
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if state.Status != domain.StatusSucceeded || len(state.Attempts) != 1 {
		t.Fatalf("state = %+v", state)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/api/webhooks/0b6b2f6c-31a4-4a8c-bb5b-8a1f5e7d9c00", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if string(body) != `{"error":"not found"}` {
		t.Fatalf("body = %s", body)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/api/webhooks/not-a-uuid", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebhookIntegration_PropagatesRequestID(t *testing.T) {
	t.Parallel()

	seen := make(chan string, 1)
	svc := &stubWebhookService{
		getFn: func(ctx context.Context, id string) (*domain.DispatcherState, error) {
			requestID, _ := observability.RequestIDFromContext(ctx)
			seen <- requestID
			return nil, domain.ErrNotFound
		},
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	app.Use(requestid.New())
	if err := RegisterWebhookRoutes(app, svc, nil); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/"+testWebhookID, nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if got := <-seen; got != "req-42" {
		t.Fatalf("request id = %q, want req-42", got)
	}
}

func TestWebhookIntegration_Telemetry(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{
		getFn: func(ctx context.Context, id string) (*domain.DispatcherState, error) {
			return nil, domain.ErrNotFound
		},
	}
	app, logs := newWebhookTestApp(t, svc)

	performRequest(t, app, http.MethodGet, "/api/webhooks/"+testWebhookID, "")

	records := logs.Filter(func(e observer.LoggedEntry) bool {
		return e.LoggerName == "telemetry"
	}).All()
	if len(records) != 1 {
		t.Fatalf("telemetry records = %d, want 1", len(records))
	}

	wantKeys := []string{"webhookId", "method", "event", "path", "status"}
	for i, key := range wantKeys {
		if got := records[0].Context[i].Key; got != key {
			t.Fatalf("field[%d] = %q, want %q", i, got, key)
		}
	}
	fields := records[0].ContextMap()
	if fields["webhookId"] != testWebhookID || fields["method"] != "GET" || fields["event"] != "fetch" {
		t.Fatalf("record = %v", fields)
	}
	if fields["path"] != "/api/webhooks/"+testWebhookID || fields["status"] != int64(404) {
		t.Fatalf("record = %v", fields)
	}
}

func TestWebhookIntegration_FallbackNotFound(t *testing.T) {
	t.Parallel()

	app, _ := newWebhookTestApp(t, &stubWebhookService{})

	for _, path := range []string{"/", "/api/unknown", "/api/webhooks"} {
		resp, body := performRequest(t, app, http.MethodGet, path, "")
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", path, resp.StatusCode)
		}
		if string(body) != `{"error":"not found"}` {
			t.Fatalf("%s: body = %s", path, body)
		}
	}
}

func TestJWKSRoute(t *testing.T) {
	t.Parallel()

	t.Run("serves public keys", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		err := RegisterJWKSRoute(app, stubKeySetSource{set: jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{KeyID: "k1", Algorithm: "RS256", Use: "sig", Key: []byte("secret")}},
		}})
		if err != nil {
			t.Fatalf("RegisterJWKSRoute() error = %v", err)
		}

		resp, body := performRequest(t, app, http.MethodGet, "/.well-known/jwks.json", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"kid":"k1"`) {
			t.Fatalf("body = %s, want kid k1", body)
		}
	})

	t.Run("unusable key answers 503", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		_ = RegisterJWKSRoute(app, stubKeySetSource{err: errors.New("bad key")})

		resp, _ := performRequest(t, app, http.MethodGet, "/.well-known/jwks.json", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", resp.StatusCode)
		}
	})

	if err := RegisterJWKSRoute(fiber.New(), nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestHealthIntegration(t *testing.T) {
	t.Parallel()

	t.Run("_health returns plain ok", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, RedisCheck(newStubRedisClient(nil)))

		resp, body := performRequest(t, app, http.MethodGet, "/_health", "")
		if resp.StatusCode != fiber.StatusOK || string(body) != "ok" {
			t.Fatalf("status = %d body = %q, want 200 ok", resp.StatusCode, body)
		}
	})

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, PostgresCheck(sql.OpenDB(stubConnector{})), RedisCheck(newStubRedisClient(nil)))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, PostgresCheck(sqlDB), RedisCheck(rdb))

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz without postgres checks only redis", func(t *testing.T) {
		t.Parallel()

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, RedisCheck(rdb))

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
		if strings.Contains(string(body), "postgres") {
			t.Fatalf("body = %s, want no postgres check", body)
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, PostgresCheck(sqlDB), RedisCheck(rdb))

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz reports each named check", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app,
			RedisCheck(nil),
			ReadinessCheck{Name: "rabbitmq", Ping: func(context.Context) error { return nil }},
		)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var payload struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if payload.Checks["redis"] != "down" || payload.Checks["rabbitmq"] != "ok" {
			t.Fatalf("checks = %v", payload.Checks)
		}
	})
}

type stubWebhookService struct {
	createFn func(ctx context.Context, input domain.CreateWebhookInput) (*domain.DispatcherState, error)
	getFn    func(ctx context.Context, id string) (*domain.DispatcherState, error)
}

func (s *stubWebhookService) Create(ctx context.Context, input domain.CreateWebhookInput) (*domain.DispatcherState, error) {
	if s.createFn != nil {
		return s.createFn(ctx, input)
	}
	return nil, errors.New("not implemented")
}

func (s *stubWebhookService) Get(ctx context.Context, id string) (*domain.DispatcherState, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type stubKeySetSource struct {
	set jose.JSONWebKeySet
	err error
}

func (s stubKeySetSource) PublicJWKS() (jose.JSONWebKeySet, error) {
	return s.set, s.err
}

func newWebhookTestApp(t *testing.T, svc WebhookService) (*fiber.App, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterWebhookRoutes(app, svc, observability.NewTelemetry(zap.New(core), nil)); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}
	RegisterFallback(app)

	return app, logs
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
