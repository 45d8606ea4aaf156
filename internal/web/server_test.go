package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"emby-adminbot/internal/domain/commands"
	"emby-adminbot/internal/domain/directory"
)

// stubExecutor возвращает заранее заданные результаты.
type stubExecutor struct {
	syncErr  error
	banSteps []directory.StepResult
}

func (s *stubExecutor) Sync(context.Context) (*commands.SyncResult, error) {
	if s.syncErr != nil {
		return nil, s.syncErr
	}
	return &commands.SyncResult{Report: directory.SyncReport{Inserted: 2}}, nil
}

func (s *stubExecutor) Ban(context.Context, int64, string) (*commands.LifecycleResult, error) {
	return &commands.LifecycleResult{Steps: s.banSteps}, nil
}

func (s *stubExecutor) Unban(context.Context, int64, string) (*commands.LifecycleResult, error) {
	return &commands.LifecycleResult{}, nil
}

func (s *stubExecutor) Bind(context.Context, int64, string) error { return nil }

func (s *stubExecutor) Records(context.Context) (*commands.RecordsResult, error) {
	return &commands.RecordsResult{Records: []directory.LocalRecord{{ExternalID: "u1", Name: "alice"}}}, nil
}

func (s *stubExecutor) History(context.Context, string) (*commands.HistoryResult, error) {
	return &commands.HistoryResult{}, nil
}

func (s *stubExecutor) Audit(context.Context, string, time.Time, time.Time) (*commands.AuditResult, error) {
	return &commands.AuditResult{}, nil
}

func (s *stubExecutor) Status(context.Context) (*commands.StatusResult, error) {
	return &commands.StatusResult{RecordCount: 1}, nil
}

func (s *stubExecutor) Version(context.Context) (*commands.VersionResult, error) {
	return &commands.VersionResult{Name: "emby-adminbot", Version: "test"}, nil
}

// testServer собирает Server без чтения глобальной конфигурации.
func testServer(exec commands.Executor) (*Server, http.Handler) {
	s := &Server{
		auth:     NewAuthManager(time.Hour),
		executor: exec,
	}
	protected := http.NewServeMux()
	handleMethod(protected, http.MethodPost, "/api/sync", s.handleAPISync)
	handleMethod(protected, http.MethodPost, "/api/ban", s.handleAPIBan)
	handleMethod(protected, http.MethodGet, "/api/records", s.handleAPIRecords)
	handleMethod(protected, http.MethodGet, "/api/history", s.handleAPIHistory)
	handleMethod(protected, http.MethodGet, "/api/version", s.handleAPIVersion)
	return s, s.authMiddleware(protected)
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()

	s, handler := testServer(&stubExecutor{})

	// Без токена и сессии — 401.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no auth: code = %d, want 401", rec.Code)
	}

	// Обмен токена на сессию.
	token := s.GenerateAuthToken()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records?token="+token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("token exchange: code = %d, want 200", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 || cookies[0].Name != sessionCookieName {
		t.Fatalf("session cookie not set: %+v", cookies)
	}

	// Токен одноразовый.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records?token="+token, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused token: code = %d, want 401", rec.Code)
	}

	// Сессия действует.
	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session request: code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"u1"`) {
		t.Fatalf("records body = %s", rec.Body.String())
	}
}

func authedRequest(t *testing.T, s *Server, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	token := s.GenerateAuthToken()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version?token="+token, nil))
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie after token exchange")
	}

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSyncConflictWhenBusy(t *testing.T) {
	t.Parallel()

	stub := &stubExecutor{}
	s, handler := testServer(stub)

	rec := authedRequest(t, s, handler, http.MethodPost, "/api/sync", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: code = %d, body = %s", rec.Code, rec.Body.String())
	}

	stub.syncErr = errSyncBusy
	rec = authedRequest(t, s, handler, http.MethodPost, "/api/sync", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("busy sync: code = %d, want 409", rec.Code)
	}
}

var errSyncBusy = &busyError{}

type busyError struct{}

func (*busyError) Error() string { return "sync pass is already running" }

func TestBanEndpoint(t *testing.T) {
	t.Parallel()

	stub := &stubExecutor{banSteps: []directory.StepResult{
		{Label: "emby", Status: directory.StepOK, Detail: "done"},
		{Label: "аудит", Status: directory.StepFailed, Detail: "storage down"},
	}}
	s, handler := testServer(stub)

	rec := authedRequest(t, s, handler, http.MethodPost, "/api/ban",
		`{"user_id":100,"reason":"spam"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ban: code = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"failed"`) || !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("ban body = %s", body)
	}

	// Неизвестные поля отклоняются.
	rec = authedRequest(t, s, handler, http.MethodPost, "/api/ban",
		`{"user_id":100,"reason":"spam","extra":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: code = %d, want 400", rec.Code)
	}
}

func TestHistoryRequiresID(t *testing.T) {
	t.Parallel()

	s, handler := testServer(&stubExecutor{})
	rec := authedRequest(t, s, handler, http.MethodGet, "/api/history", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("history without id: code = %d, want 400", rec.Code)
	}
}
