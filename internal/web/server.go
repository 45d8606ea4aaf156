// Package web — административный HTTP-интерфейс: JSON API поверх общего
// commands.Executor. Доступ защищён одноразовым токеном, который обменивается
// на сессионную cookie.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"emby-adminbot/internal/domain/commands"
	"emby-adminbot/internal/infra/config"
	"emby-adminbot/internal/infra/logger"
)

// Server представляет веб-сервер
type Server struct {
	srv      *http.Server
	auth     *AuthManager
	executor commands.Executor
	ctx      context.Context
	cancel   context.CancelFunc
}

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second

	cleanExpiredSessionsInterval = 3 * time.Minute
)

// handleMethod регистрирует обработчик для пути с проверкой HTTP-метода,
// воспроизводя поведение шаблонов "METHOD /path" из ServeMux Go 1.22+:
// GET обслуживает также HEAD, несовпадение метода даёт 405 с заголовком Allow.
func handleMethod(mux *http.ServeMux, method, path string, h http.HandlerFunc) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

// NewServer создает новый веб-сервер
func NewServer(executor commands.Executor) *Server {
	s := &Server{
		auth:     NewAuthManager(time.Hour),
		executor: executor,
	}

	mux := http.NewServeMux()

	// Публичные эндпоинты (без авторизации)
	handleMethod(mux, http.MethodGet, "/health", s.handleHealth)

	// Защищенные эндпоинты (требуют авторизации)
	protected := http.NewServeMux()
	handleMethod(protected, http.MethodPost, "/api/sync", s.handleAPISync)
	handleMethod(protected, http.MethodPost, "/api/ban", s.handleAPIBan)
	handleMethod(protected, http.MethodPost, "/api/unban", s.handleAPIUnban)
	handleMethod(protected, http.MethodPost, "/api/bind", s.handleAPIBind)
	handleMethod(protected, http.MethodGet, "/api/records", s.handleAPIRecords)
	handleMethod(protected, http.MethodGet, "/api/history", s.handleAPIHistory)
	handleMethod(protected, http.MethodGet, "/api/audit", s.handleAPIAudit)
	handleMethod(protected, http.MethodGet, "/api/status", s.handleAPIStatus)
	handleMethod(protected, http.MethodGet, "/api/version", s.handleAPIVersion)

	mux.Handle("/", s.authMiddleware(protected))

	addr := config.Env().WebServerAddress
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Start запускает веб-сервер
func (s *Server) Start() error {
	logger.Info("Starting web server", zap.String("address", s.srv.Addr))

	// Фоновая очистка истекших сессий.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.cleanupLoop(s.ctx)

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// Shutdown корректно останавливает веб-сервер
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down web server...")
	if s.cancel != nil {
		s.cancel()
	}
	return s.srv.Shutdown(ctx)
}

// cleanupLoop периодически очищает истекшие сессии
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanExpiredSessionsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.auth.CleanExpiredSessions()
		}
	}
}

// GetAuthToken возвращает текущий токен авторизации
func (s *Server) GetAuthToken() string {
	return s.auth.GetCurrentToken()
}

// GenerateAuthToken генерирует новый токен авторизации
func (s *Server) GenerateAuthToken() string {
	token := s.auth.GenerateToken()
	logger.Info("Generated new auth token for web interface")
	return token
}

// handleHealth проверка здоровья сервера
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	writeResponse(w, []byte("OK"))
}
