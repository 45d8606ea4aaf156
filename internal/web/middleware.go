package web

import (
	"net/http"

	"emby-adminbot/internal/infra/logger"
)

const (
	sessionCookieName = "adminbot_session"
	sessionMaxAge     = 3600 // 1 час в секундах
)

// authMiddleware проверяет аутентификацию пользователя
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Токен из query параметра — первичная авторизация.
		token := r.URL.Query().Get("token")
		if token != "" {
			sessionID, valid := s.auth.ValidateToken(token)
			if valid {
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    sessionID,
					Path:     "/",
					MaxAge:   sessionMaxAge,
					HttpOnly: true,
					SameSite: http.SameSiteStrictMode,
				})
				// Токен одноразовый: после обмена на сессию он гасится.
				s.auth.DeleteCurrentToken()
				writeJSON(w, http.StatusOK, map[string]string{"status": "authenticated"})
				return
			}
			logger.Warn("Invalid auth token attempt")
			writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
			return
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			s.renderUnauthorized(w, r)
			return
		}
		if !s.auth.ValidateSession(cookie.Value) {
			logger.Debug("Session expired or invalid")
			s.renderUnauthorized(w, r)
			return
		}

		// Продлеваем cookie на каждый валидный запрос.
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    cookie.Value,
			Path:     "/",
			MaxAge:   sessionMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})

		next.ServeHTTP(w, r)
	})
}

// renderUnauthorized отвечает единым JSON-описанием процедуры входа.
func (s *Server) renderUnauthorized(w http.ResponseWriter, r *http.Request) {
	logger.Debugf("Unauthorized access: %s %s from %s",
		r.Method, r.URL.Path, r.RemoteAddr)
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error": "authentication required",
		"hint":  "request a one-time token via the admin console and open any endpoint with ?token=<token>",
	})
}

// loggingMiddleware логирует все запросы
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
