package web

import (
	"encoding/json"
	"net/http"
	"time"

	"emby-adminbot/internal/domain/directory"
)

// maxBodyBytes ограничивает тела POST-запросов: команды маленькие.
const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request body: "+err.Error())
		return false
	}
	return true
}

// stepsPayload переводит шаги конвейера в JSON-представление.
func stepsPayload(steps []directory.StepResult) []map[string]string {
	out := make([]map[string]string, 0, len(steps))
	for _, s := range steps {
		status := "ok"
		switch s.Status {
		case directory.StepInfo:
			status = "info"
		case directory.StepFailed:
			status = "failed"
		}
		out = append(out, map[string]string{
			"label":  s.Label,
			"status": status,
			"detail": s.Detail,
		})
	}
	return out
}

// handleAPISync запускает внеочередной проход синхронизации.
func (s *Server) handleAPISync(w http.ResponseWriter, r *http.Request) {
	res, err := s.executor.Sync(r.Context())
	if err != nil {
		// Занятый шлюз — не ошибка сервера: проход уже идёт.
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":      res.Report,
		"started_at":  res.StartedAt,
		"finished_at": res.FinishedAt,
	})
}

// handleAPIBan блокирует пользователя.
func (s *Server) handleAPIBan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.executor.Ban(r.Context(), req.UserID, req.Reason)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": stepsPayload(res.Steps)})
}

// handleAPIUnban снимает блокировку.
func (s *Server) handleAPIUnban(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.executor.Unban(r.Context(), req.UserID, req.Reason)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": stepsPayload(res.Steps)})
}

// handleAPIBind привязывает пользователя мессенджера к учётной записи Emby.
func (s *Server) handleAPIBind(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		EmbyID string `json:"emby_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.executor.Bind(r.Context(), req.UserID, req.EmbyID); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bound"})
}

// handleAPIRecords отдаёт строки зеркала.
func (s *Server) handleAPIRecords(w http.ResponseWriter, r *http.Request) {
	res, err := s.executor.Records(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": res.Records})
}

// handleAPIHistory отдаёт снимки записи: /api/history?id=<emby_id>.
func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing id parameter")
		return
	}
	res, err := s.executor.History(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": res.Snapshots})
}

// handleAPIAudit отдаёт события аудита с необязательными фильтрами
// target, from, to (RFC3339).
func (s *Server) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad from parameter: "+err.Error())
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad to parameter: "+err.Error())
			return
		}
		to = t
	}
	res, err := s.executor.Audit(r.Context(), q.Get("target"), from, to)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": res.Entries})
}

// handleAPIStatus отдаёт сводку о зеркале и последнем проходе.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.executor.Status(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := map[string]any{
		"emby_configured":     st.EmbyConfigured,
		"notifier_configured": st.NotifierConfigured,
		"record_count":        st.RecordCount,
		"deleted_count":       st.DeletedCount,
		"sync_running":        st.SyncRunning,
		"last_sync_report":    st.LastSyncReport,
	}
	if !st.LastSyncAt.IsZero() {
		at := st.LastSyncAt
		if st.Location != nil {
			at = at.In(st.Location)
		}
		payload["last_sync_at"] = at.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleAPIVersion отдаёт имя и версию приложения.
func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	res, err := s.executor.Version(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    res.Name,
		"version": res.Version,
	})
}
