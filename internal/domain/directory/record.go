// Package directory реализует ядро синхронизации каталога учётных записей
// Emby: локальное зеркало удалённого справочника, журнал исторических
// снимков и журнал аудита административных действий.
//
// Пакет не занимается транспортом и хранением напрямую: источник данных и
// хранилище подключаются через интерфейсы Source и Store (см. ports.go).
package directory

import (
	"fmt"
	"strings"
	"time"

	"emby-adminbot/internal/infra/timeutil"
)

// RemoteEntity — учётная запись в том виде, в котором её отдаёт удалённый
// каталог. Payload хранит полный JSON-объект записи как декодированную карту
// (числа — json.Number, см. canonical.go).
type RemoteEntity struct {
	ExternalID       string
	Name             string
	Payload          map[string]any
	DateCreated      *time.Time
	LastLoginDate    *time.Time
	LastActivityDate *time.Time
}

// LocalRecord — строка локального зеркала. Поля аудита (CreatedBy и пр.)
// заполняются идентификатором инициатора; 0 означает системное действие.
type LocalRecord struct {
	ExternalID       string         `json:"external_id"`
	Name             string         `json:"name"`
	Payload          map[string]any `json:"payload,omitempty"`
	DateCreated      *time.Time     `json:"date_created,omitempty"`
	LastLoginDate    *time.Time     `json:"last_login_date,omitempty"`
	LastActivityDate *time.Time     `json:"last_activity_date,omitempty"`
	IsDeleted        bool           `json:"is_deleted"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty"`
	DeletedBy        int64          `json:"deleted_by,omitempty"`
	Remark           string         `json:"remark,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CreatedBy        int64          `json:"created_by"`
	UpdatedAt        time.Time      `json:"updated_at"`
	UpdatedBy        int64          `json:"updated_by"`
}

// Clone возвращает глубокую копию записи: Payload и указатели на время
// копируются, чтобы снимок истории не менялся вслед за оригиналом.
func (r *LocalRecord) Clone() LocalRecord {
	c := *r
	c.Payload = clonePayloadMap(r.Payload)
	c.DateCreated = cloneTime(r.DateCreated)
	c.LastLoginDate = cloneTime(r.LastLoginDate)
	c.LastActivityDate = cloneTime(r.LastActivityDate)
	c.DeletedAt = cloneTime(r.DeletedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clonePayloadMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = clonePayloadValue(v)
	}
	return out
}

func clonePayloadValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayloadMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clonePayloadValue(e)
		}
		return out
	default:
		// Скаляры (string, bool, json.Number, float64, nil) неизменяемы.
		return v
	}
}

// newRecord собирает строку зеркала из удалённой записи.
func newRecord(ent RemoteEntity, now time.Time) LocalRecord {
	return LocalRecord{
		ExternalID:       ent.ExternalID,
		Name:             ent.Name,
		Payload:          clonePayloadMap(ent.Payload),
		DateCreated:      cloneTime(ent.DateCreated),
		LastLoginDate:    cloneTime(ent.LastLoginDate),
		LastActivityDate: cloneTime(ent.LastActivityDate),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// applyRemote переносит данные удалённой записи в копию локальной строки.
// Флаги софт-удаления не трогаем: восстановление записи — отдельная операция.
func applyRemote(rec LocalRecord, ent RemoteEntity, remark string, now time.Time) LocalRecord {
	rec.Name = ent.Name
	rec.Payload = clonePayloadMap(ent.Payload)
	rec.DateCreated = cloneTime(ent.DateCreated)
	rec.LastLoginDate = cloneTime(ent.LastLoginDate)
	rec.LastActivityDate = cloneTime(ent.LastActivityDate)
	rec.Remark = remark
	rec.UpdatedAt = now
	rec.UpdatedBy = 0
	return rec
}

// diffRemark строит человекочитаемую сводку изменений по отслеживаемым полям.
// Временные метки сравниваются в текстовом представлении: так расхождения в
// точности источника не порождают ложных различий.
func diffRemark(before LocalRecord, ent RemoteEntity) string {
	var parts []string
	if before.Name != ent.Name {
		parts = append(parts, fmt.Sprintf("name changed %s → %s", before.Name, ent.Name))
	}
	for _, f := range []struct {
		label    string
		old, new *time.Time
	}{
		{"date_created", before.DateCreated, ent.DateCreated},
		{"last_login_date", before.LastLoginDate, ent.LastLoginDate},
		{"last_activity_date", before.LastActivityDate, ent.LastActivityDate},
	} {
		oldS := timeutil.FormatTimePtr(f.old)
		newS := timeutil.FormatTimePtr(f.new)
		if oldS != newS {
			parts = append(parts, fmt.Sprintf("%s changed %s → %s", f.label, oldS, newS))
		}
	}
	if len(parts) == 0 {
		return "other fields changed"
	}
	return strings.Join(parts, "; ")
}
