package directory

import "time"

// SnapshotAction — причина появления исторического снимка.
type SnapshotAction string

const (
	// SnapshotUpdate — содержимое записи изменилось, снимок хранит состояние до правки.
	SnapshotUpdate SnapshotAction = "update"
	// SnapshotDelete — запись исчезла из удалённого каталога.
	SnapshotDelete SnapshotAction = "delete"
)

// HistorySnapshot — элемент журнала истории: полное состояние записи до
// изменения. Журнал только дописывается, снимки никогда не правятся.
type HistorySnapshot struct {
	ExternalID string         `json:"external_id"`
	Action     SnapshotAction `json:"action"`
	Remark     string         `json:"remark,omitempty"`
	PassID     string         `json:"pass_id,omitempty"`
	TakenAt    time.Time      `json:"taken_at"`
	Record     LocalRecord    `json:"record"`
}

// ActionType — тип события в журнале аудита.
type ActionType string

const (
	ActionUserBlock   ActionType = "user_block"
	ActionUserUnblock ActionType = "user_unblock"
	ActionSyncRun     ActionType = "sync_run"
)

// AuditEntry — событие журнала аудита. ActorID равен 0 для системных
// действий (плановая синхронизация, автоматическая блокировка).
type AuditEntry struct {
	ActorID  int64          `json:"actor_id"`
	Action   ActionType     `json:"action"`
	TargetID string         `json:"target_id,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	At       time.Time      `json:"at"`
}
