package directory

import (
	"context"
	"time"
)

// Source — удалённый каталог учётных записей. Реализация: adapters/emby.
type Source interface {
	// Configured сообщает, настроен ли доступ к удалённому каталогу.
	Configured() bool
	// ListPage возвращает страницу записей начиная с offset и общее число
	// записей, если сервер его сообщил (иначе 0).
	ListPage(ctx context.Context, offset, limit int) ([]RemoteEntity, int, error)
	// DeleteEntity удаляет запись в удалённом каталоге.
	DeleteEntity(ctx context.Context, externalID string) error
}

// SyncBatch — результат планирования прохода синхронизации. Хранилище
// применяет его целиком в одной транзакции: либо все изменения, либо никакие.
type SyncBatch struct {
	PassID    string
	Inserts   []LocalRecord
	Updates   []LocalRecord
	Deletes   []string
	Snapshots []HistorySnapshot
	Audit     []AuditEntry
}

// BanCommit — локальные записи одной блокировки: софт-удалённая строка
// зеркала (nil, если её нет или она уже удалена) и событие аудита.
type BanCommit struct {
	Record *LocalRecord
	Audit  AuditEntry
}

// Store — локальное зеркало с журналами. Реализация: adapters/boltstore.
type Store interface {
	// Records возвращает все строки зеркала, включая софт-удалённые.
	Records(ctx context.Context) ([]LocalRecord, error)
	// Record возвращает строку по внешнему идентификатору, nil если её нет.
	Record(ctx context.Context, externalID string) (*LocalRecord, error)
	// CommitSync атомарно применяет пакет изменений прохода синхронизации.
	CommitSync(ctx context.Context, batch SyncBatch) error
	// CommitBan атомарно записывает софт-удаление и событие аудита.
	CommitBan(ctx context.Context, commit BanCommit) error
	// AppendAudit дописывает одиночное событие аудита.
	AppendAudit(ctx context.Context, entry AuditEntry) error
	// History возвращает снимки записи в порядке добавления.
	History(ctx context.Context, externalID string) ([]HistorySnapshot, error)
	// Audit возвращает события аудита; пустой targetID и нулевые границы
	// означают "без фильтра".
	Audit(ctx context.Context, targetID string, from, to time.Time) ([]AuditEntry, error)
	// Binding возвращает внешний идентификатор, привязанный к пользователю
	// мессенджера, либо пустую строку.
	Binding(ctx context.Context, userID int64) (string, error)
	// Bind сохраняет привязку пользователя мессенджера к внешней записи.
	Bind(ctx context.Context, userID int64, externalID string) error
}

// Notification — уведомление администраторам об итоге операции.
type Notification struct {
	ActorID  int64
	TargetID string
	Action   string
	Reason   string
	Steps    []string
}

// NotificationSink доставляет уведомления во внешний канал (Bot API).
// Ошибка доставки логируется и не влияет на итог операции.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}
