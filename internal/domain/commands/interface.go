// Package commands предоставляет общий интерфейс для выполнения команд
// администрирования. Команды используются как CLI-адаптером, так и
// веб-интерфейсом.
package commands

import (
	"context"
	"time"

	"emby-adminbot/internal/domain/directory"
)

// Executor - интерфейс для выполнения административных команд.
type Executor interface {
	// Sync запускает внеочередной проход синхронизации каталога
	Sync(ctx context.Context) (*SyncResult, error)

	// Ban блокирует пользователя: удаление в Emby, софт-удаление в зеркале, аудит
	Ban(ctx context.Context, targetID int64, reason string) (*LifecycleResult, error)

	// Unban снимает блокировку: запись в аудит и уведомление, зеркало не меняется
	Unban(ctx context.Context, targetID int64, reason string) (*LifecycleResult, error)

	// Bind привязывает пользователя мессенджера к учётной записи Emby
	Bind(ctx context.Context, userID int64, externalID string) error

	// Records возвращает строки локального зеркала
	Records(ctx context.Context) (*RecordsResult, error)

	// History возвращает исторические снимки записи
	History(ctx context.Context, externalID string) (*HistoryResult, error)

	// Audit возвращает события журнала аудита
	Audit(ctx context.Context, targetID string, from, to time.Time) (*AuditResult, error)

	// Status возвращает сводку о состоянии зеркала и последнем проходе
	Status(ctx context.Context) (*StatusResult, error)

	// Version возвращает информацию о версии приложения
	Version(ctx context.Context) (*VersionResult, error)
}

// SyncState - сведения о проходах синхронизации, которыми владеет раннер.
type SyncState struct {
	Running    bool                // идёт ли проход прямо сейчас
	LastRunAt  time.Time           // время завершения последнего прохода
	LastReport directory.SyncReport // счётчики последнего прохода
}

// SyncRunner - одиночный шлюз проходов синхронизации.
type SyncRunner interface {
	// TriggerSync запускает проход; ok=false, если проход уже идёт
	TriggerSync(ctx context.Context) (report directory.SyncReport, ok bool)

	// State возвращает сведения о последнем проходе
	State() SyncState
}

// SyncResult - результат команды Sync
type SyncResult struct {
	Report     directory.SyncReport // счётчики прохода
	StartedAt  time.Time            // начало прохода
	FinishedAt time.Time            // завершение прохода
}

// LifecycleResult - результат команд Ban и Unban
type LifecycleResult struct {
	Steps []directory.StepResult // результаты шагов конвейера
}

// RecordsResult - результат команды Records
type RecordsResult struct {
	Records []directory.LocalRecord // строки зеркала, включая софт-удалённые
}

// HistoryResult - результат команды History
type HistoryResult struct {
	Snapshots []directory.HistorySnapshot // снимки в порядке добавления
}

// AuditResult - результат команды Audit
type AuditResult struct {
	Entries []directory.AuditEntry // события в порядке добавления
}

// StatusResult - результат команды Status
type StatusResult struct {
	EmbyConfigured     bool                 // настроен ли доступ к Emby
	NotifierConfigured bool                 // настроен ли канал уведомлений
	RecordCount        int                  // всего строк в зеркале
	DeletedCount       int                  // из них софт-удалённых
	SyncRunning        bool                 // идёт ли проход синхронизации
	LastSyncAt         time.Time            // время последнего прохода
	LastSyncReport     directory.SyncReport // счётчики последнего прохода
	Location           *time.Location       // таймзона для отображения
}

// VersionResult - результат команды Version
type VersionResult struct {
	Name    string // название приложения
	Version string // версия
}
