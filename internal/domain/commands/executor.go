package commands

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"emby-adminbot/internal/domain/directory"
	"emby-adminbot/internal/infra/config"
	versioninfo "emby-adminbot/internal/support/version"
)

// CommandExecutor - реализация интерфейса Executor
type CommandExecutor struct {
	runner    SyncRunner
	source    directory.Source
	store     directory.Store
	lifecycle *directory.Service
}

// NewExecutor создает новый экземпляр CommandExecutor
func NewExecutor(
	runner SyncRunner,
	source directory.Source,
	store directory.Store,
	lifecycle *directory.Service,
) *CommandExecutor {
	return &CommandExecutor{
		runner:    runner,
		source:    source,
		store:     store,
		lifecycle: lifecycle,
	}
}

// Sync запускает внеочередной проход синхронизации каталога
func (e *CommandExecutor) Sync(ctx context.Context) (*SyncResult, error) {
	if e.runner == nil {
		return nil, errors.New("sync runner is not available")
	}

	started := time.Now()
	report, ok := e.runner.TriggerSync(ctx)
	if !ok {
		return nil, errors.New("sync pass is already running")
	}
	return &SyncResult{
		Report:     report,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}, nil
}

// Ban блокирует пользователя от имени настроенного администратора
func (e *CommandExecutor) Ban(ctx context.Context, targetID int64, reason string) (*LifecycleResult, error) {
	if e.lifecycle == nil {
		return nil, errors.New("lifecycle service is not available")
	}
	if targetID <= 0 {
		return nil, errors.New("target id must be positive")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.New("reason must not be empty")
	}

	steps := e.lifecycle.Ban(ctx, targetID, config.Env().AdminUID, reason)
	return &LifecycleResult{Steps: steps}, nil
}

// Unban снимает блокировку от имени настроенного администратора
func (e *CommandExecutor) Unban(ctx context.Context, targetID int64, reason string) (*LifecycleResult, error) {
	if e.lifecycle == nil {
		return nil, errors.New("lifecycle service is not available")
	}
	if targetID <= 0 {
		return nil, errors.New("target id must be positive")
	}

	steps := e.lifecycle.Unban(ctx, targetID, config.Env().AdminUID, reason)
	return &LifecycleResult{Steps: steps}, nil
}

// Bind привязывает пользователя мессенджера к учётной записи Emby.
// Запись в зеркале должна существовать: привязка к неизвестному id почти
// всегда опечатка.
func (e *CommandExecutor) Bind(ctx context.Context, userID int64, externalID string) error {
	if e.store == nil {
		return errors.New("store is not available")
	}
	if userID <= 0 {
		return errors.New("user id must be positive")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return errors.New("external id must not be empty")
	}

	rec, err := e.store.Record(ctx, externalID)
	if err != nil {
		return errors.Wrap(err, "lookup record")
	}
	if rec == nil {
		return errors.Errorf("record %q is not present in the mirror", externalID)
	}
	return e.store.Bind(ctx, userID, externalID)
}

// Records возвращает строки локального зеркала
func (e *CommandExecutor) Records(ctx context.Context) (*RecordsResult, error) {
	if e.store == nil {
		return nil, errors.New("store is not available")
	}

	recs, err := e.store.Records(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read records")
	}
	return &RecordsResult{Records: recs}, nil
}

// History возвращает исторические снимки записи
func (e *CommandExecutor) History(ctx context.Context, externalID string) (*HistoryResult, error) {
	if e.store == nil {
		return nil, errors.New("store is not available")
	}

	snaps, err := e.store.History(ctx, strings.TrimSpace(externalID))
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	return &HistoryResult{Snapshots: snaps}, nil
}

// Audit возвращает события журнала аудита
func (e *CommandExecutor) Audit(ctx context.Context, targetID string, from, to time.Time) (*AuditResult, error) {
	if e.store == nil {
		return nil, errors.New("store is not available")
	}

	entries, err := e.store.Audit(ctx, strings.TrimSpace(targetID), from, to)
	if err != nil {
		return nil, errors.Wrap(err, "read audit")
	}
	return &AuditResult{Entries: entries}, nil
}

// Status возвращает сводку о состоянии зеркала и последнем проходе
func (e *CommandExecutor) Status(ctx context.Context) (*StatusResult, error) {
	if e.store == nil {
		return nil, errors.New("store is not available")
	}

	recs, err := e.store.Records(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read records")
	}
	deleted := 0
	for _, r := range recs {
		if r.IsDeleted {
			deleted++
		}
	}

	result := &StatusResult{
		EmbyConfigured:     e.source != nil && e.source.Configured(),
		NotifierConfigured: config.NotifierConfigured(),
		RecordCount:        len(recs),
		DeletedCount:       deleted,
		Location:           config.AppLocation,
	}
	if e.runner != nil {
		st := e.runner.State()
		result.SyncRunning = st.Running
		result.LastSyncAt = st.LastRunAt
		result.LastSyncReport = st.LastReport
	}
	return result, nil
}

// Version возвращает информацию о версии приложения
func (e *CommandExecutor) Version(context.Context) (*VersionResult, error) {
	return &VersionResult{
		Name:    versioninfo.AppName,
		Version: versioninfo.Version,
	}, nil
}
