package directory

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"emby-adminbot/internal/infra/clock"
	"emby-adminbot/internal/infra/logger"
)

const (
	defaultPageSize = 200
	// Сколько раз повторяем запрос страницы при временных сбоях.
	pageRetries = 3
)

// SyncReport — счётчики одного прохода синхронизации. Нулевой отчёт означает
// либо пустой проход (зеркало совпало с источником), либо проход, прерванный
// до применения изменений.
type SyncReport struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

// Zero сообщает, что проход не внёс изменений.
func (r SyncReport) Zero() bool {
	return r.Inserted == 0 && r.Updated == 0 && r.Deleted == 0
}

// Engine выполняет полный проход синхронизации зеркала с удалённым каталогом.
// Движок не потокобезопасен намеренно: единственность прохода гарантирует
// вызывающая сторона (app.Runner держит одиночный шлюз).
type Engine struct {
	source   Source
	store    Store
	pageSize int

	now       func() time.Time
	newPassID func() string
}

// NewEngine собирает движок. pageSize <= 0 заменяется значением по умолчанию.
func NewEngine(source Source, store Store, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Engine{
		source:    source,
		store:     store,
		pageSize:  pageSize,
		now:       clock.Now,
		newPassID: func() string { return uuid.NewString() },
	}
}

// RunFullSync выполняет один проход: выкачивает удалённый каталог целиком,
// сравнивает с зеркалом и применяет изменения одной транзакцией. Ошибки не
// возвращаются: проход логирует сбой и отдаёт нулевой отчёт, зеркало при
// этом остаётся нетронутым.
func (e *Engine) RunFullSync(ctx context.Context) SyncReport {
	if e.source == nil || !e.source.Configured() {
		logger.Warn("пропуск синхронизации: доступ к Emby не настроен")
		return SyncReport{}
	}

	remote, err := e.fetchAll(ctx)
	if err != nil {
		logger.Error("синхронизация прервана: не удалось получить удалённый каталог", zap.Error(err))
		return SyncReport{}
	}
	// Защита от опустошения: пустая выдача неотличима от сбоя на стороне
	// сервера, зеркало в этом случае не трогаем.
	if len(remote) == 0 {
		logger.Warn("удалённый каталог пуст, зеркало оставлено без изменений")
		return SyncReport{}
	}

	locals, err := e.store.Records(ctx)
	if err != nil {
		logger.Error("синхронизация прервана: не удалось прочитать зеркало", zap.Error(err))
		return SyncReport{}
	}

	batch, report := e.plan(remote, locals)
	if report.Zero() {
		logger.Info("синхронизация завершена: изменений нет",
			zap.Int("remote", len(remote)))
		return report
	}
	if err := e.store.CommitSync(ctx, batch); err != nil {
		logger.Error("синхронизация прервана: не удалось применить пакет изменений",
			zap.String("pass_id", batch.PassID), zap.Error(err))
		return SyncReport{}
	}
	logger.Info("синхронизация завершена",
		zap.String("pass_id", batch.PassID),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("deleted", report.Deleted))
	return report
}

// fetchAll постранично выкачивает удалённый каталог. Временные сбои страницы
// повторяются с экспоненциальной паузой, отказ сервера обрывает проход сразу.
func (e *Engine) fetchAll(ctx context.Context) ([]RemoteEntity, error) {
	var all []RemoteEntity
	offset := 0
	for {
		items, total, err := e.listPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		offset += len(items)
		if len(items) < e.pageSize {
			break
		}
		if total > 0 && len(all) >= total {
			break
		}
	}
	return all, nil
}

func (e *Engine) listPage(ctx context.Context, offset int) ([]RemoteEntity, int, error) {
	var (
		items []RemoteEntity
		total int
	)
	op := func() error {
		var err error
		items, total, err = e.source.ListPage(ctx, offset, e.pageSize)
		if err == nil {
			return nil
		}
		if IsRemoteUnavailable(err) {
			logger.Warn("страница каталога недоступна, повтор",
				zap.Int("offset", offset), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), pageRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// plan сводит удалённый каталог с зеркалом в пакет изменений. Идентификаторы
// обходятся в отсортированном порядке, поэтому пакет детерминирован.
func (e *Engine) plan(remote []RemoteEntity, locals []LocalRecord) (SyncBatch, SyncReport) {
	now := e.now()
	batch := SyncBatch{PassID: e.newPassID()}

	remoteByID := make(map[string]RemoteEntity, len(remote))
	for _, ent := range remote {
		// Дубликаты в выдаче: последняя запись выигрывает.
		remoteByID[ent.ExternalID] = ent
	}
	localByID := make(map[string]*LocalRecord, len(locals))
	localIDs := make([]string, 0, len(locals))
	for i := range locals {
		localByID[locals[i].ExternalID] = &locals[i]
		localIDs = append(localIDs, locals[i].ExternalID)
	}
	sort.Strings(localIDs)

	for _, id := range localIDs {
		if _, ok := remoteByID[id]; ok {
			continue
		}
		rec := localByID[id]
		batch.Snapshots = append(batch.Snapshots, HistorySnapshot{
			ExternalID: id,
			Action:     SnapshotDelete,
			Remark:     "removed upstream",
			PassID:     batch.PassID,
			TakenAt:    now,
			Record:     rec.Clone(),
		})
		batch.Deletes = append(batch.Deletes, id)
	}

	remoteIDs := make([]string, 0, len(remoteByID))
	for id := range remoteByID {
		remoteIDs = append(remoteIDs, id)
	}
	sort.Strings(remoteIDs)
	for _, id := range remoteIDs {
		ent := remoteByID[id]
		rec, ok := localByID[id]
		if !ok {
			batch.Inserts = append(batch.Inserts, newRecord(ent, now))
			continue
		}
		if Equal(rec.Payload, ent.Payload) {
			continue
		}
		before := rec.Clone()
		remark := diffRemark(before, ent)
		batch.Snapshots = append(batch.Snapshots, HistorySnapshot{
			ExternalID: id,
			Action:     SnapshotUpdate,
			Remark:     remark,
			PassID:     batch.PassID,
			TakenAt:    now,
			Record:     before,
		})
		batch.Updates = append(batch.Updates, applyRemote(rec.Clone(), ent, remark, now))
	}

	report := SyncReport{
		Inserted: len(batch.Inserts),
		Updated:  len(batch.Updates),
		Deleted:  len(batch.Deletes),
	}
	if !report.Zero() {
		batch.Audit = append(batch.Audit, AuditEntry{
			Action:   ActionSyncRun,
			TargetID: "",
			Details: map[string]any{
				"pass_id":  batch.PassID,
				"inserted": report.Inserted,
				"updated":  report.Updated,
				"deleted":  report.Deleted,
			},
			At: now,
		})
	}
	return batch, report
}
