package directory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"emby-adminbot/internal/infra/clock"
	"emby-adminbot/internal/infra/logger"
)

// StepStatus — исход отдельного шага конвейера блокировки/разблокировки.
type StepStatus int

const (
	StepOK StepStatus = iota
	StepInfo
	StepFailed
)

// StepResult — итог одного шага. Конвейер не прерывается на сбое шага:
// каждый шаг выполняется независимо и фиксирует свой результат.
type StepResult struct {
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail"`
}

func (s StepResult) String() string {
	var mark string
	switch s.Status {
	case StepOK:
		mark = "✅"
	case StepInfo:
		mark = "ℹ️"
	default:
		mark = "❌"
	}
	return fmt.Sprintf("%s %s: %s", mark, s.Label, s.Detail)
}

func renderSteps(steps []StepResult) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}

func ok(label, detail string) StepResult {
	return StepResult{Label: label, Status: StepOK, Detail: detail}
}

func info(label, detail string) StepResult {
	return StepResult{Label: label, Status: StepInfo, Detail: detail}
}

func failed(label, detail string) StepResult {
	return StepResult{Label: label, Status: StepFailed, Detail: detail}
}

// Service — конвейеры блокировки и разблокировки. Блокировка затрагивает
// удалённый каталог и зеркало; разблокировка намеренно несимметрична:
// она лишь фиксируется в аудите и уведомлении, записи зеркала не меняются —
// восстановление учётной записи в Emby выполняется администратором вручную.
type Service struct {
	source Source
	store  Store
	sink   NotificationSink // nil — канал уведомлений не настроен

	now func() time.Time
}

// NewService собирает конвейер операций над учётной записью.
func NewService(source Source, store Store, sink NotificationSink) *Service {
	return &Service{source: source, store: store, sink: sink, now: clock.Now}
}

// banSource помечает в аудите, кто инициировал блокировку.
func banSource(actorID int64) string {
	if actorID == 0 {
		return "automatic"
	}
	return "manual"
}

// Ban блокирует пользователя: удаляет привязанную учётную запись в удалённом
// каталоге, софт-удаляет строку зеркала и дописывает событие аудита. Каждый
// шаг выполняется независимо, итог — список результатов всех шагов.
func (s *Service) Ban(ctx context.Context, targetID, actorID int64, reason string) []StepResult {
	var steps []StepResult

	externalID, err := s.store.Binding(ctx, targetID)
	if err != nil {
		steps = append(steps, failed("привязка", "не удалось прочитать привязку: "+err.Error()))
	}

	var rec *LocalRecord
	if externalID == "" {
		if err == nil {
			steps = append(steps, info("привязка", "учётная запись Emby не привязана"))
		}
	} else {
		rec, err = s.store.Record(ctx, externalID)
		if err != nil {
			steps = append(steps, failed("зеркало", "не удалось прочитать запись: "+err.Error()))
			rec = nil
		}
		steps = append(steps, s.deleteRemote(ctx, externalID, rec))
	}

	var commitRec *LocalRecord
	switch {
	case rec == nil:
		// Записи в зеркале нет, софт-удалять нечего.
	case rec.IsDeleted:
		steps = append(steps, info("зеркало", "запись уже помечена удалённой"))
	default:
		now := s.now()
		c := rec.Clone()
		c.IsDeleted = true
		c.DeletedAt = &now
		c.DeletedBy = actorID
		c.Remark = fmt.Sprintf("%s (by %d)", reason, actorID)
		c.UpdatedAt = now
		c.UpdatedBy = actorID
		commitRec = &c
		steps = append(steps, ok("зеркало", "запись помечена удалённой"))
	}

	entry := AuditEntry{
		ActorID:  actorID,
		Action:   ActionUserBlock,
		TargetID: strconv.FormatInt(targetID, 10),
		Details: map[string]any{
			"external_id": externalID,
			"reason":      reason,
			"source":      banSource(actorID),
			"steps":       renderSteps(steps),
		},
		At: s.now(),
	}
	if err := s.store.CommitBan(ctx, BanCommit{Record: commitRec, Audit: entry}); err != nil {
		steps = append(steps, failed("аудит", "не удалось сохранить изменения: "+err.Error()))
	} else {
		steps = append(steps, ok("аудит", "событие блокировки записано"))
	}

	s.notify(ctx, Notification{
		ActorID:  actorID,
		TargetID: strconv.FormatInt(targetID, 10),
		Action:   "ban",
		Reason:   reason,
		Steps:    renderSteps(steps),
	})
	return steps
}

// deleteRemote удаляет учётную запись в удалённом каталоге, переводя сбои в
// результат шага. Уже софт-удалённая запись пропускается без сетевого вызова.
func (s *Service) deleteRemote(ctx context.Context, externalID string, rec *LocalRecord) StepResult {
	if rec != nil && rec.IsDeleted {
		return info("emby", "запись уже удалена ранее, запрос к серверу пропущен")
	}
	if s.source == nil || !s.source.Configured() {
		return failed("emby", "доступ к Emby не настроен, удаление пропущено")
	}
	err := s.source.DeleteEntity(ctx, externalID)
	switch {
	case err == nil:
		return ok("emby", "учётная запись удалена на сервере")
	case IsRemoteNotFound(err):
		return info("emby", "учётной записи уже нет на сервере")
	default:
		return failed("emby", "не удалось удалить учётную запись: "+err.Error())
	}
}

// Unban снимает блокировку на уровне журналов: дописывает событие аудита и
// рассылает уведомление. Зеркало не трогается: софт-удалённая запись вернётся
// в него сама, когда учётную запись восстановят в Emby и проход
// синхронизации увидит её в выдаче.
func (s *Service) Unban(ctx context.Context, targetID, actorID int64, reason string) []StepResult {
	var steps []StepResult

	entry := AuditEntry{
		ActorID:  actorID,
		Action:   ActionUserUnblock,
		TargetID: strconv.FormatInt(targetID, 10),
		Details: map[string]any{
			"reason": reason,
			"source": banSource(actorID),
		},
		At: s.now(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		steps = append(steps, failed("аудит", "не удалось записать событие: "+err.Error()))
	} else {
		steps = append(steps, ok("аудит", "событие разблокировки записано"))
	}
	steps = append(steps, info("зеркало", "записи не менялись: восстановление в Emby выполняется вручную"))

	s.notify(ctx, Notification{
		ActorID:  actorID,
		TargetID: strconv.FormatInt(targetID, 10),
		Action:   "unban",
		Reason:   reason,
		Steps:    renderSteps(steps),
	})
	return steps
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Notify(ctx, n); err != nil {
		logger.Warn("не удалось отправить уведомление",
			zap.String("action", n.Action), zap.Error(err))
	}
}
