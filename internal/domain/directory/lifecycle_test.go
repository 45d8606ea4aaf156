package directory_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"emby-adminbot/internal/domain/directory"
)

var zeroTime time.Time

type fakeSink struct {
	notes []directory.Notification
	err   error
}

func (f *fakeSink) Notify(_ context.Context, n directory.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, n)
	return nil
}

func countStatus(steps []directory.StepResult, status directory.StepStatus) int {
	n := 0
	for _, s := range steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

func TestBanFullPipeline(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configured: true}
	store := newFakeStore()
	store.bindings[100] = "u1"
	store.records["u1"] = directory.LocalRecord{
		ExternalID: "u1",
		Name:       "alice",
		Payload:    decodePayload(t, `{"Id":"u1","Name":"alice"}`),
	}
	sink := &fakeSink{}
	svc := directory.NewService(src, store, sink)

	steps := svc.Ban(context.Background(), 100, 7, "нарушение правил")
	if n := countStatus(steps, directory.StepFailed); n != 0 {
		t.Fatalf("ban produced failed steps: %v", steps)
	}
	if len(src.deleted) != 1 || src.deleted[0] != "u1" {
		t.Fatalf("remote delete not performed: %v", src.deleted)
	}

	rec := store.records["u1"]
	if !rec.IsDeleted || rec.DeletedAt == nil || rec.DeletedBy != 7 {
		t.Fatalf("mirror row not soft-deleted: %+v", rec)
	}
	if rec.Remark != "нарушение правил (by 7)" {
		t.Fatalf("remark = %q", rec.Remark)
	}

	entries, _ := store.Audit(context.Background(), "100", zeroTime, zeroTime)
	if len(entries) != 1 || entries[0].Action != directory.ActionUserBlock {
		t.Fatalf("audit entries = %+v", entries)
	}
	if entries[0].Details["source"] != "manual" {
		t.Fatalf("audit source = %v, want manual", entries[0].Details["source"])
	}
	if len(sink.notes) != 1 || sink.notes[0].Action != "ban" {
		t.Fatalf("notification not sent: %+v", sink.notes)
	}
}

func TestBanContinuesPastRemoteFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configured: true}
	src.deleteErr = &directory.RemoteError{Kind: directory.RemoteUnavailable, Status: 503, Message: "down"}
	store := newFakeStore()
	store.bindings[100] = "u1"
	store.records["u1"] = directory.LocalRecord{ExternalID: "u1", Name: "alice"}
	svc := directory.NewService(src, store, nil)

	steps := svc.Ban(context.Background(), 100, 7, "спам")
	if n := countStatus(steps, directory.StepFailed); n != 1 {
		t.Fatalf("failed steps = %d, want 1: %v", n, steps)
	}
	if n := countStatus(steps, directory.StepOK); n < 2 {
		t.Fatalf("succeeded steps = %d, want >= 2: %v", n, steps)
	}
	// Сбой удалённого шага не мешает локальным записям.
	if rec := store.records["u1"]; !rec.IsDeleted {
		t.Fatalf("mirror row not soft-deleted after remote failure: %+v", rec)
	}
	if n := countByAction(store.audit, directory.ActionUserBlock); n != 1 {
		t.Fatalf("audit entries = %d, want 1", n)
	}
}

func TestBanWithoutBinding(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configured: true}
	store := newFakeStore()
	svc := directory.NewService(src, store, nil)

	steps := svc.Ban(context.Background(), 100, 7, "спам")
	if n := countStatus(steps, directory.StepFailed); n != 0 {
		t.Fatalf("ban without binding produced failures: %v", steps)
	}
	if src.listCalls != 0 || len(src.deleted) != 0 {
		t.Fatal("ban without binding touched the remote directory")
	}
	// Аудит пишется всегда.
	if n := countByAction(store.audit, directory.ActionUserBlock); n != 1 {
		t.Fatalf("audit entries = %d, want 1", n)
	}
}

func TestBanNotConfigured(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configured: false}
	store := newFakeStore()
	store.bindings[100] = "u1"
	store.records["u1"] = directory.LocalRecord{ExternalID: "u1", Name: "alice"}
	svc := directory.NewService(src, store, nil)

	steps := svc.Ban(context.Background(), 100, 0, "автоматическая блокировка")
	var embyStep *directory.StepResult
	for i := range steps {
		if steps[i].Label == "emby" {
			embyStep = &steps[i]
		}
	}
	if embyStep == nil || embyStep.Status != directory.StepFailed {
		t.Fatalf("unconfigured source step = %+v", embyStep)
	}
	if !strings.Contains(embyStep.Detail, "не настроен") {
		t.Fatalf("step detail = %q", embyStep.Detail)
	}
	if len(src.deleted) != 0 {
		t.Fatal("unconfigured source received a delete call")
	}

	entries, _ := store.Audit(context.Background(), "100", zeroTime, zeroTime)
	if len(entries) != 1 || entries[0].Details["source"] != "automatic" {
		t.Fatalf("audit entries = %+v", entries)
	}
}

func TestBanAlreadySoftDeletedSkipsRemote(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configured: true}
	store := newFakeStore()
	store.bindings[100] = "u1"
	store.records["u1"] = directory.LocalRecord{ExternalID: "u1", Name: "alice", IsDeleted: true}
	svc := directory.NewService(src, store, nil)

	steps := svc.Ban(context.Background(), 100, 7, "повторный бан")
	if len(src.deleted) != 0 {
		t.Fatal("soft-deleted record triggered a remote delete")
	}
	if n := countStatus(steps, directory.StepInfo); n < 2 {
		t.Fatalf("info steps = %d, want >= 2: %v", n, steps)
	}
}

func TestUnbanTouchesOnlyLedgers(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configured: true}
	store := newFakeStore()
	store.bindings[100] = "u1"
	store.records["u1"] = directory.LocalRecord{ExternalID: "u1", Name: "alice", IsDeleted: true}
	sink := &fakeSink{}
	svc := directory.NewService(src, store, sink)

	steps := svc.Unban(context.Background(), 100, 7, "амнистия")
	if n := countStatus(steps, directory.StepFailed); n != 0 {
		t.Fatalf("unban produced failures: %v", steps)
	}
	// Несимметричность: записи зеркала и удалённый каталог не трогаются.
	if rec := store.records["u1"]; !rec.IsDeleted {
		t.Fatalf("unban mutated the mirror: %+v", rec)
	}
	if len(src.deleted) != 0 || src.listCalls != 0 {
		t.Fatal("unban touched the remote directory")
	}
	if n := countByAction(store.audit, directory.ActionUserUnblock); n != 1 {
		t.Fatalf("audit entries = %d, want 1", n)
	}
	if len(sink.notes) != 1 || sink.notes[0].Action != "unban" {
		t.Fatalf("notification not sent: %+v", sink.notes)
	}
}

func TestUnbanNotifierFailureDoesNotAffectSteps(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	sink := &fakeSink{err: context.DeadlineExceeded}
	svc := directory.NewService(&fakeSource{}, store, sink)

	steps := svc.Unban(context.Background(), 100, 7, "амнистия")
	if n := countStatus(steps, directory.StepFailed); n != 0 {
		t.Fatalf("notifier failure leaked into steps: %v", steps)
	}
}
