package boltstore_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"emby-adminbot/internal/adapters/boltstore"
	"emby-adminbot/internal/domain/directory"
)

func openStore(t *testing.T) *boltstore.Store {
	t.Helper()
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "directory.bbolt"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func payload(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return m
}

func TestCommitSyncRoundTrip(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	original := payload(t, `{"Id":"u1","Name":"alice","Policy":{"MaxSessions":3,"Ratio":2.5}}`)
	batch := directory.SyncBatch{
		PassID: "pass-1",
		Inserts: []directory.LocalRecord{{
			ExternalID: "u1",
			Name:       "alice",
			Payload:    original,
			CreatedAt:  now,
			UpdatedAt:  now,
		}},
	}
	if err := s.CommitSync(ctx, batch); err != nil {
		t.Fatalf("CommitSync() error: %v", err)
	}

	recs, err := s.Records(ctx)
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(recs) != 1 || recs[0].ExternalID != "u1" {
		t.Fatalf("records = %+v", recs)
	}
	// Перечитанный payload должен канонически совпадать с исходным: от
	// этого зависит идемпотентность следующего прохода синхронизации.
	if !directory.Equal(recs[0].Payload, original) {
		t.Fatalf("payload differs after round trip: %+v", recs[0].Payload)
	}

	rec, err := s.Record(ctx, "u1")
	if err != nil || rec == nil {
		t.Fatalf("Record() = %v, %v", rec, err)
	}
	if rec, _ := s.Record(ctx, "ghost"); rec != nil {
		t.Fatalf("Record(ghost) = %+v, want nil", rec)
	}
}

func TestCommitSyncAppliesDeletesAndLedgers(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seed := directory.SyncBatch{
		PassID: "pass-1",
		Inserts: []directory.LocalRecord{
			{ExternalID: "u1", Name: "alice", Payload: payload(t, `{"Id":"u1"}`)},
			{ExternalID: "u2", Name: "bob", Payload: payload(t, `{"Id":"u2"}`)},
		},
	}
	if err := s.CommitSync(ctx, seed); err != nil {
		t.Fatalf("seed CommitSync() error: %v", err)
	}

	second := directory.SyncBatch{
		PassID:  "pass-2",
		Deletes: []string{"u2"},
		Snapshots: []directory.HistorySnapshot{{
			ExternalID: "u2",
			Action:     directory.SnapshotDelete,
			Remark:     "removed upstream",
			PassID:     "pass-2",
			TakenAt:    now,
			Record:     directory.LocalRecord{ExternalID: "u2", Name: "bob"},
		}},
		Audit: []directory.AuditEntry{{
			Action:  directory.ActionSyncRun,
			Details: map[string]any{"pass_id": "pass-2", "deleted": 1},
			At:      now,
		}},
	}
	if err := s.CommitSync(ctx, second); err != nil {
		t.Fatalf("CommitSync() error: %v", err)
	}

	if rec, _ := s.Record(ctx, "u2"); rec != nil {
		t.Fatalf("deleted record still present: %+v", rec)
	}
	snaps, err := s.History(ctx, "u2")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Remark != "removed upstream" {
		t.Fatalf("history = %+v", snaps)
	}
	entries, err := s.Audit(ctx, "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Audit() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != directory.ActionSyncRun {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestCommitBan(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seed := directory.SyncBatch{Inserts: []directory.LocalRecord{
		{ExternalID: "u1", Name: "alice", Payload: payload(t, `{"Id":"u1"}`)},
	}}
	if err := s.CommitSync(ctx, seed); err != nil {
		t.Fatalf("seed CommitSync() error: %v", err)
	}

	rec, _ := s.Record(ctx, "u1")
	c := rec.Clone()
	c.IsDeleted = true
	c.DeletedAt = &now
	c.DeletedBy = 7
	c.Remark = "спам (by 7)"
	commit := directory.BanCommit{
		Record: &c,
		Audit: directory.AuditEntry{
			ActorID:  7,
			Action:   directory.ActionUserBlock,
			TargetID: "100",
			At:       now,
		},
	}
	if err := s.CommitBan(ctx, commit); err != nil {
		t.Fatalf("CommitBan() error: %v", err)
	}

	got, _ := s.Record(ctx, "u1")
	if got == nil || !got.IsDeleted || got.DeletedBy != 7 {
		t.Fatalf("record after ban = %+v", got)
	}
	entries, _ := s.Audit(ctx, "100", time.Time{}, time.Time{})
	if len(entries) != 1 || entries[0].Action != directory.ActionUserBlock {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestAuditFilters(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		entry := directory.AuditEntry{
			ActorID:  int64(i),
			Action:   directory.ActionUserBlock,
			TargetID: "100",
			At:       base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.AppendAudit(ctx, entry); err != nil {
			t.Fatalf("AppendAudit() error: %v", err)
		}
	}
	if err := s.AppendAudit(ctx, directory.AuditEntry{Action: directory.ActionUserUnblock, TargetID: "200", At: base}); err != nil {
		t.Fatalf("AppendAudit() error: %v", err)
	}

	byTarget, _ := s.Audit(ctx, "100", time.Time{}, time.Time{})
	if len(byTarget) != 3 {
		t.Fatalf("by target = %d, want 3", len(byTarget))
	}
	byRange, _ := s.Audit(ctx, "", base.Add(30*time.Minute), base.Add(90*time.Minute))
	if len(byRange) != 1 || byRange[0].ActorID != 1 {
		t.Fatalf("by range = %+v", byRange)
	}
	// Порядок добавления сохраняется.
	all, _ := s.Audit(ctx, "", time.Time{}, time.Time{})
	if len(all) != 4 || all[0].ActorID != 0 || all[2].ActorID != 2 {
		t.Fatalf("all entries = %+v", all)
	}
}

func TestBindings(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	if got, err := s.Binding(ctx, 100); err != nil || got != "" {
		t.Fatalf("Binding(empty) = %q, %v", got, err)
	}
	if err := s.Bind(ctx, 100, "u1"); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if err := s.Bind(ctx, 100, "u2"); err != nil {
		t.Fatalf("Bind() overwrite error: %v", err)
	}
	if got, _ := s.Binding(ctx, 100); got != "u2" {
		t.Fatalf("Binding() = %q, want u2", got)
	}
}
