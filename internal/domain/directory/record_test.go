package directory_test

import (
	"encoding/json"
	"testing"
	"time"

	"emby-adminbot/internal/domain/directory"
)

func TestLocalRecordClone(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := directory.LocalRecord{
		ExternalID:    "u1",
		Name:          "alice",
		Payload:       decodePayload(t, `{"Name":"alice","Policy":{"MaxSessions":3},"Tags":["a"]}`),
		LastLoginDate: &at,
	}
	c := rec.Clone()

	c.Name = "bob"
	c.Payload["Name"] = json.Number("1")
	c.Payload["Policy"].(map[string]any)["MaxSessions"] = json.Number("5")
	c.Payload["Tags"].([]any)[0] = "b"
	*c.LastLoginDate = at.Add(time.Hour)

	if rec.Name != "alice" {
		t.Fatalf("clone shares Name: %q", rec.Name)
	}
	if rec.Payload["Name"] != "alice" {
		t.Fatalf("clone shares payload map: %v", rec.Payload["Name"])
	}
	if got := rec.Payload["Policy"].(map[string]any)["MaxSessions"]; got != json.Number("3") {
		t.Fatalf("clone shares nested map: %v", got)
	}
	if got := rec.Payload["Tags"].([]any)[0]; got != "a" {
		t.Fatalf("clone shares nested slice: %v", got)
	}
	if !rec.LastLoginDate.Equal(at) {
		t.Fatalf("clone shares time pointer: %v", rec.LastLoginDate)
	}
}
