package emby_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"emby-adminbot/internal/adapters/emby"
	"emby-adminbot/internal/domain/directory"
)

func TestListPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emby/Users/Query" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Emby-Token"); got != "secret" {
			t.Errorf("X-Emby-Token = %q", got)
		}
		q := r.URL.Query()
		if q.Get("StartIndex") != "10" || q.Get("Limit") != "2" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(`{
			"Items": [
				{"Id":"u1","Name":"alice","DateCreated":"2024-01-02T03:04:05.1234567Z","Policy":{"MaxSessions":3}},
				{"Id":"u2","Name":"bob","LastLoginDate":"2024-02-03T04:05:06.0000000+03:00"}
			],
			"TotalRecordCount": 42
		}`))
	}))
	defer srv.Close()

	c := emby.NewClient(srv.URL, "secret", 100)
	items, total, err := c.ListPage(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("ListPage() error: %v", err)
	}
	if total != 42 {
		t.Fatalf("total = %d, want 42", total)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	u1 := items[0]
	if u1.ExternalID != "u1" || u1.Name != "alice" {
		t.Fatalf("first item = %+v", u1)
	}
	if u1.DateCreated == nil || u1.DateCreated.Year() != 2024 {
		t.Fatalf("DateCreated = %v", u1.DateCreated)
	}
	// Числа в payload должны оставаться json.Number, иначе каноническое
	// сравнение с перечитанными из хранилища значениями расходится.
	policy, ok := u1.Payload["Policy"].(map[string]any)
	if !ok {
		t.Fatalf("Policy = %T", u1.Payload["Policy"])
	}
	if got, ok := policy["MaxSessions"].(json.Number); !ok || got != "3" {
		t.Fatalf("MaxSessions = %T %v", policy["MaxSessions"], policy["MaxSessions"])
	}
	if items[1].LastLoginDate == nil {
		t.Fatal("LastLoginDate not parsed")
	}
}

func TestListPageErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		status      int
		unavailable bool
	}{
		{name: "unauthorizedIsRejected", status: 401, unavailable: false},
		{name: "tooManyRequestsIsTransient", status: 429, unavailable: true},
		{name: "serverErrorIsTransient", status: 503, unavailable: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := emby.NewClient(srv.URL, "secret", 100)
			_, _, err := c.ListPage(context.Background(), 0, 10)
			if err == nil {
				t.Fatal("ListPage() succeeded on error status")
			}
			if directory.IsRemoteUnavailable(err) != tc.unavailable {
				t.Fatalf("IsRemoteUnavailable(%v) = %v, want %v", err, !tc.unavailable, tc.unavailable)
			}
		})
	}
}

func TestDeleteEntity(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := emby.NewClient(srv.URL, "secret", 100)
	if err := c.DeleteEntity(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteEntity() error: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/emby/Users/u1" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestDeleteEntityNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := emby.NewClient(srv.URL, "secret", 100)
	err := c.DeleteEntity(context.Background(), "ghost")
	if !directory.IsRemoteNotFound(err) {
		t.Fatalf("err = %v, want remote not found", err)
	}
}

func TestNotConfigured(t *testing.T) {
	t.Parallel()

	c := emby.NewClient("", "", 100)
	if c.Configured() {
		t.Fatal("empty client reports configured")
	}
	if _, _, err := c.ListPage(context.Background(), 0, 10); err != directory.ErrNotConfigured {
		t.Fatalf("ListPage() err = %v", err)
	}
	if err := c.DeleteEntity(context.Background(), "u1"); err != directory.ErrNotConfigured {
		t.Fatalf("DeleteEntity() err = %v", err)
	}
}
