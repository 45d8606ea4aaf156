package timeutil_test

import (
	"testing"
	"time"

	"emby-adminbot/internal/infra/timeutil"
)

func TestParseRemoteTime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value string
		want  string // RFC3339Nano в UTC; "" означает nil
	}{
		{
			name:  "embySevenDigitFractionWithZone",
			value: "2024-03-01T10:15:30.1234567Z",
			want:  "2024-03-01T10:15:30.1234567Z",
		},
		{
			name:  "embyFractionWithoutZone",
			value: "2024-03-01T10:15:30.1234567",
			want:  "2024-03-01T10:15:30.1234567Z",
		},
		{
			name:  "rfc3339WithOffset",
			value: "2024-03-01T13:15:30+03:00",
			want:  "2024-03-01T10:15:30Z",
		},
		{
			name:  "plainSecondsNoZone",
			value: "2024-03-01T10:15:30",
			want:  "2024-03-01T10:15:30Z",
		},
		{
			name:  "emptyString",
			value: "",
			want:  "",
		},
		{
			name:  "whitespaceOnly",
			value: "   ",
			want:  "",
		},
		{
			name:  "garbage",
			value: "not-a-date",
			want:  "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := timeutil.ParseRemoteTime(tc.value)
			if tc.want == "" {
				if got != nil {
					t.Fatalf("ParseRemoteTime(%q) = %v, want nil", tc.value, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseRemoteTime(%q) = nil, want %s", tc.value, tc.want)
			}
			if got.Format(time.RFC3339Nano) != tc.want {
				t.Fatalf("ParseRemoteTime(%q) = %s, want %s", tc.value, got.Format(time.RFC3339Nano), tc.want)
			}
			if got.Location() != time.UTC {
				t.Fatalf("ParseRemoteTime(%q) location = %v, want UTC", tc.value, got.Location())
			}
		})
	}
}

func TestFormatTimePtr(t *testing.T) {
	t.Parallel()

	if got := timeutil.FormatTimePtr(nil); got != "-" {
		t.Fatalf("FormatTimePtr(nil) = %q, want %q", got, "-")
	}

	ts := time.Date(2024, 3, 1, 13, 15, 30, 0, time.FixedZone("UTC+03:00", 3*60*60))
	if got := timeutil.FormatTimePtr(&ts); got != "2024-03-01T10:15:30Z" {
		t.Fatalf("FormatTimePtr() = %q, want %q", got, "2024-03-01T10:15:30Z")
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		value      string
		wantOffset int
		wantErr    bool
	}{
		{name: "ianaName", value: "Europe/Moscow", wantOffset: 3 * 60 * 60},
		{name: "plainOffset", value: "+03:00", wantOffset: 3 * 60 * 60},
		{name: "compactNegative", value: "-0430", wantOffset: -(4*60*60 + 30*60)},
		{name: "utcPrefix", value: "UTC+3", wantOffset: 3 * 60 * 60},
		{name: "zulu", value: "Z", wantOffset: 0},
		{name: "empty", value: "", wantErr: true},
		{name: "garbage", value: "Nowhere/Nothing", wantErr: true},
		{name: "hoursOutOfRange", value: "+15:00", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			loc, err := timeutil.ParseLocation(tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLocation(%q) error = nil, want error", tc.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocation(%q) error = %v", tc.value, err)
			}
			_, offset := time.Date(2024, 3, 1, 0, 0, 0, 0, loc).Zone()
			if offset != tc.wantOffset {
				t.Fatalf("ParseLocation(%q) offset = %d, want %d", tc.value, offset, tc.wantOffset)
			}
		})
	}
}
