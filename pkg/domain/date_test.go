package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateLabelZeroPadsDay(t *testing.T) {
	cases := map[Date]string{
		NewDate(2025, time.January, 1):  "01 Jan",
		NewDate(2025, time.January, 11): "11 Jan",
		NewDate(2024, time.December, 9): "09 Dec",
	}
	for d, want := range cases {
		if got := d.Label(); got != want {
			t.Fatalf("label %s: got %q want %q", d, got, want)
		}
	}
}

func TestDateComparableAcrossZones(t *testing.T) {
	loc := time.FixedZone("east", 5*3600)
	a := DateOf(time.Date(2025, 1, 12, 23, 30, 0, 0, loc))
	b := MustParseDate("2025-01-12")
	if a != b {
		t.Fatalf("expected equal dates, got %s and %s", a, b)
	}
	seen := map[Date]int{a: 1}
	if seen[b] != 1 {
		t.Fatalf("expected date to key maps")
	}
	if !b.Before(NewDate(2025, 1, 13)) || b.Compare(a) != 0 {
		t.Fatalf("unexpected ordering")
	}
}

func TestDateJSON(t *testing.T) {
	var task Task
	if err := json.Unmarshal([]byte(`{"id":4,"date":"2025-01-11","duration":3}`), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Date != NewDate(2025, 1, 11) || task.PositionID != nil {
		t.Fatalf("unexpected task %+v", task)
	}
	raw, err := json.Marshal(task.Date)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"2025-01-11"` {
		t.Fatalf("unexpected encoding %s", raw)
	}
	var ts Date
	if err := json.Unmarshal([]byte(`"2025-01-11T08:00:00Z"`), &ts); err != nil || ts != task.Date {
		t.Fatalf("expected RFC3339 input to truncate, got %v %v", ts, err)
	}
	if err := json.Unmarshal([]byte(`"11/01/2025"`), &ts); err == nil {
		t.Fatalf("expected malformed date to fail")
	}
}

func TestDateScan(t *testing.T) {
	var d Date
	for _, src := range []any{"2025-01-13", []byte("2025-01-13 00:00:00"), time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)} {
		if err := d.Scan(src); err != nil {
			t.Fatalf("scan %T: %v", src, err)
		}
		if d != NewDate(2025, 1, 13) {
			t.Fatalf("scan %T: got %s", src, d)
		}
	}
	if err := d.Scan(42); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	v, err := d.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if _, ok := v.(time.Time); !ok {
		t.Fatalf("expected time value, got %T", v)
	}
}
