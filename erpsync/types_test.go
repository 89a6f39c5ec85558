package erpsync

import (
	"testing"
	"time"
)

func TestParamsCodecRoundTrip(t *testing.T) {
	in := SyncParams{
		Since:     "2026-08-01T00:00:00Z",
		StartDate: "2026-07-01",
		EndDate:   "2026-07-31",
		Forced:    true,
	}
	out := DecodeParams(EncodeParams(in))
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}

	since, ok := out.SinceTime()
	if !ok {
		t.Fatal("SinceTime should parse")
	}
	if since.Year() != 2026 || since.Month() != time.August {
		t.Fatalf("parsed since = %v", since)
	}
}

func TestDecodeParams_GarbageYieldsZero(t *testing.T) {
	if p := DecodeParams([]byte("{broken")); p != (SyncParams{}) {
		t.Fatalf("expected zero params, got %+v", p)
	}
	if p := DecodeParams(nil); p != (SyncParams{}) {
		t.Fatalf("expected zero params for nil, got %+v", p)
	}
}

func TestErrorsCodec(t *testing.T) {
	if EncodeErrors(nil) != nil {
		t.Fatal("empty list should encode to nil, not to \"[]\"")
	}

	list := []RecordError{
		{ExternalID: "E1", Message: "email already taken"},
		{Message: "page limit exceeded"},
	}
	out := DecodeErrors(EncodeErrors(list))
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	if out[0].ExternalID != "E1" || out[1].ExternalID != "" {
		t.Fatalf("decoded wrong: %+v", out)
	}
}

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{7, 60 * time.Second},
		{0, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffForAttempt(tc.attempt); got != tc.want {
			t.Errorf("backoffForAttempt(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestPayrollPeriodDefaultsToPreviousMonth(t *testing.T) {
	start, end := payrollPeriod(SyncParams{})
	if !start.Before(end) {
		t.Fatalf("start %v not before end %v", start, end)
	}
	if start.Day() != 1 {
		t.Fatalf("default period should start on the 1st, got %v", start)
	}

	start, end = payrollPeriod(SyncParams{StartDate: "2026-07-01", EndDate: "2026-07-31"})
	if start.Format("2006-01-02") != "2026-07-01" || end.Format("2006-01-02") != "2026-07-31" {
		t.Fatalf("explicit period ignored: %v .. %v", start, end)
	}
}

func TestSyncResultAddError(t *testing.T) {
	var r SyncResult
	r.addError("E1", "boom")
	r.addError("", "fetch aborted")
	if r.ErrorCount != 2 || len(r.Errors) != 2 {
		t.Fatalf("count=%d len=%d", r.ErrorCount, len(r.Errors))
	}
}
