package domain

import (
	"testing"
	"time"
)

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ttlAt time.Time
		want  bool
	}{
		{name: "no ttl never expires", want: false},
		{name: "future ttl", ttlAt: now.Add(time.Minute), want: false},
		{name: "ttl equal to now", ttlAt: now, want: true},
		{name: "past ttl", ttlAt: now.Add(-time.Second), want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := IdempotencyRecord{Key: "k", TTLAt: tc.ttlAt}
			if got := record.Expired(now); got != tc.want {
				t.Fatalf("Expired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordReplayable(t *testing.T) {
	tests := []struct {
		name   string
		record IdempotencyRecord
		want   bool
	}{
		{
			name:   "done with stored response",
			record: IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: 201, ResponseBody: []byte(`{"id":"o-1"}`)},
			want:   true,
		},
		{
			name:   "partial reservation response is replayed too",
			record: IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: 202},
			want:   true,
		},
		{name: "still processing", record: IdempotencyRecord{Status: IdempotencyStatusProcessing}},
		{name: "failed request", record: IdempotencyRecord{Status: IdempotencyStatusFailed, HTTPStatus: 500}},
		{name: "done without status code", record: IdempotencyRecord{Status: IdempotencyStatusDone}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.record.Replayable(); got != tc.want {
				t.Fatalf("Replayable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIdempotencyStatusValid(t *testing.T) {
	for _, status := range []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed} {
		if !status.Valid() {
			t.Fatalf("status %q must be valid", status)
		}
	}
	if IdempotencyStatus("replayed").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}
