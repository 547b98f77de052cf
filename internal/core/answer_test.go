package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasAnswer(t *testing.T) {
	marker := LeaseMarker{
		Timestamp: time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
		WorkerID:  "host-a-1234",
		Function:  "deep research",
	}.Encode()

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"empty", "", false},
		{"whitespace", "  \n\t", false},
		{"lease marker", marker, false},
		{"processing complete", "processing complete", false},
		{"processing complete mixed case", "Processing Complete", false},
		{"pending", "pending", false},
		{"japanese sentinel", "処理中", false},
		{"real answer", strings.Repeat("a real answer ", 11), true},
		{"short answer", "42", true},
		{"answer mentioning claimed", "the order was [claimed] by a customer", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasAnswer(tt.value))
		})
	}
}

func TestLeaseMarker_RoundTrip(t *testing.T) {
	m := LeaseMarker{
		Timestamp: time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
		WorkerID:  "host a/uuid",
		Function:  "deep research",
	}
	decoded, ok := DecodeLeaseMarker(m.Encode())
	require.True(t, ok)
	assert.True(t, m.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, m.WorkerID, decoded.WorkerID)
	assert.Equal(t, m.Function, decoded.Function)
}

func TestDecodeLeaseMarker_Rejects(t *testing.T) {
	for _, v := range []string{
		"",
		"hello",
		"[claimed]",
		"[claimed] not-a-time worker=a fn=",
		"[claimed] 2026-10-17T09:30:00Z fn=x worker=a",
		"[claimed] 2026-10-17T09:30:00Z worker= fn=x",
	} {
		_, ok := DecodeLeaseMarker(v)
		assert.False(t, ok, "value %q", v)
	}
}

func TestLeaseMarker_Age(t *testing.T) {
	ts := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	m := LeaseMarker{Timestamp: ts, WorkerID: "w"}
	assert.Equal(t, 5*time.Minute, m.Age(ts.Add(5*time.Minute)))
}
