package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// LeaseMarkerPrefix starts every lease marker written into an answer cell.
const LeaseMarkerPrefix = "[claimed]"

// LeaseMarker is the claim a worker writes into a cell before dispatch.
type LeaseMarker struct {
	Timestamp time.Time
	WorkerID  string
	Function  string
}

// Encode serializes the marker into its cell representation:
//
//	[claimed] 2026-10-17T09:30:00Z worker=<id> fn=<function>
func (m LeaseMarker) Encode() string {
	return fmt.Sprintf("%s %s worker=%s fn=%s",
		LeaseMarkerPrefix,
		m.Timestamp.UTC().Format(time.RFC3339),
		url.QueryEscape(m.WorkerID),
		url.QueryEscape(m.Function),
	)
}

// Age returns how long ago the marker was written.
func (m LeaseMarker) Age(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}

// IsLeaseMarker reports whether a cell value looks like a lease marker.
func IsLeaseMarker(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), LeaseMarkerPrefix)
}

// DecodeLeaseMarker parses a cell value written by Encode.
// It returns false for anything that is not a well-formed marker.
func DecodeLeaseMarker(value string) (LeaseMarker, bool) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, LeaseMarkerPrefix) {
		return LeaseMarker{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(value, LeaseMarkerPrefix))
	if len(fields) != 3 {
		return LeaseMarker{}, false
	}
	ts, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		return LeaseMarker{}, false
	}
	worker, ok := decodeField(fields[1], "worker=")
	if !ok || worker == "" {
		return LeaseMarker{}, false
	}
	fn, ok := decodeField(fields[2], "fn=")
	if !ok {
		return LeaseMarker{}, false
	}
	return LeaseMarker{Timestamp: ts, WorkerID: worker, Function: fn}, true
}

func decodeField(field, key string) (string, bool) {
	if !strings.HasPrefix(field, key) {
		return "", false
	}
	v, err := url.QueryUnescape(strings.TrimPrefix(field, key))
	if err != nil {
		return "", false
	}
	return v, true
}
