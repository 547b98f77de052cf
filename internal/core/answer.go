package core

import "strings"

// reservedValues are placeholder strings written by workers or operators
// that never count as an answer.
var reservedValues = map[string]bool{
	"processing complete": true,
	"processing":          true,
	"processing...":       true,
	"pending":             true,
	"waiting":             true,
	"in progress":         true,
	"error":               true,
	"failed":              true,
	"処理完了":                true,
	"処理中":                 true,
	"待機中":                 true,
	"作業中":                 true,
	"現在操作中です":             true,
	"エラー":                 true,
}

// IsReservedValue reports whether value is one of the sentinel strings.
func IsReservedValue(value string) bool {
	return reservedValues[strings.ToLower(strings.TrimSpace(value))]
}

// HasAnswer reports whether a cell value is a usable answer: non-blank,
// not a reserved sentinel and not a lease marker.
func HasAnswer(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}
	if IsReservedValue(v) {
		return false
	}
	return !IsLeaseMarker(v)
}
