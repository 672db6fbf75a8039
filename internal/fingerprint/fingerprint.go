// Package fingerprint detects meaningful content changes in events via a
// short deterministic hash of their mutable text fields.
package fingerprint

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

const (
	offsetBasis uint32 = 2166136261
	prime       uint32 = 16777619
)

// Compute returns an 8-character lowercase hex fingerprint of the event's
// mutable text fields. Location and GPS never participate: moving an event
// on the map is not a content change.
//
// The input is NFC-normalized first so composed and decomposed forms of the
// same Swedish text produce the same fingerprint. The fold is a 32-bit
// FNV-style multiply-then-XOR per rune.
func Compute(name, summary, eventType string) string {
	s := norm.NFC.String(name + "|" + summary + "|" + eventType)
	h := offsetBasis
	for _, r := range s {
		h = (h * prime) ^ uint32(r)
	}
	return fmt.Sprintf("%08x", h)
}
