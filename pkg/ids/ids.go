// Package ids generates prefixed, lexicographically sortable identifiers.
//
// Each id is <prefix><millis-since-epoch base32><random suffix>: the
// timestamp component makes ids sort in creation order (ties broken by the
// random suffix), which lets the store order rows by id without a separate
// created_at index when only relative ordering matters. The random suffix
// is drawn from a uuid rather than crypto/rand directly, matching the
// teacher's own id-generation calls (uuid.New().String()) everywhere it
// needs a unique string id.
package ids

import (
	"encoding/base32"
	"time"

	"github.com/google/uuid"
)

// Prefixes used across the store.
const (
	PrefixJob    = "job_"
	PrefixTask   = "task_"
	PrefixMemory = "mem_"
	PrefixChunk  = "chunk_"
)

var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// New generates a new id with the given prefix.
func New(prefix string) string {
	var buf [10]byte
	millis := uint64(time.Now().UnixMilli())
	for i := 7; i >= 0; i-- {
		buf[i] = byte(millis & 0xff)
		millis >>= 8
	}
	tail := uuid.New()
	copy(buf[8:], tail[:2])
	return prefix + encoding.EncodeToString(buf[:])
}
