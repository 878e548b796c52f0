package result

import (
	"hash/crc32"
	"sync"
	"time"

	"github.com/lecture-live/transcribe-core/internal/asr"
)

// dedupBucket is the time-bucket width used by the (timestamp, text_hash)
// fallback dedup key, per spec.md §9's Open Question resolution.
const dedupBucket = 10 * time.Millisecond

// dedupKey identifies one final result across a possible epoch-renewal
// boundary resend. Preferring (epoch_index, provider_result_id) when the
// provider supplies a result id; falling back to a bucketed-timestamp plus
// text hash when it does not.
type dedupKey struct {
	epochIndex int
	resultID   string
	bucket     int64
	textHash   uint32
}

func keyFor(ev asr.ProviderEvent) dedupKey {
	if ev.ResultID != "" {
		return dedupKey{epochIndex: ev.EpochIndex, resultID: ev.ResultID}
	}
	return dedupKey{
		bucket:   ev.Timestamp.UnixNano() / int64(dedupBucket),
		textHash: crc32.ChecksumIEEE([]byte(ev.Text)),
	}
}

// dedupTracker remembers every final key delivered in a session so a
// provider resend is not re-published. A final with a result id only
// matches a resend from the same epoch (the key includes the epoch index);
// a final without one matches on timestamp bucket and text hash, whatever
// its epoch.
type dedupTracker struct {
	mu   sync.Mutex
	seen map[dedupKey]struct{}
}

func newDedupTracker() *dedupTracker {
	return &dedupTracker{seen: make(map[dedupKey]struct{})}
}

// isDuplicate reports whether ev was already delivered, recording it as
// seen if not.
func (d *dedupTracker) isDuplicate(ev asr.ProviderEvent) bool {
	k := keyFor(ev)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[k]; ok {
		return true
	}
	d.seen[k] = struct{}{}
	return false
}
