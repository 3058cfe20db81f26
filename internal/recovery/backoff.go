package recovery

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"contentflow/internal/queue"
)

// Backoff computes how long a stuck stage waits past its timeout before the
// next retry. Zero base disables backoff.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt+1 of st on record id.
// The delay doubles per attempt, gains up to 25% jitter derived from the
// inputs, and never exceeds Max.
func (b Backoff) Delay(id string, st queue.Stage, attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", id, st, attempt)))
	frac := float64(binary.BigEndian.Uint64(sum[:8])%1000) / 1000
	d += time.Duration(float64(d) / 4 * frac)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
