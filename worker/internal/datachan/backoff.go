package datachan

import "time"

const (
	backoffInitial = 1
	backoffMax     = 30
)

// backoff is a truncated exponential backoff counted in units, without jitter.
type backoff struct {
	unit    time.Duration
	current int
}

func newBackoff(unit time.Duration) *backoff {
	return &backoff{unit: unit, current: backoffInitial}
}

// next returns the current wait and advances the internal state.
func (b *backoff) next() time.Duration {
	d := time.Duration(b.current) * b.unit
	b.current *= 2
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
