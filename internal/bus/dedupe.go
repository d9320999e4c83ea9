// README: Consumer-side event dedupe keyed on EventID.
package bus

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Deduper remembers recently seen event ids. Replay makes redelivery
// routine, so consumers with side effects gate on it.
type Deduper struct {
	seen *cache.Cache
}

func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Deduper{seen: cache.New(window, window)}
}

// Seen marks the id and reports whether it was already marked.
func (d *Deduper) Seen(eventID string) bool {
	err := d.seen.Add(eventID, struct{}{}, cache.DefaultExpiration)
	return err != nil
}
