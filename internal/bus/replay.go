// README: Per-room replay ring. Holds recent events so a reconnecting
// session can catch up; bounded by count and age.
package bus

import (
	"sync"
	"time"
)

type replayLog struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	rooms  map[string][]Event
}

func newReplayLog(window time.Duration, max int) *replayLog {
	return &replayLog{
		window: window,
		max:    max,
		rooms:  make(map[string][]Event),
	}
}

func (r *replayLog) append(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.rooms[ev.Room], ev)
	buf = r.prune(buf, time.Now())
	r.rooms[ev.Room] = buf
}

func (r *replayLog) prune(buf []Event, now time.Time) []Event {
	if len(buf) > r.max {
		buf = buf[len(buf)-r.max:]
	}
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(buf) && buf[i].OccurredAt.Before(cutoff) {
		i++
	}
	return buf[i:]
}

// since returns events in room with Seq > after. gap is true when events
// newer than `after` have already been evicted, so the caller cannot be
// made whole from the ring alone.
func (r *replayLog) since(room string, after uint64) (events []Event, gap bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.rooms[room]
	if len(buf) == 0 {
		return nil, after > 0
	}
	if buf[0].Seq > after+1 {
		gap = true
	}
	for _, ev := range buf {
		if ev.Seq > after {
			events = append(events, ev)
		}
	}
	return events, gap
}
