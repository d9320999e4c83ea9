// README: In-process event broker. Assigns per-room sequence numbers,
// fans out to room subscribers plus admin, and feeds the replay ring.
// Sequencing, ring append, and fan-out happen under one lock so every
// subscriber and the ring observe the same per-room order. A subscriber
// whose outbound queue overflows is disconnected; it reconnects and
// replays from its last acknowledged sequence.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cheez95/luckygas/internal/metrics"
)

type Options struct {
	OutboundQueue     int
	ReplayWindow      time.Duration
	ReplayMaxEvents   int
	DetachedRetention time.Duration
}

type Broker struct {
	mu       sync.Mutex
	seqs     map[string]uint64
	sessions map[string]*Session
	replay   *replayLog
	// detached holds sessions whose connection dropped, keyed by session id,
	// so a quick reconnect resumes instead of starting over.
	detached *cache.Cache
	queue    int
	log      zerolog.Logger
}

func NewBroker(opts Options, log zerolog.Logger) *Broker {
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = 256
	}
	if opts.ReplayMaxEvents <= 0 {
		opts.ReplayMaxEvents = 1000
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = 15 * time.Minute
	}
	if opts.DetachedRetention <= 0 {
		opts.DetachedRetention = time.Minute
	}
	return &Broker{
		seqs:     make(map[string]uint64),
		sessions: make(map[string]*Session),
		replay:   newReplayLog(opts.ReplayWindow, opts.ReplayMaxEvents),
		detached: cache.New(opts.DetachedRetention, opts.DetachedRetention),
		queue:    opts.OutboundQueue,
		log:      log.With().Str("component", "bus").Logger(),
	}
}

// Publish assigns one sequence number per distinct room, appends each
// room copy to the replay ring, and fans out. The admin room receives
// every event once even when not listed. The whole publish is one
// critical section: concurrent publishers cannot interleave a room's
// seq N+1 ahead of seq N in either the ring or a subscriber queue.
func (b *Broker) Publish(kind Kind, payload any, rooms ...string) {
	eventID := uuid.NewString()
	now := time.Now().UTC()
	targets := lo.Uniq(append(rooms, RoomAdmin))

	b.mu.Lock()
	for _, room := range targets {
		b.seqs[room]++
		ev := Event{
			EventID:    eventID,
			Room:       room,
			Seq:        b.seqs[room],
			Kind:       kind,
			OccurredAt: now,
			Payload:    payload,
		}
		b.replay.append(ev)
		for _, s := range b.sessions {
			s.deliver(ev)
		}
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
}

// Subscribe registers a session for the given rooms. lastSeqs carries the
// last sequence the client saw per room; missed events inside the replay
// window are queued ahead of live traffic. A room whose backlog fell out
// of the window is reported through gapRooms. Backlog delivery and
// registration share the publish lock, so no live event can slip in
// ahead of the backlog.
func (b *Broker) Subscribe(sessionID string, rooms []string, lastSeqs map[string]uint64) (s *Session, gapRooms []string) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s = &Session{
		ID:    sessionID,
		rooms: lo.SliceToMap(rooms, func(r string) (string, struct{}) { return r, struct{}{} }),
		acks:  make(map[string]uint64),
		out:   make(chan Event, b.queue),
	}

	b.mu.Lock()
	if prev, ok := b.detached.Get(sessionID); ok {
		b.detached.Delete(sessionID)
		// Resume inherits the rooms, and the acknowledged positions when
		// the client did not resend them.
		if len(rooms) == 0 {
			s.rooms = prev.(*Session).rooms
		}
		if len(lastSeqs) == 0 {
			lastSeqs = prev.(*Session).ackedSeqs()
		}
	}
	for room := range s.rooms {
		backlog, gap := b.replay.since(room, lastSeqs[room])
		if gap {
			gapRooms = append(gapRooms, room)
		}
		for _, ev := range backlog {
			s.deliver(ev)
		}
	}
	b.sessions[sessionID] = s
	b.mu.Unlock()

	b.log.Debug().Str("session", sessionID).Int("rooms", len(s.rooms)).Msg("session subscribed")
	return s, gapRooms
}

// Detach removes the live session but keeps it resumable for the
// retention window.
func (b *Broker) Detach(s *Session) {
	b.mu.Lock()
	delete(b.sessions, s.ID)
	b.mu.Unlock()
	b.detached.SetDefault(s.ID, s)
}

// Close removes the session for good.
func (b *Broker) Close(s *Session) {
	b.mu.Lock()
	delete(b.sessions, s.ID)
	b.mu.Unlock()
	b.detached.Delete(s.ID)
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
}

// Session is one subscriber's view of the broker.
type Session struct {
	ID      string
	rooms   map[string]struct{}
	acks    map[string]uint64
	out     chan Event
	closed  bool
	dropped uint64
	mu      sync.Mutex
}

// C yields the session's ordered event stream. The channel closes when
// the broker shuts the session down, including after a queue overflow.
func (s *Session) C() <-chan Event { return s.out }

// Dropped reports how many events were discarded because the outbound
// queue was full.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// JoinRoom adds a live subscription without reconnecting.
func (s *Session) JoinRoom(room string) {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

// Resubscribe replaces the session's room set.
func (s *Session) Resubscribe(rooms []string) {
	s.mu.Lock()
	s.rooms = lo.SliceToMap(rooms, func(r string) (string, struct{}) { return r, struct{}{} })
	s.mu.Unlock()
}

// Ack records the last sequence the client processed in a room. A
// resumed session without explicit last_seqs replays from here.
func (s *Session) Ack(room string, seq uint64) {
	s.mu.Lock()
	if seq > s.acks[room] {
		s.acks[room] = seq
	}
	s.mu.Unlock()
}

func (s *Session) ackedSeqs() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.acks))
	for room, seq := range s.acks {
		out[room] = seq
	}
	return out
}

// deliver enqueues one event. On a full queue the session is closed
// rather than left to silently miss events; the client sees the channel
// close, reconnects, and replays from its last acknowledged sequence.
func (s *Session) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, member := s.rooms[ev.Room]; !member {
		return
	}
	select {
	case s.out <- ev:
	default:
		s.dropped++
		metrics.EventsDropped.Inc()
		s.closeLocked()
	}
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
