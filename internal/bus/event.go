// README: Event envelope, kinds, and room naming shared by producers and
// the broker. Sequence numbers are per room, assigned on publish.
package bus

import (
	"fmt"
	"time"

	"github.com/cheez95/luckygas/internal/types"
)

type Kind string

const (
	KindOrderCreated   Kind = "order.created"
	KindOrderUpdated   Kind = "order.updated"
	KindOrderAssigned  Kind = "order.assigned"
	KindRouteCreated   Kind = "route.created"
	KindRouteUpdated   Kind = "route.updated"
	KindRouteProgress  Kind = "route.progress"
	KindDriverLocation Kind = "driver.location"
	KindJobProgress    Kind = "job.progress"
	KindJobCompleted   Kind = "job.completed"
	KindNotification   Kind = "notification"
)

// Role-scoped rooms. admin receives everything regardless of target rooms.
const (
	RoomAdmin       = "admin"
	RoomOrders      = "orders"
	RoomRoutes      = "routes"
	RoomPredictions = "predictions"
)

func RoomDriver(id types.ID) string   { return fmt.Sprintf("driver:%s", id) }
func RoomCustomer(id types.ID) string { return fmt.Sprintf("customer:%s", id) }

// Event is the wire envelope. EventID is stable across redelivery so
// consumers can dedupe; Seq is strictly increasing within Room.
type Event struct {
	EventID    string    `json:"event_id"`
	Room       string    `json:"room"`
	Seq        uint64    `json:"seq"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher is the slice of the broker that state-machine services see.
// Publish never fails the originating mutation.
type Publisher interface {
	Publish(kind Kind, payload any, rooms ...string)
}

// NopPublisher satisfies Publisher for tests and tools.
type NopPublisher struct{}

func (NopPublisher) Publish(Kind, any, ...string) {}
