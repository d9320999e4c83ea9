// README: Customer read model. The core never mutates customers.
package customer

import (
	"github.com/cheez95/luckygas/internal/types"
)

type Customer struct {
	ID       types.ID
	Name     string
	Location types.Point
	// Window is the service window in minutes from operating-day start.
	Window         types.Window
	ServiceMinutes int
	// DominantSize is the cylinder size this customer usually orders;
	// prediction drafts fall back to it.
	DominantSize types.CylinderSize
	// SubscriptionDays is the delivery cadence in days, 0 when none.
	SubscriptionDays int
}
