// README: Driver read model. The core never mutates drivers.
package driver

import (
	"github.com/cheez95/luckygas/internal/types"
)

type Driver struct {
	ID       types.ID
	Name     string
	Capacity types.Load
	Shift    types.Window
	// Start defaults to the depot when zero.
	Start  types.Point
	Active bool
}
