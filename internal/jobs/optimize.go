// README: optimize_day handler: load the day's confirmed orders and active
// drivers, solve, and assemble routes.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cheez95/luckygas/internal/modules/customer"
	"github.com/cheez95/luckygas/internal/modules/driver"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/modules/route"
	"github.com/cheez95/luckygas/internal/solver"
	"github.com/cheez95/luckygas/internal/types"
)

// OptimizeParams are the params payload for optimize_day jobs.
type OptimizeParams struct {
	Date      string `json:"date"`
	Objective string `json:"objective,omitempty"`
	BudgetMs  int    `json:"budget_ms,omitempty"`
	// DriverIDs restricts the fleet; empty means every active driver.
	DriverIDs []types.ID `json:"driver_ids,omitempty"`
}

// OptimizeResult is the result payload stored on completed jobs.
type OptimizeResult struct {
	RouteIDs    []types.ID          `json:"route_ids"`
	Unassigned  []solver.Unassigned `json:"unassigned,omitempty"`
	Fallback    bool                `json:"fallback"`
	Approximate bool                `json:"approximate"`
	Improved    bool                `json:"improved"`
}

type OptimizeHandler struct {
	orders    *order.Service
	drivers   driver.Repository
	customers customer.Repository
	solver    *solver.Solver
	assembler *route.Assembler
	depot     types.Point
	log       zerolog.Logger
}

func NewOptimizeHandler(orders *order.Service, drivers driver.Repository, customers customer.Repository, sv *solver.Solver, assembler *route.Assembler, depot types.Point, log zerolog.Logger) *OptimizeHandler {
	return &OptimizeHandler{
		orders:    orders,
		drivers:   drivers,
		customers: customers,
		solver:    sv,
		assembler: assembler,
		depot:     depot,
		log:       log.With().Str("component", "optimize").Logger(),
	}
}

func (h *OptimizeHandler) Kind() Kind { return KindOptimizeDay }

func (h *OptimizeHandler) Run(ctx context.Context, job *Job, report ReportFunc) (any, error) {
	var params OptimizeParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if params.Date == "" {
		params.Date = job.TargetKey
	}

	orders, err := h.orders.ListByDateStatus(ctx, params.Date, []order.Status{order.StatusConfirmed})
	if err != nil {
		return nil, err
	}
	drivers, err := h.loadFleet(ctx, params.DriverIDs)
	if err != nil {
		return nil, err
	}
	report(10, fmt.Sprintf("loaded %d orders, %d drivers", len(orders), len(drivers)))

	custIDs := make([]types.ID, 0, len(orders))
	for _, o := range orders {
		custIDs = append(custIDs, o.CustomerID)
	}
	customers, err := h.customers.GetMany(ctx, custIDs)
	if err != nil {
		return nil, err
	}

	input, err := buildInput(h.depot, params, orders, drivers, customers)
	if err != nil {
		return nil, err
	}

	out, err := h.solver.Solve(ctx, input)
	if err != nil {
		return nil, err
	}
	report(70, fmt.Sprintf("solved: %d unassigned", len(out.Unassigned)))

	plans := buildPlans(out, orders, customers)
	routeIDs, err := h.assembler.Assemble(ctx, route.AssembleInput{
		Date:        params.Date,
		JobID:       string(job.ID),
		Objective:   string(input.Objective),
		Fallback:    out.Fallback,
		Approximate: out.Approximate,
		Depot:       h.depot,
		Plans:       plans,
	})
	if err != nil {
		var conflict *route.ConflictError
		if errors.As(err, &conflict) {
			return nil, &CodedError{Code: ErrCodeConflict, Err: err}
		}
		return nil, err
	}
	report(100, fmt.Sprintf("assembled %d routes", len(routeIDs)))

	return OptimizeResult{
		RouteIDs:    routeIDs,
		Unassigned:  out.Unassigned,
		Fallback:    out.Fallback,
		Approximate: out.Approximate,
		Improved:    out.Improved,
	}, nil
}

func (h *OptimizeHandler) loadFleet(ctx context.Context, ids []types.ID) ([]*driver.Driver, error) {
	if len(ids) == 0 {
		return h.drivers.ListActive(ctx)
	}
	out := make([]*driver.Driver, 0, len(ids))
	for _, id := range ids {
		d, err := h.drivers.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func buildInput(depot types.Point, params OptimizeParams, orders []*order.Order, drivers []*driver.Driver, customers map[types.ID]*customer.Customer) (solver.Input, error) {
	input := solver.Input{
		Date:      params.Date,
		Depot:     depot,
		Objective: solver.Objective(params.Objective),
		BudgetMs:  params.BudgetMs,
	}
	if input.Objective == "" {
		input.Objective = solver.ObjectiveBalanced
	}
	for _, o := range orders {
		c, ok := customers[o.CustomerID]
		if !ok {
			return solver.Input{}, fmt.Errorf("order %s references unknown customer %s", o.ID, o.CustomerID)
		}
		prio := solver.PriorityNormal
		if o.Priority == order.PriorityUrgent {
			prio = solver.PriorityUrgent
		}
		input.Stops = append(input.Stops, solver.Stop{
			ID:             o.ID,
			CustomerID:     o.CustomerID,
			Location:       c.Location,
			Demand:         o.Items,
			Window:         c.Window,
			ServiceMinutes: c.ServiceMinutes,
			Priority:       prio,
			Atomic:         o.Atomic,
		})
	}
	for _, d := range drivers {
		input.Vehicles = append(input.Vehicles, solver.Vehicle{
			ID:       d.ID,
			Capacity: d.Capacity,
			Start:    d.Start,
			Shift:    d.Shift,
		})
	}
	return input, nil
}

// buildPlans expands welded assignments back into per-order stop plans in
// visit order. Welded orders share the customer location.
func buildPlans(out solver.Output, orders []*order.Order, customers map[types.ID]*customer.Customer) []route.RoutePlan {
	byID := make(map[types.ID]*order.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	plans := make([]route.RoutePlan, 0, len(out.Routes))
	for _, vr := range out.Routes {
		plan := route.RoutePlan{
			DriverID:  vr.VehicleID,
			DistanceM: vr.DistanceM,
			DurationS: vr.DurationS,
		}
		for _, asg := range vr.Stops {
			for _, orderID := range asg.OrderIDs {
				o := byID[orderID]
				if o == nil {
					continue
				}
				var loc types.Point
				if c := customers[o.CustomerID]; c != nil {
					loc = c.Location
				}
				plan.Stops = append(plan.Stops, route.StopPlan{
					OrderID:        orderID,
					CustomerID:     o.CustomerID,
					Location:       loc,
					ArrivalMinute:  asg.ArrivalMinute,
					ServiceMinutes: asg.ServiceMinutes,
				})
			}
		}
		plans = append(plans, plan)
	}
	return plans
}
