// README: bulk_import handler: parse customer and order CSVs, validate,
// and upsert row by row. Bad rows are reported, not fatal.
package jobs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cheez95/luckygas/internal/modules/customer"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/types"
)

// ImportParams carry the CSV bodies inline. Customer header:
// id,name,lat,lng,window_open,window_close,service_minutes,dominant_size,subscription_days
// Order header:
// customer_id,date,size,quantity,priority,atomic
type ImportParams struct {
	CustomersCSV string `json:"customers_csv,omitempty"`
	OrdersCSV    string `json:"orders_csv,omitempty"`
}

// ImportResult is the result payload stored on finished import jobs.
type ImportResult struct {
	Customers int      `json:"customers"`
	Orders    int      `json:"orders"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

type ImportHandler struct {
	customers customer.Repository
	orders    *order.Service
	log       zerolog.Logger
}

func NewImportHandler(customers customer.Repository, orders *order.Service, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		customers: customers,
		orders:    orders,
		log:       log.With().Str("component", "import").Logger(),
	}
}

func (h *ImportHandler) Kind() Kind { return KindBulkImport }

func (h *ImportHandler) Run(ctx context.Context, job *Job, report ReportFunc) (any, error) {
	var params ImportParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if params.CustomersCSV == "" && params.OrdersCSV == "" {
		return nil, fmt.Errorf("empty import")
	}

	var res ImportResult
	if params.CustomersCSV != "" {
		if err := h.importCustomers(ctx, params.CustomersCSV, &res, report); err != nil {
			return nil, err
		}
	}
	if params.OrdersCSV != "" {
		if err := h.importOrders(ctx, params.OrdersCSV, &res, report); err != nil {
			return nil, err
		}
	}
	report(100, fmt.Sprintf("imported %d customers, %d orders, skipped %d",
		res.Customers, res.Orders, res.Skipped))
	return res, nil
}

func (h *ImportHandler) importCustomers(ctx context.Context, body string, res *ImportResult, report ReportFunc) error {
	reader := csv.NewReader(strings.NewReader(body))
	reader.FieldsPerRecord = 9

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read customer header: %w", err)
	}
	if header[0] != "id" {
		return fmt.Errorf("unexpected customer header %q", strings.Join(header, ","))
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			res.skip(fmt.Sprintf("customers line %d: %v", line, err))
			continue
		}
		c, err := parseCustomerRow(record)
		if err != nil {
			res.skip(fmt.Sprintf("customers line %d: %v", line, err))
			continue
		}
		if err := h.customers.Upsert(ctx, c); err != nil {
			return fmt.Errorf("upsert customer %s: %w", c.ID, err)
		}
		res.Customers++
		if res.Customers%100 == 0 {
			// Row counts are unknown up front, so progress saturates below 100.
			report(saturate(res.Customers/10, 50), fmt.Sprintf("imported %d customers", res.Customers))
		}
	}
	return nil
}

func (h *ImportHandler) importOrders(ctx context.Context, body string, res *ImportResult, report ReportFunc) error {
	reader := csv.NewReader(strings.NewReader(body))
	reader.FieldsPerRecord = 6

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read order header: %w", err)
	}
	if header[0] != "customer_id" {
		return fmt.Errorf("unexpected order header %q", strings.Join(header, ","))
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			res.skip(fmt.Sprintf("orders line %d: %v", line, err))
			continue
		}
		cmd, err := parseOrderRow(record)
		if err != nil {
			res.skip(fmt.Sprintf("orders line %d: %v", line, err))
			continue
		}
		if _, err := h.customers.Get(ctx, cmd.CustomerID); err != nil {
			if errors.Is(err, customer.ErrNotFound) {
				res.skip(fmt.Sprintf("orders line %d: unknown customer %s", line, cmd.CustomerID))
				continue
			}
			return err
		}
		if _, err := h.orders.Create(ctx, cmd); err != nil {
			if errors.Is(err, order.ErrValidation) {
				res.skip(fmt.Sprintf("orders line %d: %v", line, err))
				continue
			}
			return fmt.Errorf("create order for %s: %w", cmd.CustomerID, err)
		}
		res.Orders++
		if res.Orders%100 == 0 {
			report(saturate(50+res.Orders/10, 90), fmt.Sprintf("imported %d orders", res.Orders))
		}
	}
	return nil
}

func (r *ImportResult) skip(msg string) {
	r.Skipped++
	r.Errors = append(r.Errors, msg)
}

func saturate(pct, max int) int {
	if pct > max {
		return max
	}
	return pct
}

func parseCustomerRow(rec []string) (*customer.Customer, error) {
	if rec[0] == "" || rec[1] == "" {
		return nil, fmt.Errorf("missing id or name")
	}
	lat, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return nil, fmt.Errorf("bad lat %q", rec[2])
	}
	lng, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return nil, fmt.Errorf("bad lng %q", rec[3])
	}
	open, err := types.ParseClock(rec[4])
	if err != nil {
		return nil, fmt.Errorf("bad window_open %q", rec[4])
	}
	closeAt, err := types.ParseClock(rec[5])
	if err != nil {
		return nil, fmt.Errorf("bad window_close %q", rec[5])
	}
	if closeAt <= open {
		return nil, fmt.Errorf("window closes before it opens")
	}
	service, err := strconv.Atoi(rec[6])
	if err != nil || service < 0 {
		return nil, fmt.Errorf("bad service_minutes %q", rec[6])
	}
	size, err := types.ParseCylinderSize(rec[7])
	if err != nil {
		return nil, fmt.Errorf("bad dominant_size %q", rec[7])
	}
	subDays := 0
	if rec[8] != "" {
		subDays, err = strconv.Atoi(rec[8])
		if err != nil || subDays < 0 {
			return nil, fmt.Errorf("bad subscription_days %q", rec[8])
		}
	}
	return &customer.Customer{
		ID:               types.ID(rec[0]),
		Name:             rec[1],
		Location:         types.Point{Lat: lat, Lng: lng},
		Window:           types.Window{Open: open, Close: closeAt},
		ServiceMinutes:   service,
		DominantSize:     size,
		SubscriptionDays: subDays,
	}, nil
}

func parseOrderRow(rec []string) (order.CreateCommand, error) {
	var cmd order.CreateCommand
	if rec[0] == "" {
		return cmd, fmt.Errorf("missing customer_id")
	}
	if _, err := time.Parse("2006-01-02", rec[1]); err != nil {
		return cmd, fmt.Errorf("bad date %q", rec[1])
	}
	size, err := types.ParseCylinderSize(rec[2])
	if err != nil {
		return cmd, fmt.Errorf("bad size %q", rec[2])
	}
	qty, err := strconv.Atoi(rec[3])
	if err != nil || qty <= 0 {
		return cmd, fmt.Errorf("bad quantity %q", rec[3])
	}
	priority := order.PriorityNormal
	switch rec[4] {
	case "", string(order.PriorityNormal):
	case string(order.PriorityUrgent):
		priority = order.PriorityUrgent
	default:
		return cmd, fmt.Errorf("bad priority %q", rec[4])
	}
	atomic := false
	if rec[5] != "" {
		atomic, err = strconv.ParseBool(rec[5])
		if err != nil {
			return cmd, fmt.Errorf("bad atomic %q", rec[5])
		}
	}
	var items types.Load
	items[size] = qty
	cmd.CustomerID = types.ID(rec[0])
	cmd.Date = rec[1]
	cmd.Items = items
	cmd.Priority = priority
	cmd.Atomic = atomic
	return cmd, nil
}
