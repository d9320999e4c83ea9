// README: Draft generator: turns predictor output into draft orders for a
// target date, skipping customers that already have an open order.
package predict

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/modules/customer"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/types"
)

const predictChunk = 100

type Generator struct {
	client    Client
	customers customer.Repository
	orders    *order.Service
	batches   Repository
	pub       bus.Publisher
	// MinConfidence is the floor below which a prediction produces no draft.
	MinConfidence float64
	log           zerolog.Logger
}

func NewGenerator(client Client, customers customer.Repository, orders *order.Service, batches Repository, pub bus.Publisher, minConfidence float64, log zerolog.Logger) *Generator {
	return &Generator{
		client:        client,
		customers:     customers,
		orders:        orders,
		batches:       batches,
		pub:           pub,
		MinConfidence: minConfidence,
		log:           log.With().Str("component", "predict").Logger(),
	}
}

// BatchPayload is the wire payload for prediction batch events.
type BatchPayload struct {
	BatchID    string `json:"batch_id"`
	Date       string `json:"date"`
	Customers  int    `json:"customers"`
	Drafts     int    `json:"drafts"`
	Suppressed int    `json:"suppressed"`
}

// Generate runs one prediction pass for date. progress, when non-nil, is
// called after each predictor chunk with customers processed so far.
func (g *Generator) Generate(ctx context.Context, date string, progress func(done, total int)) (*Batch, error) {
	all, err := g.customers.List(ctx)
	if err != nil {
		return nil, err
	}
	batch := &Batch{
		ID:        uuid.NewString(),
		Date:      date,
		Customers: len(all),
		CreatedAt: time.Now().UTC(),
	}
	byID := lo.KeyBy(all, func(c *customer.Customer) types.ID { return c.ID })

	done := 0
	for _, chunk := range lo.Chunk(all, predictChunk) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids := lo.Map(chunk, func(c *customer.Customer, _ int) types.ID { return c.ID })
		preds, err := g.client.Predict(ctx, ids, date)
		if err != nil {
			return nil, err
		}
		for _, p := range preds {
			c, ok := byID[p.CustomerID]
			if !ok || p.Quantity <= 0 || p.Confidence < g.MinConfidence {
				continue
			}
			open, err := g.orders.HasOpenForCustomerDate(ctx, p.CustomerID, date)
			if err != nil {
				return nil, err
			}
			if open {
				batch.Suppressed++
				continue
			}
			var items types.Load
			items[c.DominantSize] = p.Quantity
			_, err = g.orders.Create(ctx, order.CreateCommand{
				CustomerID:        p.CustomerID,
				Date:              date,
				Items:             items,
				Source:            order.SourcePrediction,
				PredictionBatchID: &batch.ID,
				Draft:             true,
			})
			if err != nil {
				return nil, err
			}
			batch.Drafts++
		}
		done += len(chunk)
		if progress != nil {
			progress(done, len(all))
		}
	}

	if err := g.batches.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}
	g.pub.Publish(bus.KindNotification, BatchPayload{
		BatchID:    batch.ID,
		Date:       batch.Date,
		Customers:  batch.Customers,
		Drafts:     batch.Drafts,
		Suppressed: batch.Suppressed,
	}, bus.RoomPredictions, bus.RoomAdmin)
	g.log.Info().Str("batch", batch.ID).Str("date", date).
		Int("drafts", batch.Drafts).Int("suppressed", batch.Suppressed).
		Msg("prediction batch generated")
	return batch, nil
}
