// README: batch_predict handler: run the draft generator for one date.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cheez95/luckygas/internal/modules/predict"
)

// PredictParams are the params payload for batch_predict jobs.
type PredictParams struct {
	Date string `json:"date"`
}

// PredictResult is the result payload stored on completed jobs.
type PredictResult struct {
	BatchID    string `json:"batch_id"`
	Customers  int    `json:"customers"`
	Drafts     int    `json:"drafts"`
	Suppressed int    `json:"suppressed"`
}

type PredictHandler struct {
	gen *predict.Generator
}

func NewPredictHandler(gen *predict.Generator) *PredictHandler {
	return &PredictHandler{gen: gen}
}

func (h *PredictHandler) Kind() Kind { return KindBatchPredict }

func (h *PredictHandler) Run(ctx context.Context, job *Job, report ReportFunc) (any, error) {
	var params PredictParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if params.Date == "" {
		params.Date = job.TargetKey
	}

	batch, err := h.gen.Generate(ctx, params.Date, func(done, total int) {
		if total == 0 {
			return
		}
		report(done*100/total, fmt.Sprintf("predicted %d/%d customers", done, total))
	})
	if err != nil {
		return nil, err
	}
	return PredictResult{
		BatchID:    batch.ID,
		Customers:  batch.Customers,
		Drafts:     batch.Drafts,
		Suppressed: batch.Suppressed,
	}, nil
}
