// README: Demand prediction records and batches.
package predict

import (
	"time"

	"github.com/cheez95/luckygas/internal/types"
)

// Prediction is one row from the external predictor.
type Prediction struct {
	CustomerID types.ID `json:"customer_id"`
	Date       string   `json:"date"`
	Quantity   int      `json:"quantity"`
	Confidence float64  `json:"confidence"`
}

// Batch groups the predictions of one generator run; draft orders carry
// its id so reviewers can trace where a draft came from.
type Batch struct {
	ID         string    `json:"id"`
	Date       string    `json:"date"`
	Customers  int       `json:"customers"`
	Drafts     int       `json:"drafts"`
	Suppressed int       `json:"suppressed"`
	CreatedAt  time.Time `json:"created_at"`
}
