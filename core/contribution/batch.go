package contribution

import (
	"context"
	"math"

	"github.com/kilianp07/stockpulse/core/model"
)

// Request is one entry of a batch analysis.
type Request struct {
	StoreID string `json:"requesting_store_id"`
	SKU     string `json:"sku"`
	Needed  int    `json:"needed_quantity"`
}

// Analysis is the fulfilment outlook of one request.
type Analysis struct {
	Request        Request                       `json:"request"`
	Candidates     []model.ContributionCandidate `json:"contributors"`
	Fulfillable    bool                          `json:"fulfillment_possible"`
	TotalAvailable float64                       `json:"total_available"`
	Shortfall      float64                       `json:"shortfall"`
	Error          string                        `json:"error,omitempty"`
}

// Analyze runs FindContributors for each request. A failing request is
// reported in its Analysis and does not stop the batch.
func (s *Scorer) Analyze(ctx context.Context, reqs []Request) []Analysis {
	out := make([]Analysis, 0, len(reqs))
	for _, r := range reqs {
		a := Analysis{Request: r}
		cands, err := s.FindContributors(ctx, r.StoreID, r.SKU, r.Needed)
		if err != nil {
			a.Error = err.Error()
			a.Shortfall = float64(r.Needed)
			out = append(out, a)
			continue
		}
		a.Candidates = cands
		for _, c := range cands {
			a.TotalAvailable += c.AvailableToContribute
		}
		a.Fulfillable = a.TotalAvailable >= float64(r.Needed)
		a.Shortfall = math.Max(0, float64(r.Needed)-a.TotalAvailable)
		out = append(out, a)
	}
	return out
}
