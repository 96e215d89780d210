package routing

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/stockpulse/core/geo"
	"github.com/kilianp07/stockpulse/core/model"
)

// Batch groups pending transfers leaving one warehouse together.
type Batch struct {
	ID                 string         `json:"batch_id"`
	WarehouseID        string         `json:"warehouse_id"`
	Priority           model.Priority `json:"priority"`
	TransferIDs        []string       `json:"transfer_ids"`
	TotalRequests      int            `json:"total_requests"`
	TotalCost          float64        `json:"total_cost"`
	ScheduledDeparture time.Time      `json:"scheduled_departure"`
}

var departureDelay = map[model.Priority]time.Duration{
	model.PriorityEmergency: 30 * time.Minute,
	model.PriorityHigh:      2 * time.Hour,
	model.PriorityStandard:  24 * time.Hour,
}

func priorityRank(p model.Priority) int {
	switch p {
	case model.PriorityEmergency:
		return 0
	case model.PriorityHigh:
		return 1
	default:
		return 2
	}
}

// PlanBatches groups pending transfers per warehouse. Each warehouse takes at
// most maxPerWarehouse transfers, most urgent and oldest first, split into one
// batch per priority. Transfers left out are returned for the next plan.
func PlanBatches(transfers []model.TransferRequest, now time.Time, maxPerWarehouse int) ([]Batch, []model.TransferRequest) {
	byWarehouse := make(map[string][]model.TransferRequest)
	var whs []string
	for _, t := range transfers {
		if t.Status != model.TransferPending {
			continue
		}
		w := t.Route.WarehouseID
		if _, ok := byWarehouse[w]; !ok {
			whs = append(whs, w)
		}
		byWarehouse[w] = append(byWarehouse[w], t)
	}
	sort.Strings(whs)

	var batches []Batch
	var rest []model.TransferRequest
	for _, w := range whs {
		pending := byWarehouse[w]
		sort.SliceStable(pending, func(i, j int) bool {
			ri, rj := priorityRank(pending[i].Priority), priorityRank(pending[j].Priority)
			if ri != rj {
				return ri < rj
			}
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		})
		if maxPerWarehouse > 0 && len(pending) > maxPerWarehouse {
			rest = append(rest, pending[maxPerWarehouse:]...)
			pending = pending[:maxPerWarehouse]
		}
		for _, prio := range []model.Priority{model.PriorityEmergency, model.PriorityHigh, model.PriorityStandard} {
			b := Batch{WarehouseID: w, Priority: prio}
			for _, t := range pending {
				if normalized(t.Priority) != prio {
					continue
				}
				b.TransferIDs = append(b.TransferIDs, t.ID)
				b.TotalCost += t.Route.EstimatedCost
			}
			if len(b.TransferIDs) == 0 {
				continue
			}
			b.ID = "TB-" + uuid.NewString()
			b.TotalRequests = len(b.TransferIDs)
			b.TotalCost = geo.Round2(b.TotalCost)
			b.ScheduledDeparture = now.Add(departureDelay[prio])
			batches = append(batches, b)
		}
	}
	return batches, rest
}

func normalized(p model.Priority) model.Priority {
	if p == model.PriorityEmergency || p == model.PriorityHigh {
		return p
	}
	return model.PriorityStandard
}
