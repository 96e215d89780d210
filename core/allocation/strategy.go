package allocation

import (
	"context"
	"errors"
	"strings"

	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/queue"
)

// Strategy is one way of fulfilling a drained request.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, item queue.Item) (model.Outcome, error)
}

// Failure records a strategy that could not fulfil a request.
type Failure struct {
	Strategy string
	Err      error
}

// Chain tries strategies in order until one succeeds.
type Chain []Strategy

// Run returns the first successful outcome. When every strategy fails the
// outcome is unfulfilled and its reason lists the failures.
func (c Chain) Run(ctx context.Context, item queue.Item) (model.Outcome, []Failure) {
	var failures []Failure
	for _, s := range c {
		out, err := s.Attempt(ctx, item)
		if err == nil {
			return out, failures
		}
		failures = append(failures, Failure{Strategy: s.Name(), Err: err})
	}
	return unfulfilled(item, failures), failures
}

func baseOutcome(item queue.Item) model.Outcome {
	return model.Outcome{
		RequestID:     item.Request.ID,
		StoreID:       item.Request.StoreID,
		SKU:           item.Request.SKU,
		Queue:         string(item.Queue),
		Requested:     item.Request.Quantity,
		FinalQuantity: item.FinalQuantity,
	}
}

func unfulfilled(item queue.Item, failures []Failure) model.Outcome {
	out := baseOutcome(item)
	out.Source = model.SourceNone
	out.Shortfall = item.FinalQuantity
	reasons := make([]string, 0, len(failures))
	for _, f := range failures {
		reasons = append(reasons, f.Strategy+": "+f.Err.Error())
	}
	out.Reason = strings.Join(reasons, "; ")
	if out.Reason == "" {
		out.Reason = "no strategy configured"
	}
	return out
}

// errorsOf flattens the failures into one error.
func errorsOf(failures []Failure) error {
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}
