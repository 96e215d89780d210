package queue

import (
	"context"
	"errors"

	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
)

// SignalLookup finds the behavioural signal of a store for a SKU.
type SignalLookup interface {
	Lookup(storeID, sku string) (model.BehavioralSignal, bool)
}

// Classifier decides which queue a request belongs to.
type Classifier struct {
	products directory.ProductDirectory
	signals  SignalLookup
	logger   logger.Logger
}

// NewClassifier returns a Classifier.
func NewClassifier(products directory.ProductDirectory, signals SignalLookup, log logger.Logger) *Classifier {
	return &Classifier{products: products, signals: signals, logger: logger.OrNop(log)}
}

// Classify returns the queue for req and the request as it must be queued:
// high-priority requests carry the matching signal. An unknown product is
// not private label.
func (c *Classifier) Classify(ctx context.Context, req model.AllocationRequest) (Kind, model.AllocationRequest, error) {
	if req.IsEmergency() {
		return Emergency, req, nil
	}
	p, err := c.products.Product(ctx, req.SKU)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			return "", req, err
		}
		c.logger.Debugf("product %s unknown, classifying as standard", req.SKU)
		return Standard, req, nil
	}
	if !p.PrivateLabel {
		return Standard, req, nil
	}
	sig, ok := c.signals.Lookup(req.StoreID, req.SKU)
	if !ok {
		return Standard, req, nil
	}
	req.Signal = &sig
	return HighPriority, req, nil
}
