package routing

import (
	"errors"
	"fmt"
)

// NoRouteFoundError is returned when no warehouse can absorb the transfer.
type NoRouteFoundError struct {
	From       string
	To         string
	Quantity   int
	Considered int
}

func (e *NoRouteFoundError) Error() string {
	return fmt.Sprintf("no warehouse route for %d units from %s to %s (%d warehouses considered)", e.Quantity, e.From, e.To, e.Considered)
}

// CapacityConflictError is returned when a capacity window changed between
// route selection and commit. Selection should be retried once.
type CapacityConflictError struct {
	WarehouseID string
	Expected    uint64
	Actual      uint64
}

func (e *CapacityConflictError) Error() string {
	return fmt.Sprintf("capacity of warehouse %s changed during routing (version %d, now %d)", e.WarehouseID, e.Expected, e.Actual)
}

// IsNoRoute reports whether err is a NoRouteFoundError.
func IsNoRoute(err error) bool {
	var e *NoRouteFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a CapacityConflictError.
func IsConflict(err error) bool {
	var e *CapacityConflictError
	return errors.As(err, &e)
}
