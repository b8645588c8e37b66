package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateIdentifier    = errors.New("duplicate identifier")
	ErrIntegrityWarning       = errors.New("integrity warning")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrConcurrentUpdate       = errors.New("concurrent update")
)

// InsufficientStockError reports the position that could not satisfy a request.
type InsufficientStockError struct {
	Key       PositionKey
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s in warehouse %s: available %s, required %s",
		e.Key.ProductID, e.Key.WarehouseID, e.Available.StringFixed(4), e.Required.StringFixed(4))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError names the entity, the attempted action and the state it requires.
type InvalidTransitionError struct {
	Entity   string
	Ref      string
	Action   string
	Current  string
	Required []string
}

func (e *InvalidTransitionError) Error() string {
	required := e.Required[0]
	for _, r := range e.Required[1:] {
		required += " or " + r
	}
	return fmt.Sprintf("%s %s cannot be %s: status is %s (must be %s)", e.Entity, e.Ref, e.Action, e.Current, required)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// IntegrityWarning flags a costing result that could not be fully backed by
// historical receipt layers. It is carried in results, not returned as an error.
type IntegrityWarning struct {
	Key       PositionKey
	Method    CostingMethod
	Shortfall decimal.Decimal
}

func (w *IntegrityWarning) Error() string {
	return fmt.Sprintf("%s replay for product %s in warehouse %s ran out of receipt layers: %s units uncosted",
		w.Method, w.Key.ProductID, w.Key.WarehouseID, w.Shortfall.StringFixed(4))
}

func (w *IntegrityWarning) Unwrap() error { return ErrIntegrityWarning }

func notFound(entity, ref string) error {
	return fmt.Errorf("%s %s: %w", entity, ref, ErrNotFound)
}

func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

func requirePositive(name string, v decimal.Decimal) error {
	if v.IsNegative() || v.IsZero() {
		return invalidArg("%s must be positive, got %s", name, v.String())
	}
	return nil
}
