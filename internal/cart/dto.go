package cart

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/tradepost/tradepost-backend/pkg/errors"
)

var validate = validator.New()

// MergeItem is one line of an incoming client-held cart.
type MergeItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"min=1"`
}

func validateMergeItems(items []MergeItem) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "merge requires at least one item")
	}

	var errs error
	invalid := make([]uuid.UUID, 0)
	for i, item := range items {
		if err := validate.Struct(item); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("item %d: %w", i, err))
			invalid = append(invalid, item.ProductID)
		}
	}
	if errs != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, errs, "merge items must have a product id and quantity of at least 1").
			WithDetails(map[string]any{"invalid_product_ids": invalid})
	}
	return nil
}

// combineMergeItems folds duplicate product ids in a single request into one
// line, preserving first-seen order.
func combineMergeItems(items []MergeItem) []MergeItem {
	combined := make([]MergeItem, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if pos, ok := index[item.ProductID]; ok {
			combined[pos].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(combined)
		combined = append(combined, item)
	}
	return combined
}
