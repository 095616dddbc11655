package status

import (
	"fmt"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// Category is the message-kind tag an upstream feed uses to route a status
// message to its handler.
type Category string

// Known categories, one per Assemblyline heartbeat type
const (
	CategoryAlerter      Category = "alerter"
	CategoryArchive      Category = "archive"
	CategoryDispatcher   Category = "dispatcher"
	CategoryExpiry       Category = "expiry"
	CategoryIngester     Category = "ingester"
	CategoryScaler       Category = "scaler"
	CategoryScalerStatus Category = "scaler-status"
	CategoryService      Category = "service"
)

var allCategories = []Category{
	CategoryAlerter,
	CategoryArchive,
	CategoryDispatcher,
	CategoryExpiry,
	CategoryIngester,
	CategoryScaler,
	CategoryScalerStatus,
	CategoryService,
}

// All returns every known category in a stable order
func All() []Category {
	return append([]Category(nil), allCategories...)
}

// String implements fmt.Stringer
func (c Category) String() string {
	return string(c)
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a category name into a Category
func ParseCategory(name string) (Category, error) {
	c := Category(name)
	if !c.Valid() {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownCategory, name),
			"Category", "ParseCategory", "resolve category")
	}
	return c, nil
}
