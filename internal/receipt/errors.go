package receipt

import "errors"

var (
	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input fails validation
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when a unique value is already taken
	ErrDuplicate = errors.New("already exists")

	// ErrProductsNotAllowed is returned when products are attached to a receipt
	// that is outside every product-tracking bucket
	ErrProductsNotAllowed = errors.New("receipt does not track products")
)
