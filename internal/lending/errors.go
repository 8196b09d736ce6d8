package lending

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/creditline/internal/domain"
)

var (
	ErrDuplicatePhone = fmt.Errorf("phone number already registered: %w", domain.ErrConflict)
	ErrCustomerBusy   = fmt.Errorf("another loan for this customer is in progress: %w", domain.ErrConflict)
	ErrLoanClosed     = fmt.Errorf("loan has no repayments left: %w", domain.ErrConflict)
)

// ErrCustomerNotFound is returned when the request names an unknown customer.
var ErrCustomerNotFound = fmt.Errorf("customer %w", domain.ErrNotFound)

// ErrLoanNotFound is returned when the loan ID is unknown.
var ErrLoanNotFound = fmt.Errorf("loan %w", domain.ErrNotFound)

func notFound(err, sentinel error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return sentinel
	}
	return err
}
