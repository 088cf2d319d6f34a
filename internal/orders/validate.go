package orders

import (
	"sync"

	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

func requestValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a request before it leaves the process.
func (r Request) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order request is invalid")
	}
	if r.TableNumber != nil && r.GuestName == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "guest orders require a guest name")
	}
	return nil
}
