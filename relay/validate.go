package relay

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"chat-relay/errors"
)

var validate = validator.New()

// reservedSeparators may not appear in display names: the name travels
// inside framed JSON lines and the presence payload.
const reservedSeparators = "|:\n\r"

// joinRequest carries the client-chosen display name through validation.
type joinRequest struct {
	Name string `validate:"required,max=20"`
}

// ValidateDisplayName re-checks the join name server-side. Clients may
// validate too, but the server never trusts them to.
func ValidateDisplayName(name string) error {
	if err := validate.Struct(joinRequest{Name: name}); err != nil {
		return fmt.Errorf("%w: %q", errors.ErrInvalidDisplayName, name)
	}
	if strings.ContainsAny(name, reservedSeparators) {
		return fmt.Errorf("%w: %q contains a reserved separator", errors.ErrInvalidDisplayName, name)
	}
	return nil
}
