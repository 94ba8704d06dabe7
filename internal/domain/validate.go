package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the create payload before it is sent to the remote store.
func (c LeadCreate) Validate() error {
	return describe(validate.Struct(c))
}

// Validate checks the partial update; an unknown stage is rejected here as well.
func (u LeadUpdate) Validate() error {
	if u.Stage != nil && !u.Stage.Known() {
		return fmt.Errorf("unknown stage %q", *u.Stage)
	}
	return describe(validate.Struct(u))
}

func describe(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("invalid lead: %s", strings.Join(msgs, ", "))
}
