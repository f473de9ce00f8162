package store

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// ErrMalformedRow is returned when a single requested row fails validation.
var ErrMalformedRow = errors.New("malformed row")

// Quarantined describes a row that was skipped at load because it failed
// validation.
type Quarantined struct {
	Table  string `json:"table"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

var rowValidate = newRowValidator()

func newRowValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if ns, ok := field.Interface().(sql.NullString); ok && ns.Valid {
			return ns.String
		}
		return ""
	}, sql.NullString{})
	return v
}

// checkRow validates a scanned row DTO and returns a readable reason.
func checkRow(row any) error {
	err := rowValidate.Struct(row)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrMalformedRow, strings.Join(parts, ", "))
}

type scanner interface{ Scan(...any) error }

func nullable(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}
