package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/dukerupert/heirloom/internal/familytree"
	"github.com/dukerupert/heirloom/internal/service"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
// Errors are wrapped in service.ErrValidation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", service.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON", service.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", service.ErrValidation, describe(err))
	}
	return nil
}

// describe turns validator errors into a short client-facing message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required", "notblank":
			parts = append(parts, field+" is required")
		case "datetime":
			parts = append(parts, field+" must be a date (YYYY-MM-DD)")
		case "oneof":
			parts = append(parts, field+" must be one of: "+fe.Param())
		case "required_with":
			parts = append(parts, field+" is required with "+snakeCase(fe.Param()))
		case "min":
			parts = append(parts, field+" must be at least "+fe.Param()+" characters")
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// writeServiceError maps domain errors to status codes. Anything unknown is
// logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, familytree.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, "family member not found")
	case errors.Is(err, familytree.ErrDuplicateRelationship),
		errors.Is(err, familytree.ErrDuplicateMember),
		errors.Is(err, familytree.ErrUserAlreadyLinked):
		writeError(w, http.StatusConflict, clientMessage(err))
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, familytree.ErrInvalidMember),
		errors.Is(err, familytree.ErrInvalidDate),
		errors.Is(err, familytree.ErrDeathBeforeBirth),
		errors.Is(err, familytree.ErrInvalidRelationship),
		errors.Is(err, familytree.ErrSelfRelationship):
		writeError(w, http.StatusBadRequest, clientMessage(err))
	default:
		logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// clientMessage strips the "validation failed: " prefix from wrapped errors.
func clientMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, service.ErrValidation.Error()+": "); ok {
		return rest
	}
	return msg
}
