package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks request structs against their `validate` tags.
// A *validator.Validate caches struct metadata and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// decodeJSON reads a JSON body into v and validates it. On failure it
// writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// writeValidationError reports the first failed field.
func writeValidationError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		writeBadRequest(w, err.Error())
		return
	}
	fe := fieldErrs[0]
	writeJSON(w, http.StatusBadRequest, Error{
		Status:    http.StatusBadRequest,
		Code:      ErrCodeValidation,
		Message:   describeFieldError(fe),
		Field:     fe.Field(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter. Absent yields nil.
func queryBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil //nolint:nilnil // absent is not an error
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be true or false", name)
	}
	return &b, nil
}
