package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator. Field names are reported using their json tags.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodeAndValidate decodes a JSON body into dst and runs struct validation.
// Validation failures are returned as a 400 AppError carrying one message per field.
func DecodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return BadRequest("BAD_REQUEST", "request body is required", nil)
		}
		return BadRequest("BAD_REQUEST", "invalid body", nil)
	}
	if err := Validator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, describeFieldError(fe))
			}
			return BadRequest("VALIDATION_FAILED", "Validation failed", details)
		}
		return BadRequest("VALIDATION_FAILED", "Validation failed", nil)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", fe.Field())
	case "min":
		return fmt.Sprintf("%q must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%q must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%q failed %s validation", fe.Field(), fe.Tag())
	}
}
