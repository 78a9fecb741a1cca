// Package apperror maps validation errors to the messages shown next to form fields.
package apperror

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	errRequired          = errors.New("is required")
	errInvalidEmail      = errors.New("must be a valid email address")
	errInvalidPhone      = errors.New("must be a valid phone number")
	errInvalidImageType  = errors.New("must be image/jpeg or image/png")
	errTooLong           = errors.New("is too long")
	errMustBeAtLeast6Chr = errors.New("must be at least 6 characters long")
)

var customErrors = map[string]error{
	"Registration.FirstName.required":         errRequired,
	"Registration.FirstName.max":              errTooLong,
	"Registration.LastName.required":          errRequired,
	"Registration.LastName.max":               errTooLong,
	"Registration.Email.required":             errRequired,
	"Registration.Email.email":                errInvalidEmail,
	"Registration.Phone.required":             errRequired,
	"Registration.Phone.phone":                errInvalidPhone,
	"Registration.ImageContentType.imagetype": errInvalidImageType,
	"Credentials.Email.required":              errRequired,
	"Credentials.Email.email":                 errInvalidEmail,
	"Credentials.Password.required":           errRequired,
	"Credentials.Password.min":                errMustBeAtLeast6Chr,
	"Recovery.Email.required":                 errRequired,
	"Recovery.Email.email":                    errInvalidEmail,
}

// CustomValidationError converts validator errors into a list of {field: message} pairs.
func CustomValidationError(err error) []map[string]string {
	errList := make([]map[string]string, 0)

	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) {
		for _, e := range validationErr {
			field := e.StructNamespace()
			key := field + "." + e.Tag()

			errMsg := fmt.Sprintf("%s is invalid", field)
			if v, ok := customErrors[key]; ok {
				errMsg = v.Error()
			}

			errList = append(errList, map[string]string{e.Field(): errMsg})
		}
	}
	return errList
}

// IsValidation reports whether err came from the validator.
func IsValidation(err error) bool {
	var validationErr validator.ValidationErrors
	return errors.As(err, &validationErr)
}
