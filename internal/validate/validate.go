// Package validate holds the input rules for agent registration and login.
package validate

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	phoneRx = regexp.MustCompile(`^\+?[0-9][0-9 /\-]{5,19}$`)
	codeRx  = regexp.MustCompile(`^[1-9][0-9]{3}$`)
)

// New returns a validator with the portal's custom tags registered:
// "phone" for phone numbers and "imagetype" for profile image types.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone", PhoneValidator)
	_ = v.RegisterValidation("imagetype", func(fl validator.FieldLevel) bool {
		return ImageContentType(fl.Field().String()) == nil
	})
	return v
}

// PhoneValidator accepts digits with optional leading +, spaces, slashes and dashes.
var PhoneValidator = func(fl validator.FieldLevel) bool {
	return phoneRx.MatchString(strings.TrimSpace(fl.Field().String()))
}

// AgentCode checks that code is a four-digit code in 1000..9999.
func AgentCode(code string) error {
	if !codeRx.MatchString(code) {
		return errors.New("agent code must be four digits")
	}
	return nil
}

// ImageContentType checks that the profile image is a JPEG or PNG.
func ImageContentType(ct string) error {
	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "image/jpeg", "image/png":
		return nil
	}
	return errors.New("image must be image/jpeg or image/png")
}
