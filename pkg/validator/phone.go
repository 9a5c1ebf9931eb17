package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits, spaces, dashes, dots and parentheses")

	// ErrInvalidLength indicates the number is outside the E.164 length range
	ErrInvalidLength = errors.New("phone number must have 8 to 15 digits including the country code")

	// ErrInvalidCountryCode indicates a bad default country code
	ErrInvalidCountryCode = errors.New("country code must be 1 to 3 digits")
)

const (
	minDigits = 8
	maxDigits = 15

	// nationalDigits is the longest national number read without a country code
	nationalDigits = 10
)

// digitsRegex matches digits only
var digitsRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator normalizes contact numbers to E.164 (+<country><number>).
// Numbers written without an international prefix are read as national
// numbers of the default country.
type PhoneValidator struct {
	countryCode string
}

// NewPhoneValidator creates a validator for the given default country calling code, e.g. "1" or "44"
func NewPhoneValidator(countryCode string) (*PhoneValidator, error) {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if len(countryCode) < 1 || len(countryCode) > 3 || !digitsRegex.MatchString(countryCode) {
		return nil, ErrInvalidCountryCode
	}
	return &PhoneValidator{countryCode: countryCode}, nil
}

// Validate validates a phone number
// Accepts format: +1 555 123 4567, 0044 20 7946 0958, (555) 123-4567 or 020 7946 0958
// Returns the E.164 form and error if invalid
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)
	international := strings.HasPrefix(sanitized, "+")
	digits := strings.TrimPrefix(sanitized, "+")
	if !international && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}

	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}

	if !international {
		switch {
		case strings.HasPrefix(digits, "0"):
			// trunk prefix
			digits = v.countryCode + digits[1:]
		case len(digits) > nationalDigits && strings.HasPrefix(digits, v.countryCode):
		default:
			digits = v.countryCode + digits
		}
	}

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", ErrInvalidLength
	}

	return "+" + digits, nil
}

// Sanitize removes common separators from a phone number. A leading + is kept.
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = strings.TrimSpace(phone)
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return replacer.Replace(phone)
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
