package risk

import (
	"strings"
	"time"
	"unicode"
)

// maxClockSkew is how far into the future an event timestamp may sit
// before it is rejected as malformed rather than forgiven as drift.
const maxClockSkew = 5 * time.Minute

// maxFieldLength bounds free-text fields so a hostile producer cannot
// inflate audit records.
const maxFieldLength = 256

// ValidateEvent checks an event before scoring. The returned error wraps
// ErrInvalidEvent and lists every failing field, not just the first.
func ValidateEvent(ev *Event) error {
	if ev == nil {
		return FieldErrors{{Field: "event", Message: "is required"}}
	}

	errs := collect(
		required("id", ev.ID),
		required("user_id", ev.UserID),
		maxLength("id", ev.ID, maxFieldLength),
		maxLength("user_id", ev.UserID, maxFieldLength),
		maxLength("merchant", ev.Merchant, maxFieldLength),
		nonNegativeAmount(ev),
		validTimestamp(ev),
		validCurrency(ev.Currency),
		validCountry(ev.Location),
	)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func collect(checks ...func() *FieldError) FieldErrors {
	var errs FieldErrors
	for _, check := range checks {
		if fe := check(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func required(field, value string) func() *FieldError {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

func maxLength(field, value string, max int) func() *FieldError {
	return func() *FieldError {
		if len(value) > max {
			return &FieldError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

func nonNegativeAmount(ev *Event) func() *FieldError {
	return func() *FieldError {
		if ev.Amount.IsNegative() {
			return &FieldError{Field: "amount", Message: "must not be negative"}
		}
		return nil
	}
}

func validTimestamp(ev *Event) func() *FieldError {
	return func() *FieldError {
		if ev.Timestamp.IsZero() {
			return &FieldError{Field: "timestamp", Message: "is required"}
		}
		if ev.Timestamp.After(time.Now().Add(maxClockSkew)) {
			return &FieldError{Field: "timestamp", Message: "is in the future"}
		}
		return nil
	}
}

// validCurrency accepts an empty currency (scored as the default) or a
// three-letter ISO-4217 style code.
func validCurrency(code string) func() *FieldError {
	return func() *FieldError {
		if code == "" {
			return nil
		}
		if len(code) != 3 || !isAlpha(code) {
			return &FieldError{Field: "currency", Message: "must be a 3-letter code"}
		}
		return nil
	}
}

// validCountry accepts a missing location or one whose country is either
// unset (degrades to the unknown-country prior) or a two-letter code.
func validCountry(loc *Location) func() *FieldError {
	return func() *FieldError {
		if loc == nil || loc.Country == "" {
			return nil
		}
		if len(loc.Country) != 2 || !isAlpha(loc.Country) {
			return &FieldError{Field: "location.country", Message: "must be a 2-letter code"}
		}
		return nil
	}
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
