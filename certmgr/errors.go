package certmgr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrServingCertificate is returned when deleting the certificate that
	// currently serves the administrative interface.
	ErrServingCertificate = errors.New("certificate is in use by the system HTTPS server")

	// ErrRevokeFailed is returned when an ACME certificate could not be
	// revoked during deletion and force was not set.
	ErrRevokeFailed = errors.New("failed to revoke certificate")

	// ErrNoCSR is returned when an operation requires a record holding a CSR
	// and the referenced record has none.
	ErrNoCSR = errors.New("no CSR has been filed by this certificate")
)

// FieldError is a single validation failure, addressable by field name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects field-tagged validation failures so they can be
// reported together before any side effect.
type ValidationErrors struct {
	Fields []FieldError
}

// Add appends a failure for the given field.
func (v *ValidationErrors) Add(field, format string, args ...any) {
	v.Fields = append(v.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Any reports whether at least one failure was collected.
func (v *ValidationErrors) Any() bool {
	return len(v.Fields) > 0
}

// OrNil returns the collector as an error, or nil when empty.
func (v *ValidationErrors) OrNil() error {
	if v.Any() {
		return v
	}
	return nil
}

func (v *ValidationErrors) Error() string {
	msgs := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "; ")
}

// AsValidationErrors unwraps err into a ValidationErrors, if it is one.
func AsValidationErrors(err error) (*ValidationErrors, bool) {
	var verrs *ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, true
	}
	return nil, false
}
