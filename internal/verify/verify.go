// Package verify decides whether a claimant knows enough about an item to
// be told where to collect it.
package verify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erazemk/najdeno/internal/model"
)

// ErrVerificationMismatch is returned when a submitted value differs from
// the value recorded by the finder. Callers must not reveal which field.
var ErrVerificationMismatch = errors.New("provided information doesn't match our records")

// ErrMissingField is wrapped by MissingFieldError.
var ErrMissingField = errors.New("required field missing")

// MissingFieldError names the first required field left empty.
type MissingFieldError struct {
	Field Field
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("please provide %s", e.Field.Label)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// Field describes one verification input.
type Field struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Input string `json:"input"`
}

var (
	fieldName        = Field{Key: model.FieldName, Label: "Full Name", Input: "text"}
	fieldIDNumber    = Field{Key: model.FieldIDNumber, Label: "ID Number", Input: "text"}
	fieldDateOfBirth = Field{Key: model.FieldDateOfBirth, Label: "Date of Birth", Input: "date"}
	fieldCardNumber  = Field{Key: model.FieldCardNumber, Label: "Last 4 digits of card", Input: "text"}
	fieldPhoneNumber = Field{Key: model.FieldPhoneNumber, Label: "Phone Number", Input: "tel"}
	fieldPhoneModel  = Field{Key: model.FieldPhoneModel, Label: "Phone Model", Input: "text"}
	fieldDescription = Field{Key: model.FieldDescription, Label: "Item Description", Input: "textarea"}
)

var schema = map[model.ItemType][]Field{
	model.ItemTypeIDCard:           {fieldName, fieldIDNumber, fieldDateOfBirth},
	model.ItemTypeCreditCard:       {fieldName, fieldCardNumber},
	model.ItemTypePhone:            {fieldPhoneNumber, fieldPhoneModel},
	model.ItemTypeBirthCertificate: {fieldName, fieldDateOfBirth},
	model.ItemTypeOther:            {fieldDescription},
}

// RequiredFields returns the ordered fields a claimant must fill in for an
// item of type t. Unknown types fall back to the generic description field.
// The returned slice is a copy.
func RequiredFields(t model.ItemType) []Field {
	fields, ok := schema[t]
	if !ok {
		fields = schema[model.ItemTypeOther]
	}
	return append([]Field(nil), fields...)
}

// Check validates submitted answers against what the finder extracted.
//
// Every required field must be non-empty, otherwise a *MissingFieldError for
// the first such field is returned. Then every submitted field whose stored
// counterpart is non-empty must match it exactly. Stored fields that are
// absent are not compared, so an item with no extracted info passes any
// complete submission.
func Check(t model.ItemType, submitted map[string]string, extracted model.ExtractedInfo) error {
	for _, f := range RequiredFields(t) {
		if strings.TrimSpace(submitted[f.Key]) == "" {
			return &MissingFieldError{Field: f}
		}
	}

	for key, value := range submitted {
		stored := extracted[key]
		if stored == "" {
			continue
		}
		if value != stored {
			return ErrVerificationMismatch
		}
	}

	return nil
}
