package services

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	minPatientAge = 1
	maxPatientAge = 120
)

// RequestForm is the raw submission form. Values are kept as strings so
// that unparsable input is reported as a field error.
type RequestForm struct {
	PatientName     string `form:"patient_name" validate:"required"`
	PatientAge      string `form:"patient_age" validate:"required,age"`
	PatientGender   string `form:"patient_gender" validate:"omitempty,oneof=male female other"`
	PatientIDNumber string `form:"patient_id_number" validate:"required"`
	Symptoms        string `form:"symptoms" validate:"required"`
	Diagnosis       string `form:"diagnosis"`
	Medications     string `form:"medications"`
	MedicalHistory  string `form:"medical_history"`
}

// Normalize trims surrounding whitespace from every field.
func (f RequestForm) Normalize() RequestForm {
	return RequestForm{
		PatientName:     strings.TrimSpace(f.PatientName),
		PatientAge:      strings.TrimSpace(f.PatientAge),
		PatientGender:   strings.ToLower(strings.TrimSpace(f.PatientGender)),
		PatientIDNumber: strings.TrimSpace(f.PatientIDNumber),
		Symptoms:        strings.TrimSpace(f.Symptoms),
		Diagnosis:       strings.TrimSpace(f.Diagnosis),
		Medications:     strings.TrimSpace(f.Medications),
		MedicalHistory:  strings.TrimSpace(f.MedicalHistory),
	}
}

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	if err := v.RegisterValidation("age", func(fl validator.FieldLevel) bool {
		_, ok := parseAge(fl.Field().String())
		return ok
	}); err != nil {
		panic(err)
	}
	return v
}

// parseAge accepts a plain decimal integer with 0 < age <= 120.
// Signs, spaces and decimals are rejected.
func parseAge(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	age, err := strconv.Atoi(raw)
	if err != nil || age < minPatientAge || age > maxPatientAge {
		return 0, false
	}
	return age, true
}

// Validate checks the normalized form and returns one FieldError per
// failing field. A nil result means the form is valid.
func Validate(form RequestForm) []FieldError {
	err := formValidator.Struct(form.Normalize())
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "form", Message: err.Error()}}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return humanize(fe.Field()) + " is required."
	case "age":
		return "Please enter a valid age between 1 and 120."
	case "oneof":
		return humanize(fe.Field()) + " must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ") + "."
	default:
		return humanize(fe.Field()) + " is invalid."
	}
}

// humanize turns "patient_id_number" into "Patient Id Number".
func humanize(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
