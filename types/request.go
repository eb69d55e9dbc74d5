package types

import "time"

// MedicalRequest is a patient case submitted by a user for review.
type MedicalRequest struct {
	// ID is the unique identifier of the request.
	ID int `json:"id" db:"id"`

	// PatientName is the patient's full name.
	PatientName string `json:"patient_name" db:"patient_name"`

	// PatientAge is the patient's age in years, between 1 and 120.
	PatientAge int `json:"patient_age" db:"patient_age"`

	// PatientGender is one of male, female or other.
	PatientGender Gender `json:"patient_gender" db:"patient_gender"`

	// PatientIDNumber is the patient's identity document number.
	PatientIDNumber string `json:"patient_id_number" db:"patient_id_number"`

	// Symptoms is a free-text description of the patient's symptoms.
	Symptoms string `json:"symptoms" db:"symptoms"`

	// Diagnosis is an optional provisional diagnosis.
	Diagnosis string `json:"diagnosis" db:"diagnosis"`

	// Medications lists the patient's current medications, if any.
	Medications string `json:"medications" db:"medications"`

	// MedicalHistory is an optional summary of relevant history.
	MedicalHistory string `json:"medical_history" db:"medical_history"`

	// Status is the review state of the request.
	Status RequestStatus `json:"status" db:"status"`

	// UserID identifies the user who submitted the request.
	UserID int `json:"user_id" db:"user_id"`

	// Documents holds the references of the supporting documents,
	// in upload order.
	Documents []string `json:"documents" db:"documents"`

	// CreatedAt is the UTC time the request was submitted.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the UTC time of the latest status change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasDocument reports whether ref is attached to the request.
func (r MedicalRequest) HasDocument(ref string) bool {
	for _, doc := range r.Documents {
		if doc == ref {
			return true
		}
	}
	return false
}

// Gender is the patient's declared gender.
type Gender string

// Supported gender values.
const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// RequestStatus is the review state of a medical request.
// Transitions are strictly forward: pending → reviewed → completed.
type RequestStatus string

// Supported status values.
const (
	// StatusPending is the initial status of every new request.
	StatusPending RequestStatus = "pending"

	// StatusReviewed indicates a manager has looked at the request.
	StatusReviewed RequestStatus = "reviewed"

	// StatusCompleted is terminal.
	StatusCompleted RequestStatus = "completed"
)

// Next returns the status that follows s. It returns false for the
// terminal status and for unknown values.
func (s RequestStatus) Next() (RequestStatus, bool) {
	switch s {
	case StatusPending:
		return StatusReviewed, true
	case StatusReviewed:
		return StatusCompleted, true
	default:
		return "", false
	}
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReviewed, StatusCompleted:
		return true
	default:
		return false
	}
}
