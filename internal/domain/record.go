package domain

import "time"

// Coding is a FHIR Coding element.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a FHIR CodeableConcept element.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference is a FHIR Reference element.
type Reference struct {
	Reference string `json:"reference"`
}

// Quantity is a FHIR Quantity element.
type Quantity struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// Meta carries the resource profile.
type Meta struct {
	Profile []string `json:"profile,omitempty"`
}

// Narrative is the human readable resource text.
type Narrative struct {
	Status string `json:"status"`
	Div    string `json:"div"`
}

// ClinicalRecord is the FHIR Observation holding one SEA Index result.
type ClinicalRecord struct {
	ResourceType      string            `json:"resourceType"`
	ID                string            `json:"id,omitempty"`
	Meta              *Meta             `json:"meta,omitempty"`
	Status            string            `json:"status"`
	Category          []CodeableConcept `json:"category,omitempty"`
	Text              *Narrative        `json:"text,omitempty"`
	Code              CodeableConcept   `json:"code"`
	Subject           Reference         `json:"subject"`
	Performer         []Reference       `json:"performer,omitempty"`
	EffectiveDateTime string            `json:"effectiveDateTime"`
	ValueQuantity     Quantity          `json:"valueQuantity"`
}

// Identity is the clinical-record store context produced by the launch
// handshake.
type Identity struct {
	ServerURL        string
	AccessToken      string
	PatientID        string
	UserRef          string
	UserResourceType string
	AuthError        string
}

// Usable reports whether a write may be attempted with this identity.
func (i Identity) Usable() bool {
	return i.AuthError == "" && i.PatientID != "" && i.ServerURL != "" && i.AccessToken != ""
}

// WriteStatus is the result class of a record write.
type WriteStatus string

const (
	WriteWritten WriteStatus = "written"
	WriteSkipped WriteStatus = "skipped"
	WriteFailed  WriteStatus = "failed"
)

// Skip reasons.
const (
	SkipNoIdentity       = "no identity context"
	SkipScoreUnavailable = "score unavailable"
)

// WriteOutcome records what happened to the clinical record.
type WriteOutcome struct {
	Status     WriteStatus    `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	StatusCode int            `json:"statusCode,omitempty"`
	Outcome    map[string]any `json:"outcome,omitempty"`
	ResourceID string         `json:"resourceId,omitempty"`
	At         time.Time      `json:"at"`
}
