// Package fhir builds SEA Index Observations and writes them to a FHIR
// server.
package fhir

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"SeaIndexBridge/internal/domain"
)

const (
	LOINCSystem       = "http://loinc.org"
	UCUMSystem        = "http://unitsofmeasure.org"
	CategorySystem    = "http://terminology.hl7.org/CodeSystem/observation-category"
	DefaultProfile    = "https://twcore.mohw.gov.tw/ig/twcore/StructureDefinition/Observation-simple-twcore"
	DefaultIndexSys   = "http://clinical-indices.org"
	DefaultExportName = "sea-index-observation.json"
)

// Codes is the coding embedded in every Observation.
type Codes struct {
	Profile          string
	PrimaryCode      string
	PrimaryDisplay   string
	SecondaryCode    string
	SecondaryDisplay string
	IndexSystem      string
	IndexCode        string
	IndexDisplay     string
	Text             string
	Unit             string
	UnitCode         string
}

// DefaultCodes returns the coding used by the SEA reporting profile.
func DefaultCodes() Codes {
	return Codes{
		Profile:          DefaultProfile,
		PrimaryCode:      "86585-7",
		PrimaryDisplay:   "MDS v3.0 - RAI v1.17.2, OASIS E - Signs and symptoms of delirium (from CAM) during assessment period [CMS Assessment]",
		SecondaryCode:    "96763-8",
		SecondaryDisplay: "SARS-CoV-2 (COVID-19) E gene [Presence] in Respiratory system specimen by NAA with probe detection",
		IndexSystem:      DefaultIndexSys,
		IndexCode:        "SEA-INDEX",
		IndexDisplay:     "SEA Index",
		Text:             "SEA Index",
		Unit:             "index",
		UnitCode:         "1",
	}
}

// withDefaults fills blank fields from DefaultCodes.
func (c Codes) withDefaults() Codes {
	d := DefaultCodes()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&c.Profile, d.Profile)
	fill(&c.PrimaryCode, d.PrimaryCode)
	fill(&c.PrimaryDisplay, d.PrimaryDisplay)
	fill(&c.SecondaryCode, d.SecondaryCode)
	fill(&c.SecondaryDisplay, d.SecondaryDisplay)
	fill(&c.IndexSystem, d.IndexSystem)
	fill(&c.IndexCode, d.IndexCode)
	fill(&c.IndexDisplay, d.IndexDisplay)
	fill(&c.Text, d.Text)
	fill(&c.Unit, d.Unit)
	fill(&c.UnitCode, d.UnitCode)
	return c
}

// PerformerRef resolves who issued the result: the fhirUser reference when
// it is already qualified, the typed user when the type is known, otherwise
// the subject.
func PerformerRef(identity domain.Identity) string {
	ref := strings.TrimSpace(identity.UserRef)
	switch {
	case strings.Contains(ref, "/"):
		return ref
	case ref != "" && identity.UserResourceType != "":
		return identity.UserResourceType + "/" + ref
	default:
		return "Patient/" + identity.PatientID
	}
}

// BuildObservation assembles the record for score at the given instant.
func BuildObservation(codes Codes, score float64, identity domain.Identity, at time.Time) domain.ClinicalRecord {
	codes = codes.withDefaults()
	value := strconv.FormatFloat(score, 'f', -1, 64)

	return domain.ClinicalRecord{
		ResourceType: "Observation",
		Meta:         &domain.Meta{Profile: []string{codes.Profile}},
		Status:       "final",
		Category: []domain.CodeableConcept{{
			Coding: []domain.Coding{{System: CategorySystem, Code: "survey", Display: "Survey"}},
			Text:   "Survey",
		}},
		Text: &domain.Narrative{
			Status: "generated",
			Div:    `<div xmlns="http://www.w3.org/1999/xhtml">` + codes.Text + ": " + value + `</div>`,
		},
		Code: domain.CodeableConcept{
			Coding: []domain.Coding{
				{System: LOINCSystem, Code: codes.PrimaryCode, Display: codes.PrimaryDisplay},
				{System: LOINCSystem, Code: codes.SecondaryCode, Display: codes.SecondaryDisplay},
				{System: codes.IndexSystem, Code: codes.IndexCode, Display: codes.IndexDisplay},
			},
			Text: codes.Text,
		},
		Subject:           domain.Reference{Reference: "Patient/" + identity.PatientID},
		Performer:         []domain.Reference{{Reference: PerformerRef(identity)}},
		EffectiveDateTime: at.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ValueQuantity: domain.Quantity{
			Value:  score,
			Unit:   codes.Unit,
			System: UCUMSystem,
			Code:   codes.UnitCode,
		},
	}
}

// MarshalRecord renders a record the way it is exported, indented by two
// spaces.
func MarshalRecord(record domain.ClinicalRecord) ([]byte, error) {
	return json.MarshalIndent(record, "", "  ")
}
