package model

import "time"

// UrgencyLevel expresses how quickly a line item must be sourced.
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "low"
	UrgencyStandard UrgencyLevel = "standard"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyCritical UrgencyLevel = "critical"
)

// Valid reports whether the urgency level is one of the known values.
func (u UrgencyLevel) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyStandard, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Rank orders urgency levels from low (0) to critical (3) for monotonic
// threshold comparisons.
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyStandard:
		return 1
	default:
		return 0
	}
}

// Dimension is a single requested dimension with an optional tolerance band.
// Value and Tolerance share the same unit; a zero Tolerance means the
// catalog default band applies.
type Dimension struct {
	Name      string  `json:"name" yaml:"name"` // e.g. "diameter", "length"
	Value     float64 `json:"value" yaml:"value"`
	Unit      string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// ParsedAttributes holds the structured fields extracted upstream from a
// line item's raw text. Any field may be empty; the extraction gate decides
// whether enough survived to search on.
type ParsedAttributes struct {
	Material       string      `json:"material,omitempty" yaml:"material,omitempty"`
	Form           string      `json:"form,omitempty" yaml:"form,omitempty"` // e.g. "round bar", "sheet"
	Dimensions     []Dimension `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Quantity       int         `json:"quantity" yaml:"quantity"`
	Certifications []string    `json:"certifications,omitempty" yaml:"certifications,omitempty"`
	PartNumber     string      `json:"part_number,omitempty" yaml:"part_number,omitempty"`
}

// LineItemRequest is one requested product within an order. Immutable once
// created; the order owns it for its lifetime.
type LineItemRequest struct {
	ID               string           `json:"id" yaml:"id"`
	RawText          string           `json:"raw_text" yaml:"raw_text"`
	Parsed           ParsedAttributes `json:"parsed_attributes" yaml:"parsed_attributes"`
	CustomerIndustry string           `json:"customer_industry,omitempty" yaml:"customer_industry,omitempty"`
	Urgency          UrgencyLevel     `json:"urgency_level" yaml:"urgency_level"`
}

// Order is the intake unit: a batch of line items plus order-level metadata
// produced by the upstream extraction component.
type Order struct {
	ID           string            `json:"id" yaml:"id"`
	CustomerName string            `json:"customer_name,omitempty" yaml:"customer_name,omitempty"`
	CustomerTier string            `json:"customer_tier,omitempty" yaml:"customer_tier,omitempty"`
	Timeline     string            `json:"timeline,omitempty" yaml:"timeline,omitempty"` // stated delivery expectation, free text
	ReceivedAt   time.Time         `json:"received_at,omitempty" yaml:"received_at,omitempty"`
	LineItems    []LineItemRequest `json:"line_items" yaml:"line_items"`
}
