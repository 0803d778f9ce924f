// Package compliance checks feature areas against a minimum-area policy
// and produces ranked shortfall reports.
package compliance

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/source"
)

// Policy configures a minimum-area compliance check.
type Policy struct {
	// MinAreaSqMiles is the qualification threshold.
	MinAreaSqMiles float64
	// AreaField names the property holding the area in square miles.
	AreaField string
	// NameField names the property used to identify a feature in reports.
	NameField string
}

// DefaultPolicy is the standard lease qualification threshold.
func DefaultPolicy() Policy {
	return Policy{MinAreaSqMiles: 2500, AreaField: "SQMI", NameField: "NAME"}
}

// Detail is one feature's compliance assessment.
type Detail struct {
	Name                 string  `json:"name"`
	State                string  `json:"state,omitempty"`
	AreaSqMiles          float64 `json:"area_sq_miles"`
	RequiredSqMiles      float64 `json:"required_sq_miles"`
	Compliant            bool    `json:"compliant"`
	ShortfallSqMiles     float64 `json:"shortfall_sq_miles,omitempty"`
	ExcessSqMiles        float64 `json:"excess_sq_miles,omitempty"`
	CompliancePercentage float64 `json:"compliance_percentage,omitempty"`
	Recommendation       string  `json:"recommendation,omitempty"`
}

// Summary aggregates a compliance check.
type Summary struct {
	TotalAnalyzed            int     `json:"total_analyzed"`
	CompliantCount           int     `json:"compliant_count"`
	NonCompliantCount        int     `json:"non_compliant_count"`
	InvalidCount             int     `json:"invalid_count"`
	ComplianceRatePercentage float64 `json:"compliance_rate_percentage"`
	TotalShortfallSqMiles    float64 `json:"total_shortfall_sq_miles"`
	AverageShortfallSqMiles  float64 `json:"average_shortfall_sq_miles"`
}

// Report is the full outcome of a compliance analysis. NonCompliant is
// sorted by shortfall, largest gap first.
type Report struct {
	Summary      Summary   `json:"summary"`
	NonCompliant []Detail  `json:"non_compliant"`
	Compliant    []Detail  `json:"compliant"`
	Policy       Policy    `json:"policy"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// Checker runs compliance analyses.
type Checker struct {
	policy Policy
	logger *observability.Logger
}

func NewChecker(policy Policy, logger *observability.Logger) (*Checker, error) {
	if policy.MinAreaSqMiles <= 0 {
		return nil, fmt.Errorf("compliance: minimum area must be greater than zero")
	}
	if policy.AreaField == "" {
		policy.AreaField = "SQMI"
	}
	if policy.NameField == "" {
		policy.NameField = "NAME"
	}
	return &Checker{policy: policy, logger: logger}, nil
}

// Check analyzes every feature against the policy. Features with a missing
// or non-numeric area value are counted as invalid and excluded from the
// compliance rate.
func (c *Checker) Check(features []source.Feature) *Report {
	c.logger.Info().
		Int("features", len(features)).
		Float64("min_area_sq_miles", c.policy.MinAreaSqMiles).
		Msg("Starting compliance check")

	report := &Report{Policy: c.policy, AnalyzedAt: time.Now().UTC()}

	totalShortfall := 0.0
	for _, f := range features {
		name := propString(f, c.policy.NameField)
		state := propString(f, "STATE_NAME")

		area, ok := propFloat(f, c.policy.AreaField)
		if !ok {
			report.Summary.InvalidCount++
			c.logger.Warn().Str("name", name).Str("state", state).Msg("Invalid area value")
			continue
		}

		detail := Detail{
			Name:            name,
			State:           state,
			AreaSqMiles:     round2(area),
			RequiredSqMiles: c.policy.MinAreaSqMiles,
			Compliant:       area >= c.policy.MinAreaSqMiles,
		}

		if detail.Compliant {
			detail.ExcessSqMiles = round2(area - c.policy.MinAreaSqMiles)
			report.Compliant = append(report.Compliant, detail)
			continue
		}

		shortfall := c.policy.MinAreaSqMiles - area
		detail.ShortfallSqMiles = round2(shortfall)
		detail.CompliancePercentage = round2(area / c.policy.MinAreaSqMiles * 100)
		detail.Recommendation = recommendation(area, c.policy.MinAreaSqMiles)
		report.NonCompliant = append(report.NonCompliant, detail)
		totalShortfall += shortfall
	}

	sort.SliceStable(report.NonCompliant, func(i, j int) bool {
		return report.NonCompliant[i].ShortfallSqMiles > report.NonCompliant[j].ShortfallSqMiles
	})

	s := &report.Summary
	s.CompliantCount = len(report.Compliant)
	s.NonCompliantCount = len(report.NonCompliant)
	s.TotalAnalyzed = s.CompliantCount + s.NonCompliantCount
	s.TotalShortfallSqMiles = round2(totalShortfall)
	if s.TotalAnalyzed > 0 {
		s.ComplianceRatePercentage = round2(float64(s.CompliantCount) / float64(s.TotalAnalyzed) * 100)
	}
	if s.NonCompliantCount > 0 {
		s.AverageShortfallSqMiles = round2(totalShortfall / float64(s.NonCompliantCount))
	}

	c.logger.Info().
		Int("analyzed", s.TotalAnalyzed).
		Int("compliant", s.CompliantCount).
		Int("non_compliant", s.NonCompliantCount).
		Float64("compliance_rate", s.ComplianceRatePercentage).
		Msg("Compliance check completed")

	return report
}

// recommendation grades a shortfall by how close the feature comes to the
// requirement.
func recommendation(area, required float64) string {
	percentage := area / required * 100
	switch {
	case percentage >= 90:
		return "Consider special terms negotiation - minor shortfall"
	case percentage >= 75:
		return "Combine with adjacent tracts or apply for non-standard terms"
	case percentage >= 50:
		return "Significant consolidation required - consider pooling agreement"
	default:
		return "Does not meet minimum requirements - alternative lease structure needed"
	}
}

func propString(f source.Feature, field string) string {
	if v, ok := f.Properties[field].(string); ok {
		return v
	}
	return "Unknown"
}

func propFloat(f source.Feature, field string) (float64, bool) {
	switch v := f.Properties[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
