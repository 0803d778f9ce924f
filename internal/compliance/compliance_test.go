package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/source"
)

func feature(name, state string, area interface{}) source.Feature {
	return source.Feature{Properties: map[string]interface{}{
		"NAME": name, "STATE_NAME": state, "SQMI": area,
	}}
}

func TestCheckSplitsCompliantAndNonCompliant(t *testing.T) {
	c, err := NewChecker(DefaultPolicy(), observability.Nop())
	require.NoError(t, err)

	report := c.Check([]source.Feature{
		feature("Brewster", "Texas", 6193.0),
		feature("Travis", "Texas", 1022.5),
		feature("Loving", "Texas", 677.0),
	})

	assert.Equal(t, 3, report.Summary.TotalAnalyzed)
	assert.Equal(t, 1, report.Summary.CompliantCount)
	assert.Equal(t, 2, report.Summary.NonCompliantCount)
	assert.InDelta(t, 33.33, report.Summary.ComplianceRatePercentage, 0.01)

	require.Len(t, report.Compliant, 1)
	assert.Equal(t, "Brewster", report.Compliant[0].Name)
	assert.InDelta(t, 3693.0, report.Compliant[0].ExcessSqMiles, 0.01)
}

func TestCheckSortsNonCompliantByShortfall(t *testing.T) {
	c, err := NewChecker(DefaultPolicy(), observability.Nop())
	require.NoError(t, err)

	report := c.Check([]source.Feature{
		feature("Travis", "Texas", 1022.5),
		feature("Loving", "Texas", 677.0),
		feature("Harris", "Texas", 1777.0),
	})

	require.Len(t, report.NonCompliant, 3)
	assert.Equal(t, "Loving", report.NonCompliant[0].Name, "largest shortfall first")
	assert.Equal(t, "Travis", report.NonCompliant[1].Name)
	assert.Equal(t, "Harris", report.NonCompliant[2].Name)

	assert.InDelta(t, 1823.0, report.NonCompliant[0].ShortfallSqMiles, 0.01)
	assert.InDelta(t, 27.08, report.NonCompliant[0].CompliancePercentage, 0.01)
}

func TestCheckRecommendationTiers(t *testing.T) {
	tests := []struct {
		area float64
		want string
	}{
		{2400, "Consider special terms negotiation - minor shortfall"},
		{2000, "Combine with adjacent tracts or apply for non-standard terms"},
		{1400, "Significant consolidation required - consider pooling agreement"},
		{600, "Does not meet minimum requirements - alternative lease structure needed"},
	}

	c, err := NewChecker(DefaultPolicy(), observability.Nop())
	require.NoError(t, err)

	for _, tt := range tests {
		report := c.Check([]source.Feature{feature("X", "Texas", tt.area)})
		require.Len(t, report.NonCompliant, 1)
		assert.Equal(t, tt.want, report.NonCompliant[0].Recommendation, "area %v", tt.area)
	}
}

func TestCheckInvalidAreasExcluded(t *testing.T) {
	c, err := NewChecker(DefaultPolicy(), observability.Nop())
	require.NoError(t, err)

	report := c.Check([]source.Feature{
		feature("Brewster", "Texas", 6193.0),
		feature("Broken", "Texas", "not a number"),
		feature("Missing", "Texas", nil),
	})

	assert.Equal(t, 1, report.Summary.TotalAnalyzed)
	assert.Equal(t, 2, report.Summary.InvalidCount)
	assert.InDelta(t, 100.0, report.Summary.ComplianceRatePercentage, 0.01)
}

func TestCheckShortfallTotals(t *testing.T) {
	c, err := NewChecker(Policy{MinAreaSqMiles: 1000}, observability.Nop())
	require.NoError(t, err)

	report := c.Check([]source.Feature{
		feature("A", "Texas", 900.0),
		feature("B", "Texas", 700.0),
	})

	assert.InDelta(t, 400.0, report.Summary.TotalShortfallSqMiles, 0.01)
	assert.InDelta(t, 200.0, report.Summary.AverageShortfallSqMiles, 0.01)
}

func TestNewCheckerRejectsNonPositiveThreshold(t *testing.T) {
	_, err := NewChecker(Policy{MinAreaSqMiles: 0}, observability.Nop())
	assert.Error(t, err)

	_, err = NewChecker(Policy{MinAreaSqMiles: -5}, observability.Nop())
	assert.Error(t, err)
}

func TestNewCheckerDefaultsFields(t *testing.T) {
	c, err := NewChecker(Policy{MinAreaSqMiles: 100}, observability.Nop())
	require.NoError(t, err)

	report := c.Check([]source.Feature{feature("A", "Texas", 150.0)})
	assert.Equal(t, 1, report.Summary.CompliantCount)
	assert.Equal(t, "SQMI", report.Policy.AreaField)
	assert.Equal(t, "NAME", report.Policy.NameField)
}
