package nlq

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meridian-gis/geoquery/internal/observability"
)

// modelResponse is the JSON contract the prompt instructs the model to
// follow. Unknown enum values are tolerated and reported as warnings.
type modelResponse struct {
	WhereClause      string           `json:"where_clause"`
	Confidence       *float64         `json:"confidence"`
	Explanation      string           `json:"explanation"`
	DetectedFields   []string         `json:"detected_fields"`
	OrderBy          string           `json:"order_by"`
	Limit            *int             `json:"limit"`
	Offset           *int             `json:"offset"`
	Aggregation      string           `json:"aggregation"`
	AggregationField string           `json:"aggregation_field"`
	GroupBy          []string         `json:"group_by"`
	SpatialFilter    *spatialResponse `json:"spatial_filter"`
	Warnings         []string         `json:"warnings"`
	Suggestions      []string         `json:"suggestions"`
}

type spatialResponse struct {
	Operator     string    `json:"operator"`
	GeometryType string    `json:"geometry_type"`
	Coordinates  []float64 `json:"coordinates"`
	LocationName string    `json:"location_name"`
	Distance     float64   `json:"distance"`
	DistanceUnit string    `json:"distance_unit"`
}

// ResponseParser turns raw model output into a CompiledQuery.
type ResponseParser struct {
	logger *observability.Logger
}

func NewResponseParser(logger *observability.Logger) *ResponseParser {
	return &ResponseParser{logger: logger}
}

// Parse decodes the model response. Markdown code fences are stripped, and
// if the remainder is not valid JSON the first balanced object in the text
// is tried before giving up.
func (p *ResponseParser) Parse(responseText string, complexity Complexity) (*CompiledQuery, error) {
	cleaned := stripCodeFences(responseText)

	var resp modelResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		extracted, ok := extractObject(cleaned)
		if !ok {
			return nil, &ParsingError{Msg: "no JSON object found in model response", Err: err}
		}
		if inner := json.Unmarshal([]byte(extracted), &resp); inner != nil {
			return nil, &ParsingError{Msg: "model response is not valid JSON", Err: inner}
		}
	}

	q := &CompiledQuery{
		FilterExpression: resp.WhereClause,
		Confidence:       0.8,
		Explanation:      resp.Explanation,
		ReferencedFields: resp.DetectedFields,
		Limit:            resp.Limit,
		Offset:           resp.Offset,
		GroupBy:          resp.GroupBy,
		Complexity:       complexity,
		Warnings:         resp.Warnings,
		Suggestions:      resp.Suggestions,
	}
	if q.FilterExpression == "" {
		q.FilterExpression = "1=1"
	}
	if resp.Confidence != nil {
		q.Confidence = *resp.Confidence
	}

	if resp.OrderBy != "" && !strings.EqualFold(resp.OrderBy, "null") {
		ob, err := ParseOrderBy(resp.OrderBy)
		if err != nil {
			q.Warnings = append(q.Warnings, fmt.Sprintf("Ignoring order by: %v", err))
		} else {
			q.OrderBy = ob
		}
	}

	if resp.Aggregation != "" && !strings.EqualFold(resp.Aggregation, "null") {
		kind, ok := ParseAggregation(resp.Aggregation)
		if !ok {
			p.logger.Warn().Str("aggregation", resp.Aggregation).Msg("Unknown aggregation type")
			q.Warnings = append(q.Warnings, fmt.Sprintf("Unknown aggregation type: %s", resp.Aggregation))
		} else {
			q.Aggregation = &Aggregation{Kind: kind, Field: resp.AggregationField}
		}
	}

	if resp.SpatialFilter != nil {
		sf := resp.SpatialFilter
		op := sf.Operator
		if op == "" {
			op = string(SpatialDistanceWithin)
		}
		parsed, ok := ParseSpatialOperator(op)
		if !ok {
			p.logger.Warn().Str("operator", sf.Operator).Msg("Unknown spatial operator, dropping spatial filter")
			q.Warnings = append(q.Warnings, fmt.Sprintf("Unknown spatial operator: %s", sf.Operator))
		} else {
			geomType := sf.GeometryType
			if geomType == "" {
				geomType = "point"
			}
			unit := sf.DistanceUnit
			if unit == "" {
				unit = "miles"
			}
			q.Spatial = &SpatialFilter{
				Operator:     parsed,
				GeometryType: geomType,
				Coordinates:  sf.Coordinates,
				LocationName: sf.LocationName,
				Distance:     sf.Distance,
				DistanceUnit: unit,
			}
		}
	}

	return q, nil
}

// stripCodeFences removes a leading and trailing markdown code fence.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	lines := strings.Split(s, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractObject returns the outermost {...} span of the text, tracking
// string literals so braces inside them do not count.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
