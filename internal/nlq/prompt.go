package nlq

import (
	"fmt"
	"strings"

	"github.com/meridian-gis/geoquery/internal/schema"
)

const systemContext = `You are an expert SQL query generator specializing in ArcGIS Feature Service queries.
Your task is to convert natural language queries into precise, optimized ArcGIS SQL WHERE clauses.

CRITICAL RULES:
1. ONLY use field names from the provided schema
2. String values MUST be in single quotes: 'Texas' not "Texas"
3. Use proper ArcGIS SQL syntax (not standard SQL)
4. For NULL checks, use: IS NULL, IS NOT NULL (not = NULL)
5. For text patterns, use LIKE with % wildcards
6. Field names are CASE-SENSITIVE - use exact case from schema
7. Numbers should NOT be quoted
8. Dates should use: DATE 'YYYY-MM-DD' format`

const chainOfThought = `
Let me analyze this query step by step:

1. IDENTIFY THE INTENT: What is the user asking for?
2. EXTRACT ENTITIES: What fields, values, and conditions are mentioned?
3. MAP TO SCHEMA: Which schema fields correspond to the mentioned entities?
4. DETERMINE OPERATORS: What comparison operators are needed?
5. IDENTIFY MODIFIERS: Are there ORDER BY, LIMIT, aggregations, or spatial filters?
6. CONSTRUCT QUERY: Build the final WHERE clause with proper syntax
7. VALIDATE: Check that all field names exist and syntax is correct`

const responseSchema = `{
    "thinking": "Your step-by-step analysis following the chain of thought above",
    "where_clause": "The SQL WHERE clause (use 1=1 if no filter needed)",
    "confidence": 0.95,
    "explanation": "Brief explanation of the conversion",
    "detected_fields": ["list", "of", "field", "names", "used"],
    "order_by": "FIELD_NAME DESC" or null,
    "limit": 5 or null,
    "offset": null,
    "aggregation": "COUNT" or "SUM" or "AVG" or "MIN" or "MAX" or null,
    "aggregation_field": "FIELD_NAME" or null,
    "group_by": ["FIELD1", "FIELD2"] or null,
    "spatial_filter": {
        "operator": "distance_within",
        "geometry_type": "point",
        "location_name": "City, State",
        "distance": 50,
        "distance_unit": "miles"
    } or null,
    "warnings": ["any concerns about the query"],
    "suggestions": ["suggestions for better queries"]
}`

// Example is one worked natural-language to WHERE-clause conversion shown
// to the model.
type Example struct {
	Natural     string
	Where       string
	OrderBy     string
	Limit       int
	Aggregation string
	AggField    string
	Spatial     *SpatialFilter
	Explanation string
}

// WorkedExamples covers the conversion patterns the compiler supports:
// equality and range filters, IN lists, top-N ordering, aggregations,
// LIKE patterns, negation, NULL checks, and spatial proximity.
var WorkedExamples = []Example{
	{
		Natural:     "find counties in Texas",
		Where:       "STATE_NAME = 'Texas'",
		Explanation: "Simple equality filter on state name",
	},
	{
		Natural:     "counties with area under 2500 square miles",
		Where:       "SQMI < 2500",
		Explanation: "Numeric comparison on area field",
	},
	{
		Natural:     "find counties in Texas under 2500 square miles",
		Where:       "STATE_NAME = 'Texas' AND SQMI < 2500",
		Explanation: "Compound filter with AND",
	},
	{
		Natural:     "counties in Texas or Oklahoma",
		Where:       "STATE_NAME IN ('Texas', 'Oklahoma')",
		Explanation: "Multiple values using IN operator",
	},
	{
		Natural:     "counties with area between 1000 and 3000 square miles",
		Where:       "SQMI >= 1000 AND SQMI <= 3000",
		Explanation: "Range query with two conditions",
	},
	{
		Natural:     "top 5 largest counties in Texas",
		Where:       "STATE_NAME = 'Texas'",
		OrderBy:     "SQMI DESC",
		Limit:       5,
		Explanation: "Top N with ORDER BY DESC and LIMIT",
	},
	{
		Natural:     "smallest 10 counties in California",
		Where:       "STATE_NAME = 'California'",
		OrderBy:     "SQMI ASC",
		Limit:       10,
		Explanation: "Bottom N with ORDER BY ASC",
	},
	{
		Natural:     "3 most populous counties",
		Where:       "1=1",
		OrderBy:     "POPULATION DESC",
		Limit:       3,
		Explanation: "Top N across all records",
	},
	{
		Natural:     "how many counties are in Texas",
		Where:       "STATE_NAME = 'Texas'",
		Aggregation: "COUNT",
		Explanation: "Count aggregation",
	},
	{
		Natural:     "total area of counties in California",
		Where:       "STATE_NAME = 'California'",
		Aggregation: "SUM",
		AggField:    "SQMI",
		Explanation: "Sum aggregation on area",
	},
	{
		Natural:     "average population of Texas counties",
		Where:       "STATE_NAME = 'Texas'",
		Aggregation: "AVG",
		AggField:    "POPULATION",
		Explanation: "Average aggregation",
	},
	{
		Natural:     "counties starting with 'San'",
		Where:       "NAME LIKE 'San%'",
		Explanation: "Pattern match with LIKE and prefix wildcard",
	},
	{
		Natural:     "counties not in Texas",
		Where:       "STATE_NAME <> 'Texas'",
		Explanation: "Negation using <> operator",
	},
	{
		Natural:     "counties outside of Texas and California",
		Where:       "STATE_NAME NOT IN ('Texas', 'California')",
		Explanation: "Negation with NOT IN",
	},
	{
		Natural:     "counties with missing population data",
		Where:       "POPULATION IS NULL",
		Explanation: "NULL check for missing data",
	},
	{
		Natural:     "large counties in Texas or small counties in California",
		Where:       "(STATE_NAME = 'Texas' AND SQMI > 5000) OR (STATE_NAME = 'California' AND SQMI < 1000)",
		Explanation: "Complex OR with nested AND conditions",
	},
	{
		Natural: "counties within 50 miles of Houston Texas",
		Where:   "1=1",
		Spatial: &SpatialFilter{
			Operator:     SpatialDistanceWithin,
			GeometryType: "point",
			LocationName: "Houston, Texas",
			Distance:     50,
			DistanceUnit: "miles",
		},
		Explanation: "Spatial proximity query",
	},
}

// promptExampleCount limits how many worked examples are embedded in the
// prompt to keep it focused.
const promptExampleCount = 10

// PromptBuilder assembles the model prompt from the schema registry and
// the worked examples.
type PromptBuilder struct {
	registry *schema.Registry
	examples []Example
}

// NewPromptBuilder uses the default worked examples.
func NewPromptBuilder(registry *schema.Registry) *PromptBuilder {
	return &PromptBuilder{registry: registry, examples: WorkedExamples}
}

// Build renders the full prompt for a natural language query.
func (b *PromptBuilder) Build(naturalQuery string) string {
	return fmt.Sprintf(`%s

AVAILABLE SCHEMA FIELDS:
%s

NATURAL LANGUAGE TO FIELD MAPPINGS:
%s

%s

EXAMPLES OF CORRECT CONVERSIONS:
%s

---

USER QUERY: %q

Analyze this query and provide a JSON response with the following structure:

%s

RESPOND ONLY WITH VALID JSON. No markdown code blocks or additional text.`,
		systemContext,
		b.registry.FieldsDescription(),
		b.mappingLines(),
		chainOfThought,
		b.exampleLines(),
		naturalQuery,
		responseSchema,
	)
}

func (b *PromptBuilder) mappingLines() string {
	var lines []string
	for _, m := range b.registry.Mappings() {
		lines = append(lines, fmt.Sprintf("  - '%s' -> %s", m[0], m[1]))
	}
	return strings.Join(lines, "\n")
}

func (b *PromptBuilder) exampleLines() string {
	examples := b.examples
	if len(examples) > promptExampleCount {
		examples = examples[:promptExampleCount]
	}

	var blocks []string
	for _, ex := range examples {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Query: %q\n", ex.Natural)
		fmt.Fprintf(&sb, "WHERE: %s\n", ex.Where)
		if ex.OrderBy != "" {
			fmt.Fprintf(&sb, "ORDER BY: %s\n", ex.OrderBy)
		}
		if ex.Limit > 0 {
			fmt.Fprintf(&sb, "LIMIT: %d\n", ex.Limit)
		}
		if ex.Aggregation != "" {
			fmt.Fprintf(&sb, "Aggregation: %s", ex.Aggregation)
			if ex.AggField != "" {
				fmt.Fprintf(&sb, "(%s)", ex.AggField)
			}
			sb.WriteString("\n")
		}
		if ex.Spatial != nil {
			fmt.Fprintf(&sb, "Spatial: %s within %g %s of %s\n",
				ex.Spatial.Operator, ex.Spatial.Distance, ex.Spatial.DistanceUnit, ex.Spatial.LocationName)
		}
		fmt.Fprintf(&sb, "Explanation: %s", ex.Explanation)
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}
