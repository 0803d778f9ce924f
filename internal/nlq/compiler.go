package nlq

import (
	"context"
	"strings"
	"time"

	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/provider"
	"github.com/meridian-gis/geoquery/internal/schema"
	"github.com/meridian-gis/geoquery/internal/security"
)

// CompilerOptions tune the compile pipeline.
type CompilerOptions struct {
	// MaxTokens is the generation budget passed to the model.
	MaxTokens int
	// Mode controls how validation failures are handled.
	Mode ValidationMode
	// LimitWarnCeiling is the LIMIT value above which a performance
	// warning is attached.
	LimitWarnCeiling int
}

// DefaultCompilerOptions returns the production defaults.
func DefaultCompilerOptions() CompilerOptions {
	return CompilerOptions{
		MaxTokens:        2048,
		Mode:             ModeStrict,
		LimitWarnCeiling: 10000,
	}
}

// Compiler turns natural language queries into CompiledQuery values using
// a text generation backend, guarded by security and schema validation and
// fronted by an optional compile cache.
type Compiler struct {
	gen       provider.Generator
	registry  *schema.Registry
	security  *security.Validator
	validator *QueryValidator
	prompts   *PromptBuilder
	parser    *ResponseParser
	cache     *QueryCache
	logger    *observability.Logger
	opts      CompilerOptions
}

// NewCompiler wires the compile pipeline. cache may be nil to disable
// memoization.
func NewCompiler(
	gen provider.Generator,
	registry *schema.Registry,
	sec *security.Validator,
	queryCache *QueryCache,
	logger *observability.Logger,
	opts CompilerOptions,
) *Compiler {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	if opts.Mode == "" {
		opts.Mode = ModeStrict
	}
	return &Compiler{
		gen:       gen,
		registry:  registry,
		security:  sec,
		validator: NewQueryValidator(registry, sec, opts.LimitWarnCeiling),
		prompts:   NewPromptBuilder(registry),
		parser:    NewResponseParser(logger),
		cache:     queryCache,
		logger:    logger,
		opts:      opts,
	}
}

// Compile runs the full pipeline for one natural language query.
func (c *Compiler) Compile(ctx context.Context, naturalQuery string) (*CompiledQuery, error) {
	start := time.Now()

	naturalQuery = strings.TrimSpace(naturalQuery)
	if naturalQuery == "" {
		return nil, &ValidationError{Msg: "query cannot be empty"}
	}

	if sec := c.security.Validate(naturalQuery); !sec.Valid {
		return nil, &SecurityError{Issues: sec.Errors}
	}

	fingerprint := c.registry.Fingerprint()

	if c.cache != nil {
		cached, err := c.cache.Get(ctx, naturalQuery, fingerprint)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Cache lookup failed")
		}
		if cached != nil {
			cached.CacheHit = true
			c.logger.Info().Str("query", naturalQuery).Msg("Cache hit")
			return cached, nil
		}
	}

	c.logger.Info().Str("query", naturalQuery).Msg("Compiling query")

	complexity := ClassifyComplexity(naturalQuery)
	prompt := c.prompts.Build(naturalQuery)

	responseText, err := c.gen.Generate(ctx, prompt, c.opts.MaxTokens)
	if err != nil {
		return nil, &ParsingError{Msg: "generation failed", Err: err}
	}

	result, err := c.parser.Parse(responseText, complexity)
	if err != nil {
		return nil, err
	}
	result.Query = naturalQuery

	if c.opts.Mode != ModeNone {
		validation := c.validator.Validate(result)
		result.Warnings = append(result.Warnings, validation.Warnings...)

		if !validation.Valid {
			if c.opts.Mode == ModeStrict {
				return nil, &ValidationError{Msg: "compiled query failed validation", Issues: validation.Errors}
			}
			result.Warnings = append(result.Warnings, validation.Errors...)
		}

		if validation.CorrectedExpression != "" {
			result.Suggestions = append(result.Suggestions, "Corrected query: "+validation.CorrectedExpression)
		}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, naturalQuery, fingerprint, result); err != nil {
			c.logger.Warn().Err(err).Msg("Cache store failed")
		}
	}

	c.logger.Info().
		Str("query", naturalQuery).
		Str("filter", result.FilterExpression).
		Float64("confidence", result.Confidence).
		Str("complexity", string(result.Complexity)).
		Dur("elapsed", time.Since(start)).
		Msg("Query compiled")

	return result, nil
}

// ValidateFilter validates a filter expression on its own, outside the
// compile pipeline.
func (c *Compiler) ValidateFilter(expr string) ValidationOutcome {
	q := &CompiledQuery{
		FilterExpression: expr,
		Confidence:       1.0,
		Explanation:      "Direct validation",
		ReferencedFields: ExtractFieldNames(expr, c.registry),
	}
	return c.validator.Validate(q)
}

// ClearCache drops all memoized compilations.
func (c *Compiler) ClearCache(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Clear(ctx)
}

var complexKeywords = []string{
	"within", "near", "distance", "miles", "kilometers",
	"average", "total", "sum", "count", "group by",
}

var moderateKeywords = []string{
	"and", "or", "between", "top", "largest", "smallest",
	"most", "least", "first", "last",
}

// ClassifyComplexity buckets a natural language query by its keywords.
func ClassifyComplexity(query string) Complexity {
	lower := strings.ToLower(query)

	for _, kw := range []string{"join", "subquery", "nested"} {
		if strings.Contains(lower, kw) {
			return ComplexityAdvanced
		}
	}

	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return ComplexityComplex
		}
	}

	moderate := 0
	for _, kw := range moderateKeywords {
		if strings.Contains(lower, kw) {
			moderate++
		}
	}
	if moderate >= 2 {
		return ComplexityModerate
	}

	return ComplexitySimple
}
