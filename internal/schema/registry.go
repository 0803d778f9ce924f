// Package schema manages field metadata for a geospatial feature dataset and
// resolves natural-language terms to canonical field names.
package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridian-gis/geoquery/internal/observability"
)

// FieldKind classifies a field's value domain.
type FieldKind string

const (
	KindString     FieldKind = "string"
	KindNumeric    FieldKind = "numeric"
	KindDate       FieldKind = "date"
	KindIdentifier FieldKind = "identifier"
)

// FieldDescriptor describes one field of the feature schema. Immutable after
// the schema is loaded.
type FieldDescriptor struct {
	Name     string    `json:"name"`
	Alias    string    `json:"alias,omitempty"`
	Kind     FieldKind `json:"kind"`
	Nullable bool      `json:"nullable"`
}

// Error indicates a schema load or resolution failure.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema: %s: %v", e.Msg, e.Err)
	}
	return "schema: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultMappings are the natural-language term mappings shipped for common
// county datasets.
var DefaultMappings = map[string]string{
	"state":        "STATE_NAME",
	"state name":   "STATE_NAME",
	"states":       "STATE_NAME",
	"county":       "NAME",
	"county name":  "NAME",
	"name":         "NAME",
	"counties":     "NAME",
	"area":         "SQMI",
	"size":         "SQMI",
	"square miles": "SQMI",
	"sq miles":     "SQMI",
	"sqmi":         "SQMI",
	"square mi":    "SQMI",
	"population":   "POPULATION",
	"pop":          "POPULATION",
	"people":       "POPULATION",
	"residents":    "POPULATION",
	"fips":         "FIPS",
	"fips code":    "FIPS",
	"state fips":   "STATE_FIPS",
}

// snapshot is an immutable view of the loaded schema. Registry swaps whole
// snapshots so concurrent resolvers never observe a partial load.
type snapshot struct {
	fields      map[string]FieldDescriptor
	lowerNames  map[string]string // lowercase name -> canonical name
	aliases     map[string]string // lowercase alias -> canonical name
	mappings    map[string]string // lowercase term -> canonical name
	fingerprint string
	description string
}

// Registry holds field metadata and term mappings.
type Registry struct {
	mu     sync.RWMutex
	snap   *snapshot
	logger *observability.Logger
	client *http.Client
}

// NewRegistry creates an empty registry carrying the default term mappings.
func NewRegistry(logger *observability.Logger) *Registry {
	r := &Registry{
		logger: logger.WithComponent("schema"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	r.snap = buildSnapshot(nil, cloneMappings(DefaultMappings))
	return r
}

// Load replaces the field set atomically. Existing term mappings are kept.
func (r *Registry) Load(fields []FieldDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snap = buildSnapshot(fields, r.snap.mappings)
	r.logger.Info().Int("fields", len(fields)).Msg("Schema loaded")
}

// serviceSchema is the subset of a feature-service metadata document we read.
type serviceSchema struct {
	Fields []struct {
		Name     string `json:"name"`
		Alias    string `json:"alias"`
		Type     string `json:"type"`
		Nullable *bool  `json:"nullable"`
	} `json:"fields"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// LoadFromService fetches schema metadata from a feature service endpoint.
// On failure the registry keeps its last-good field set so in-flight
// compiles are unaffected by a transient outage.
func (r *Registry) LoadFromService(ctx context.Context, serviceURL string) error {
	url := strings.TrimRight(serviceURL, "/") + "?f=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Msg: "create request", Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &Error{Msg: "fetch service schema", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Msg: "read service response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &Error{Msg: fmt.Sprintf("service returned status %d", resp.StatusCode)}
	}

	var doc serviceSchema
	if err := json.Unmarshal(body, &doc); err != nil {
		return &Error{Msg: "decode service schema", Err: err}
	}

	if doc.Error != nil {
		return &Error{Msg: "service error: " + doc.Error.Message}
	}

	fields := make([]FieldDescriptor, 0, len(doc.Fields))
	for _, f := range doc.Fields {
		nullable := true
		if f.Nullable != nil {
			nullable = *f.Nullable
		}
		fields = append(fields, FieldDescriptor{
			Name:     f.Name,
			Alias:    f.Alias,
			Kind:     kindFromServiceType(f.Type),
			Nullable: nullable,
		})
	}

	if len(fields) == 0 {
		return &Error{Msg: "service schema has no fields"}
	}

	r.Load(fields)
	return nil
}

// AddMapping registers a natural-language term for a field name.
func (r *Registry) AddMapping(term, fieldName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mappings := cloneMappings(r.snap.mappings)
	mappings[strings.ToLower(term)] = fieldName
	r.snap = buildSnapshot(fieldList(r.snap.fields), mappings)
}

// AddMappings registers several term mappings at once.
func (r *Registry) AddMappings(mappings map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := cloneMappings(r.snap.mappings)
	for term, fieldName := range mappings {
		merged[strings.ToLower(term)] = fieldName
	}
	r.snap = buildSnapshot(fieldList(r.snap.fields), merged)
}

// Resolve maps a term to a canonical field name. Resolution order: exact
// name, explicit mapping, alias, case-insensitive name, then substring
// overlap as a last-chance heuristic. Returns "" when nothing matches.
func (r *Registry) Resolve(term string) string {
	snap := r.current()

	if _, ok := snap.fields[term]; ok {
		return term
	}

	lower := strings.ToLower(term)

	if name, ok := snap.mappings[lower]; ok {
		return name
	}

	if name, ok := snap.aliases[lower]; ok {
		return name
	}

	if name, ok := snap.lowerNames[lower]; ok {
		return name
	}

	// Sorted scan so a term overlapping several fields resolves the same
	// way on every run.
	lowerNames := make([]string, 0, len(snap.lowerNames))
	for lowerName := range snap.lowerNames {
		lowerNames = append(lowerNames, lowerName)
	}
	sort.Strings(lowerNames)
	for _, lowerName := range lowerNames {
		if strings.Contains(lowerName, lower) || strings.Contains(lower, lowerName) {
			return snap.lowerNames[lowerName]
		}
	}

	return ""
}

// ClosestMatch finds the nearest field name by character-set overlap. The
// 0.3 score floor filters unrelated terms. Returns "" when nothing clears it.
func (r *Registry) ClosestMatch(term string) string {
	snap := r.current()
	lower := strings.ToLower(term)

	bestMatch := ""
	bestScore := 0.0

	for name := range snap.fields {
		score := charOverlap(lower, strings.ToLower(name))
		if score > bestScore && score > 0.3 {
			bestScore = score
			bestMatch = name
		}
	}

	return bestMatch
}

// Empty reports whether no schema fields are loaded. Field validation is
// skipped entirely in that state.
func (r *Registry) Empty() bool {
	return len(r.current().fields) == 0
}

// Field returns the descriptor for a term resolvable to a field.
func (r *Registry) Field(term string) (FieldDescriptor, bool) {
	snap := r.current()
	name := r.Resolve(term)
	if name == "" {
		return FieldDescriptor{}, false
	}
	fd, ok := snap.fields[name]
	return fd, ok
}

// Fields returns all field descriptors sorted by name.
func (r *Registry) Fields() []FieldDescriptor {
	snap := r.current()
	fields := fieldList(snap.fields)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// Mappings returns the term mapping table sorted by term.
func (r *Registry) Mappings() [][2]string {
	snap := r.current()
	out := make([][2]string, 0, len(snap.mappings))
	for term, name := range snap.mappings {
		out = append(out, [2]string{term, name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// FieldsDescription renders a deterministic field listing for prompt
// embedding.
func (r *Registry) FieldsDescription() string {
	return r.current().description
}

// Fingerprint digests the current field set. A schema reload changes the
// fingerprint, which invalidates compile cache entries keyed on it.
func (r *Registry) Fingerprint() string {
	return r.current().fingerprint
}

func (r *Registry) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func buildSnapshot(fields []FieldDescriptor, mappings map[string]string) *snapshot {
	snap := &snapshot{
		fields:     make(map[string]FieldDescriptor, len(fields)),
		lowerNames: make(map[string]string, len(fields)),
		aliases:    make(map[string]string),
		mappings:   mappings,
	}

	names := make([]string, 0, len(fields))
	for _, fd := range fields {
		snap.fields[fd.Name] = fd
		snap.lowerNames[strings.ToLower(fd.Name)] = fd.Name
		if fd.Alias != "" {
			snap.aliases[strings.ToLower(fd.Alias)] = fd.Name
		}
		names = append(names, fd.Name)
	}
	sort.Strings(names)

	hash := sha256.Sum256([]byte(strings.Join(names, ",")))
	snap.fingerprint = hex.EncodeToString(hash[:8])

	var b strings.Builder
	for _, name := range names {
		fd := snap.fields[name]
		b.WriteString("  - ")
		b.WriteString(fd.Name)
		b.WriteString(": ")
		b.WriteString(string(fd.Kind))
		if fd.Alias != "" {
			b.WriteString(" (alias: ")
			b.WriteString(fd.Alias)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	snap.description = strings.TrimRight(b.String(), "\n")
	if snap.description == "" {
		snap.description = "No schema loaded - using default field mappings"
	}

	return snap
}

func fieldList(fields map[string]FieldDescriptor) []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(fields))
	for _, fd := range fields {
		out = append(out, fd)
	}
	return out
}

func cloneMappings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// charOverlap scores two strings by shared character sets relative to the
// longer one. Crude, but it keeps parity with how field suggestions always
// behaved.
func charOverlap(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[rune]struct{})
	for _, c := range a {
		setA[c] = struct{}{}
	}

	common := 0
	seen := make(map[rune]struct{})
	for _, c := range b {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := setA[c]; ok {
			common++
		}
	}

	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return float64(common) / float64(longer)
}

func kindFromServiceType(esriType string) FieldKind {
	switch esriType {
	case "esriFieldTypeString", "esriFieldTypeGUID":
		return KindString
	case "esriFieldTypeInteger", "esriFieldTypeSmallInteger",
		"esriFieldTypeDouble", "esriFieldTypeSingle":
		return KindNumeric
	case "esriFieldTypeDate":
		return KindDate
	case "esriFieldTypeOID":
		return KindIdentifier
	default:
		return KindString
	}
}
