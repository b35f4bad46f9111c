// Package spec loads and validates the desired plugin state file.
package spec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"sigs.k8s.io/yaml"
)

// DefaultMaxConcurrent is used when installOptions.maxConcurrent is not set.
const DefaultMaxConcurrent = 3

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "plugctl-config.schema.json"

// Plugin is a single desired plugin.
type Plugin struct {
	Name         string         `json:"name"`
	Source       string         `json:"source"`
	Version      string         `json:"version,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// InstallOptions controls how the plugins of a Config are scheduled.
type InstallOptions struct {
	Parallel      bool `json:"parallel"`
	MaxConcurrent int  `json:"maxConcurrent"`
}

// Config is the validated desired plugin state.
type Config struct {
	Plugins        []Plugin       `json:"plugins"`
	InstallOptions InstallOptions `json:"installOptions"`
}

// ParseError is returned for syntactically malformed files.
type ParseError struct {
	Path string
	// Line is the 1-based line of the error, or 0 if unknown.
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Violation is a single schema violation.
type Violation struct {
	// InstanceLocation is a JSON pointer to the offending value.
	InstanceLocation string
	Message          string
}

// ValidationError lists every schema violation of a file.
type ValidationError struct {
	Path       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "configuration validation failed for %s:", e.Path)
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  %s: %s", v.InstanceLocation, v.Message)
	}
	return b.String()
}

// DuplicateError lists every value of Field used by more than one plugin.
type DuplicateError struct {
	Field  string
	Values []string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate plugin %s values: %s", e.Field, strings.Join(e.Values, ", "))
}

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add %s: %w", schemaURL, err)
	}
	return c.Compile(schemaURL)
})

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin configuration: %w", err)
	}
	return Parse(path, data)
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

// Parse validates data read from path. Schema violations and duplicate names
// or sources are all reported together.
func Parse(path string, data []byte) (*Config, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		perr := &ParseError{Path: path, Err: err}
		if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
			perr.Line, _ = strconv.Atoi(m[1])
		}
		return nil, perr
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	sch, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile configuration schema: %w", err)
	}

	var errs []error
	if err := sch.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, fmt.Errorf("failed to validate %s: %w", path, err)
		}
		errs = append(errs, &ValidationError{Path: path, Violations: violations(verr)})
	}

	names, sources := readKeys(doc)
	if dups := duplicates(names); len(dups) > 0 {
		errs = append(errs, &DuplicateError{Field: "name", Values: dups})
	}
	if dups := duplicates(sources); len(dups) > 0 {
		errs = append(errs, &DuplicateError{Field: "source", Values: dups})
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if cfg.InstallOptions.MaxConcurrent == 0 {
		cfg.InstallOptions.MaxConcurrent = DefaultMaxConcurrent
	}

	return &cfg, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

var printer = message.NewPrinter(language.English)

// violations flattens the validation error tree into its leaves.
func violations(err *jsonschema.ValidationError) []Violation {
	if len(err.Causes) == 0 {
		return []Violation{{
			InstanceLocation: "/" + strings.Join(err.InstanceLocation, "/"),
			Message:          err.ErrorKind.LocalizedString(printer),
		}}
	}
	var out []Violation
	for _, cause := range err.Causes {
		out = append(out, violations(cause)...)
	}
	return out
}

// readKeys extracts the name and source of every plugin entry that could be
// read, even if the document as a whole is invalid.
func readKeys(doc any) (names, sources []string) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, nil
	}
	plugins, ok := root["plugins"].([]any)
	if !ok {
		return nil, nil
	}
	for _, p := range plugins {
		entry, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := entry["name"].(string); ok {
			names = append(names, name)
		}
		if source, ok := entry["source"].(string); ok {
			sources = append(sources, source)
		}
	}
	return names, sources
}

// duplicates returns the sorted values occurring more than once.
func duplicates(values []string) []string {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	var dups []string
	for _, v := range slices.Sorted(maps.Keys(counts)) {
		if counts[v] > 1 {
			dups = append(dups, v)
		}
	}
	return dups
}
