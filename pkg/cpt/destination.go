package cpt

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// Default record kinds.
const (
	NewRequest      = "new-request"
	PromotedRequest = "promoted-request"
	UpdateRequest   = "update-request"
	UpdateSample    = "update-sample"
	RequestStatus   = "request-status"
)

const (
	requestIDPattern = `.*requestId":"(\w+).*`
	sampleIDPattern  = `.*primaryId":"(\w+).*`

	requestIDField = "projectBatchNumber"
	sampleIDField  = "sampleId"

	requestPayloadField = "requestJSON"
	samplePayloadField  = "sampleJSON"
)

// DestinationSpec is the configuration form of a Destination.
type DestinationSpec struct {
	URL          string `mapstructure:"url"`
	IDPattern    string `mapstructure:"id_pattern"`
	IDField      string `mapstructure:"id_field"`
	PayloadField string `mapstructure:"payload_field"`
}

// DefaultDestinationSpecs returns the built-in record kinds. URLs are empty: every
// kind is disabled until configured.
func DefaultDestinationSpecs() map[string]DestinationSpec {
	request := DestinationSpec{IDPattern: requestIDPattern, IDField: requestIDField, PayloadField: requestPayloadField}
	return map[string]DestinationSpec{
		NewRequest:      request,
		PromotedRequest: request,
		UpdateRequest:   request,
		RequestStatus:   request,
		UpdateSample:    {IDPattern: sampleIDPattern, IDField: sampleIDField, PayloadField: samplePayloadField},
	}
}

// MergeDestinationSpecs overlays the non-empty fields of overrides onto base. Kinds
// that only appear in overrides are added as they are.
func MergeDestinationSpecs(base, overrides map[string]DestinationSpec) map[string]DestinationSpec {
	merged := make(map[string]DestinationSpec, len(base)+len(overrides))
	for name, spec := range base {
		merged[name] = spec
	}
	for name, o := range overrides {
		spec := merged[name]
		if o.URL != "" {
			spec.URL = o.URL
		}
		if o.IDPattern != "" {
			spec.IDPattern = o.IDPattern
		}
		if o.IDField != "" {
			spec.IDField = o.IDField
		}
		if o.PayloadField != "" {
			spec.PayloadField = o.PayloadField
		}
		merged[name] = spec
	}
	return merged
}

// Destination is one record kind: where its records go and how the tracking ID is
// found in, and placed next to, the payload. Immutable once built.
type Destination struct {
	Name         string
	URL          string
	IDField      string
	PayloadField string
	idPattern    *regexp.Regexp
}

// Enabled reports whether pushes to this destination are sent at all.
func (d Destination) Enabled() bool {
	return d.URL != ""
}

// ExtractID applies the destination's pattern to the raw payload text and returns the
// first capture group.
func (d Destination) ExtractID(payload string) (string, bool) {
	if d.idPattern == nil {
		return "", false
	}
	m := d.idPattern.FindStringSubmatch(payload)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// DestinationTable is the lookup table from record kind to Destination.
type DestinationTable struct {
	entries map[string]Destination
}

// NewDestinationTable compiles specs into a table.
func NewDestinationTable(specs map[string]DestinationSpec) (*DestinationTable, error) {
	if len(specs) == 0 {
		return nil, errors.New("at least one destination is required")
	}
	entries := make(map[string]Destination, len(specs))
	for name, spec := range specs {
		d, err := compileDestination(name, spec)
		if err != nil {
			return nil, err
		}
		entries[name] = d
	}
	return &DestinationTable{entries: entries}, nil
}

func compileDestination(name string, spec DestinationSpec) (Destination, error) {
	if name == "" {
		return Destination{}, errors.New("destination name cannot be empty")
	}
	if spec.IDField == "" || spec.PayloadField == "" {
		return Destination{}, fmt.Errorf("destination %s: id_field and payload_field are required", name)
	}
	re, err := regexp.Compile(spec.IDPattern)
	if err != nil {
		return Destination{}, fmt.Errorf("destination %s: invalid id_pattern: %w", name, err)
	}
	if re.NumSubexp() < 1 {
		return Destination{}, fmt.Errorf("destination %s: id_pattern needs a capture group", name)
	}
	return Destination{
		Name:         name,
		URL:          spec.URL,
		IDField:      spec.IDField,
		PayloadField: spec.PayloadField,
		idPattern:    re,
	}, nil
}

// Lookup returns the destination registered under name.
func (t *DestinationTable) Lookup(name string) (Destination, bool) {
	d, ok := t.entries[name]
	return d, ok
}

// Names returns the registered kinds in sorted order.
func (t *DestinationTable) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
