// Package attrs implements the JSON-shaped attribute document used for
// stage configuration (spec.md §6) and for the single attribute document
// every run writes to rf_pipeline_0.json (spec.md §4.2, §6). It is the Go
// analogue of the original's Json::Value: a loosely typed document with
// typed accessors that fail fast when a required field is missing or the
// wrong shape, the way string_from_json/int_from_json/uint64_t_from_json
// do in the original source.
package attrs

import (
	"encoding/json"
	"fmt"
	"os"
)

// Doc is a JSON-shaped attribute document.
type Doc map[string]interface{}

// ErrMissingField is returned by the typed accessors when a required key
// is absent.
type ErrMissingField struct {
	Field string
}

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("attrs: missing required field %q", e.Field)
}

// ErrWrongType is returned when a field is present but cannot be
// converted to the requested type.
type ErrWrongType struct {
	Field string
	Want  string
	Got   interface{}
}

func (e *ErrWrongType) Error() string {
	return fmt.Sprintf("attrs: field %q: want %s, got %T", e.Field, e.Want, e.Got)
}

// String returns the string field, or an error if it is absent or not a
// string. Mirrors string_from_json.
func (d Doc) String(field string) (string, error) {
	v, ok := d[field]
	if !ok {
		return "", &ErrMissingField{Field: field}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ErrWrongType{Field: field, Want: "string", Got: v}
	}
	return s, nil
}

// Int64 returns the integer field, or an error if it is absent or not a
// number. Mirrors ssize_t_from_json/int_from_json.
func (d Doc) Int64(field string) (int64, error) {
	v, ok := d[field]
	if !ok {
		return 0, &ErrMissingField{Field: field}
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, &ErrWrongType{Field: field, Want: "int64", Got: v}
	}
}

// Uint64 returns the unsigned integer field. Mirrors uint64_t_from_json.
func (d Doc) Uint64(field string) (uint64, error) {
	n, err := d.Int64(field)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &ErrWrongType{Field: field, Want: "uint64", Got: n}
	}
	return uint64(n), nil
}

// Has reports whether the field is present in the document.
func (d Doc) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// ClassName returns the required class_name field used by the stage
// registry to dispatch FromJSON (spec.md §6).
func (d Doc) ClassName() (string, error) {
	return d.String("class_name")
}

// WriteFile pretty-prints the document to path, the Go equivalent of
// Json::StyledWriter writing rf_pipeline_0.json.
func (d Doc) WriteFile(path string) error {
	b, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Merge copies every key of src into d that d does not already define,
// the way end_pipeline only sets "name"/"cpu_time"/"plots" if the
// subtype hook did not already set them.
func (d Doc) Merge(src Doc) Doc {
	for k, v := range src {
		if _, ok := d[k]; !ok {
			d[k] = v
		}
	}
	return d
}
