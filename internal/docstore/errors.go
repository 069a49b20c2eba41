package docstore

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when creating a document whose id is taken.
	ErrConflict = errors.New("document already exists")
)

// SchemaError reports a field the backend schema does not know about.
type SchemaError struct {
	Collection string
	Attribute  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("Invalid document structure: Unknown attribute: %q", e.Attribute)
}

var unknownAttributeRe = regexp.MustCompile(`(?i)Unknown attribute[:\s]*"?([^"\s]+)"?`)

// UnknownAttribute extracts the offending attribute name from a schema
// rejection. Remote backends only give us the message text, so that form is
// recognised as well as *SchemaError.
func UnknownAttribute(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Attribute, true
	}
	m := unknownAttributeRe.FindStringSubmatch(err.Error())
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// Schema lists the attributes each collection accepts. Collections not in the
// map accept anything.
type Schema map[string][]string

// Check returns a *SchemaError for the first (alphabetically) field that
// collection does not accept.
func (s Schema) Check(collection string, fields map[string]interface{}) error {
	allowed, ok := s[collection]
	if !ok {
		return nil
	}
	known := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		known[a] = struct{}{}
	}
	var unknown []string
	for k := range fields {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &SchemaError{Collection: collection, Attribute: unknown[0]}
}
