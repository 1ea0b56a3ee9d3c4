package homie

import "fmt"

// Datatype is a property datatype as announced on the $datatype
// attribute. The zero value means the datatype has not been announced
// yet.
type Datatype int

const (
	DatatypeNone Datatype = iota
	DatatypeInteger
	DatatypeFloat
	DatatypeBoolean
	DatatypeString
	DatatypeEnum
	DatatypeColor
)

var datatypeNames = map[Datatype]string{
	DatatypeInteger: "integer",
	DatatypeFloat:   "float",
	DatatypeBoolean: "boolean",
	DatatypeString:  "string",
	DatatypeEnum:    "enum",
	DatatypeColor:   "color",
}

// ParseDatatype parses a $datatype payload, exact lowercase match only.
func ParseDatatype(s string) (Datatype, error) {
	switch s {
	case "integer":
		return DatatypeInteger, nil
	case "float":
		return DatatypeFloat, nil
	case "boolean":
		return DatatypeBoolean, nil
	case "string":
		return DatatypeString, nil
	case "enum":
		return DatatypeEnum, nil
	case "color":
		return DatatypeColor, nil
	}
	return DatatypeNone, fmt.Errorf("parse datatype %q: %w", s, ErrInvalidDatatype)
}

func (d Datatype) String() string {
	if name, ok := datatypeNames[d]; ok {
		return name
	}
	return ""
}

// MarshalText implements encoding.TextMarshaler. The unset datatype
// marshals to the empty string.
func (d Datatype) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the six wire names plus "" for unset.
func (d *Datatype) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = DatatypeNone
		return nil
	}
	parsed, err := ParseDatatype(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
