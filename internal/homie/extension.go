package homie

import (
	"fmt"
	"strings"
)

// Extension identifies a Homie extension a device announced on its
// $extensions attribute, e.g. "org.homie.legacy-stats:0.1.1:[4.x]".
type Extension struct {
	ID            string   `json:"id"`
	Version       string   `json:"version"`
	HomieVersions []string `json:"homie_versions"`
}

// ParseExtension parses a single extension string of the form
// "<id>:<version>:[<homie-version>(;<homie-version>)*]". The input must
// split on ':' into exactly three parts and the third must be bracket
// delimited. An empty bracket interior parses to a one-element list
// holding the empty string, so "a:0:[]" yields [""], never an empty
// list.
func ParseExtension(s string) (Extension, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Extension{}, fmt.Errorf("parse extension %q: %w", s, ErrInvalidExtension)
	}
	versions := parts[2]
	if !strings.HasPrefix(versions, "[") || !strings.HasSuffix(versions, "]") {
		return Extension{}, fmt.Errorf("parse extension %q: %w", s, ErrInvalidExtension)
	}
	return Extension{
		ID:            parts[0],
		Version:       parts[1],
		HomieVersions: strings.Split(versions[1:len(versions)-1], ";"),
	}, nil
}

// ParseExtensions parses a comma-joined $extensions payload. Any single
// malformed entry fails the whole payload.
func ParseExtensions(s string) ([]Extension, error) {
	if s == "" {
		return nil, nil
	}
	var exts []Extension
	for _, part := range strings.Split(s, ",") {
		ext, err := ParseExtension(part)
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
	}
	return exts, nil
}

// String reassembles the wire form, so String(ParseExtension(s)) == s
// for every valid s.
func (e Extension) String() string {
	return e.ID + ":" + e.Version + ":[" + strings.Join(e.HomieVersions, ";") + "]"
}
