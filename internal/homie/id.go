package homie

// ValidID reports whether id is a valid Homie identifier: non-empty,
// lowercase letters, digits and hyphens only, with no leading or
// trailing hyphen. Device, node and property IDs all follow this
// grammar.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	if id[0] == '-' || id[len(id)-1] == '-' {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
