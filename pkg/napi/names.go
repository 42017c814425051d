package napi

// ValidName reports whether name only holds ASCII letters, digits and
// underscores, plus colons when allowColon is set. The empty name is
// accepted; backends reject it on their own.
func ValidName(name string, allowColon bool) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		case allowColon && c == ':':
		default:
			return false
		}
	}
	return true
}
