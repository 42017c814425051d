package napi

import "bytes"

// isSpace matches the C isspace set.
func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// cutNUL returns b up to the first NUL byte.
func cutNUL(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

// trimChars cuts raw character data at the first NUL and removes leading
// and trailing white space. The result aliases raw.
func trimChars(raw []byte) []byte {
	b := cutNUL(raw)
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

// cutString returns s up to the first NUL byte.
func cutString(s string) string {
	return string(cutNUL([]byte(s)))
}
