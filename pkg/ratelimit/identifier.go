package ratelimit

import "strings"

// MaskIdentifier hides all but the last four characters after the "key:" or "ip:" prefix.
func MaskIdentifier(identifier string) string {
	prefix := ""
	rest := identifier
	if i := strings.IndexByte(identifier, ':'); i >= 0 {
		prefix, rest = identifier[:i+1], identifier[i+1:]
	}
	if len(rest) <= 4 {
		return prefix + "****"
	}
	return prefix + "****" + rest[len(rest)-4:]
}
