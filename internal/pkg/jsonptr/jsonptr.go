// Package jsonptr resolves RFC 6901 JSON Pointers against decoded JSON
// documents (the any values produced by encoding/json).
package jsonptr

import (
	"fmt"
	"strconv"
	"strings"
)

// Get resolves pointer against doc. The empty pointer returns doc itself.
// A pointer must otherwise start with "/"; tokens are unescaped per the
// RFC ("~1" -> "/", "~0" -> "~").
func Get(doc any, pointer string) (any, error) {
	if pointer == "" {
		return doc, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("json pointer must start with '/': %q", pointer)
	}

	current := doc
	for _, raw := range strings.Split(pointer[1:], "/") {
		token := unescape(raw)
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[token]
			if !ok {
				return nil, fmt.Errorf("json pointer key not found: %q", token)
			}
			current = value
		case []any:
			if token == "-" {
				return nil, fmt.Errorf("json pointer '-' token is not addressable for reads")
			}
			index, err := strconv.Atoi(token)
			if err != nil {
				return nil, fmt.Errorf("json pointer array index invalid: %q", token)
			}
			if index < 0 || index >= len(node) {
				return nil, fmt.Errorf("json pointer array index out of range: %d (length %d)", index, len(node))
			}
			current = node[index]
		default:
			return nil, fmt.Errorf("json pointer cannot descend into %T at token %q", current, token)
		}
	}
	return current, nil
}

// unescape restores "~1" and "~0" sequences in token, in that order.
func unescape(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}
