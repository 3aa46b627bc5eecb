package sso

import "strings"

// getStringValue reads a string claim. key may be a dotted path into nested
// objects, e.g. "user_metadata.role".
func getStringValue(data map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}

	parts := strings.Split(key, ".")
	current := data
	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return ""
		}
		if i == len(parts)-1 {
			str, _ := val.(string)
			return str
		}
		nested, ok := val.(map[string]interface{})
		if !ok {
			return ""
		}
		current = nested
	}
	return ""
}
