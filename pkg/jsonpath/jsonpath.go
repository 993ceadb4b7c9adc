// Package jsonpath resolves JSONPath-style expressions against response
// bodies using gjson.
//
// Both JSONPath ($.hotels[0].name) and native gjson paths (hotels.0.name)
// are accepted.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup returns the value at path in body and whether it exists.
func Lookup(body []byte, path string) (gjson.Result, bool) {
	if len(body) == 0 || path == "" {
		return gjson.Result{}, false
	}
	result := gjson.GetBytes(body, ToGjson(path))
	return result, result.Exists()
}

// Extract returns the value at path as a string. A JSON null is returned as
// "null".
func Extract(body []byte, path string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON body")
	}
	if path == "" {
		return "", fmt.Errorf("empty JSONPath expression")
	}

	result, ok := Lookup(body, path)
	if !ok {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ToGjson converts a JSONPath expression to gjson syntax.
//
//	$                 -> @this
//	$.users[0].name   -> users.0.name
//	$['name']         -> name
//	$[1].id           -> 1.id
func ToGjson(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}
