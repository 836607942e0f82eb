// Package codes resolves raw violation codes to human readable descriptions
// using a reference table, first by exact lookup on a normalized key and then
// by approximate string matching.
package codes

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// nonKeyChars matches everything except letters, digits, underscore and dot.
var nonKeyChars = regexp.MustCompile(`[^\p{L}\p{N}_.]+`)

// Normalize returns the comparison key for a violation code: the string form
// of v, lowercased, with every character other than word characters and '.'
// removed. A nil value, typed nil pointers included, normalizes to "none".
func Normalize(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	default:
		if isNil(v) {
			s = "None"
		} else {
			s = fmt.Sprint(x)
		}
	}
	return strings.ToLower(nonKeyChars.ReplaceAllString(s, ""))
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
