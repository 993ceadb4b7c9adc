package httpwork

import (
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/stampede/internal/load"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\$?[A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Render replaces {{name}} placeholders in s.
//
// Names resolve in this order: dynamic values ($uuid, $randHex, $vu,
// $iteration, $timestamp), the base URL (baseUrl or baseURL), variables
// extracted earlier by the same VU, then configuration variables. Unknown
// placeholders are left in place.
func Render(s string, it *load.Iteration) string {
	return render(s, it, nil)
}

// RenderJSON is Render for a marshalled JSON document. Placeholders there
// always sit inside string literals, so substituted values are escaped as
// JSON string content.
func RenderJSON(s string, it *load.Iteration) string {
	return render(s, it, jsonEscape)
}

func render(s string, it *load.Iteration, escape func(string) string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := resolve(name, it)
		if !ok {
			return m
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}

func jsonEscape(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return string(b[1 : len(b)-1])
}

func resolve(name string, it *load.Iteration) (string, bool) {
	switch name {
	case "$uuid":
		return uuid.NewString(), true
	case "$randHex":
		return RandHex(), true
	case "$timestamp":
		return strconv.FormatInt(time.Now().UnixMilli(), 10), true
	}
	if it == nil {
		return "", false
	}

	switch name {
	case "$vu":
		return strconv.Itoa(it.VU), true
	case "$iteration":
		return strconv.FormatInt(it.Number, 10), true
	case "baseUrl", "baseURL":
		if it.Env != nil && it.Env.BaseURL != "" {
			return it.Env.BaseURL, true
		}
	}
	return it.Var(name)
}

// RandHex returns 6 random hex characters.
func RandHex() string {
	id := uuid.New()
	return hex.EncodeToString(id[:3])
}
