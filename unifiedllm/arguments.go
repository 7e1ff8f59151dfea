package unifiedllm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseToolArguments decodes a tool-call argument string. Blank input decodes to
// an empty object. Keys that other runtimes treat as prototype handles are
// rejected wherever they appear: "__proto__", "prototype", and a
// "constructor" object holding "prototype". Failures are
// MalformedOutputErrors attributed to field.
func ParseToolArguments(field, arguments string) (json.RawMessage, error) {
	if strings.TrimSpace(arguments) == "" {
		return json.RawMessage("{}"), nil
	}

	dec := json.NewDecoder(strings.NewReader(arguments))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, NewMalformedOutput(field, "arguments are not valid JSON", err)
	}
	if dec.More() {
		return nil, NewMalformedOutput(field, "arguments contain trailing data", nil)
	}
	if path, ok := findForbiddenKey(value, "$"); ok {
		return nil, NewMalformedOutput(field, fmt.Sprintf("forbidden key at %s", path), nil)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(arguments)); err != nil {
		return nil, NewMalformedOutput(field, "arguments are not valid JSON", err)
	}
	return json.RawMessage(compact.Bytes()), nil
}

func findForbiddenKey(value any, path string) (string, bool) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			childPath := path + "." + key
			switch key {
			case "__proto__", "prototype":
				return childPath, true
			case "constructor":
				if obj, ok := child.(map[string]any); ok {
					if _, has := obj["prototype"]; has {
						return childPath + ".prototype", true
					}
				}
			}
			if p, found := findForbiddenKey(child, childPath); found {
				return p, true
			}
		}
	case []any:
		for i, child := range v {
			if p, found := findForbiddenKey(child, fmt.Sprintf("%s[%d]", path, i)); found {
				return p, true
			}
		}
	}
	return "", false
}
