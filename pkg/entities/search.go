package entities

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const maxSearchText = 4096

// SearchText flattens the string-like values of data into the lowercase
// surface used by free-text search.
func SearchText(entityType string, data map[string]any) string {
	var b strings.Builder
	b.WriteString(entityType)
	collectText(&b, data)
	text := strings.ToLower(b.String())
	if len(text) > maxSearchText {
		cut := maxSearchText
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

func collectText(b *strings.Builder, value any) {
	switch v := value.(type) {
	case string:
		if v != "" {
			b.WriteByte(' ')
			b.WriteString(v)
		}
	case float64, int, int64, bool:
		b.WriteByte(' ')
		fmt.Fprint(b, v)
	case []any:
		for _, item := range v {
			collectText(b, item)
		}
	case []string:
		for _, item := range v {
			collectText(b, item)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(b, v[k])
		}
	}
}

// Merge shallow-merges patch into base and returns the result. A nil value in
// patch removes the key. base is not modified.
func Merge(base, patch map[string]any) map[string]any {
	out := copyMap(base)
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
