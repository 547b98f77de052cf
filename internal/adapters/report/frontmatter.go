package report

import (
	"fmt"
	"strings"
)

// Frontmatter is an ordered set of YAML header fields.
type Frontmatter struct {
	fields map[string]interface{}
	order  []string
}

// NewFrontmatter creates an empty frontmatter.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{fields: make(map[string]interface{})}
}

// Set adds or updates a field, keeping first insertion order.
func (f *Frontmatter) Set(key string, value interface{}) {
	if _, exists := f.fields[key]; !exists {
		f.order = append(f.order, key)
	}
	f.fields[key] = value
}

// Get retrieves a field value.
func (f *Frontmatter) Get(key string) (interface{}, bool) {
	v, ok := f.fields[key]
	return v, ok
}

// Render produces the header with delimiters, or "" when empty.
func (f *Frontmatter) Render() string {
	if len(f.fields) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	for _, key := range f.order {
		sb.WriteString(formatField(key, f.fields[key]))
	}
	sb.WriteString("---\n\n")
	return sb.String()
}

func formatField(key string, value interface{}) string {
	switch v := value.(type) {
	case string:
		if needsQuoting(v) {
			return fmt.Sprintf("%s: %q\n", key, v)
		}
		return fmt.Sprintf("%s: %s\n", key, v)
	case []string:
		if len(v) == 0 {
			return key + ": []\n"
		}
		var sb strings.Builder
		sb.WriteString(key + ":\n")
		for _, s := range v {
			if needsQuoting(s) {
				fmt.Fprintf(&sb, "  - %q\n", s)
			} else {
				fmt.Fprintf(&sb, "  - %s\n", s)
			}
		}
		return sb.String()
	default:
		return fmt.Sprintf("%s: %v\n", key, v)
	}
}

// needsQuoting reports whether a scalar would be misread as YAML.
func needsQuoting(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return true
	}
	if strings.ContainsAny(s, ":#[]{},&*!|>'\"%@`\n") {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "false", "null", "yes", "no", "~":
		return true
	}
	return false
}
