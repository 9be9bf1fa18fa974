package variables

import (
	"regexp"
	"strings"
)

// varPattern matches $variable_name
var varPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// ParseDynamic splits a dynamic variable name,
// e.g. "http_x_edge_env" returns ("http", "x_edge_env").
func ParseDynamic(name string) (prefix, suffix string, ok bool) {
	for _, p := range []string{"http_", "arg_"} {
		if strings.HasPrefix(name, p) {
			return p[:len(p)-1], name[len(p):], true
		}
	}
	return "", "", false
}

// NormalizeHeaderName converts x_custom_header to X-Custom-Header.
func NormalizeHeaderName(name string) string {
	buf := make([]byte, len(name))
	upper := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_' || c == '-':
			buf[i] = '-'
			upper = true
			continue
		case upper && c >= 'a' && c <= 'z':
			c -= 32
		case !upper && c >= 'A' && c <= 'Z':
			c += 32
		}
		buf[i] = c
		upper = false
	}
	return string(buf)
}

type part struct {
	variable bool
	value    string // literal text or variable name
}

// Template is a parsed $variable format string.
type Template struct {
	raw   string
	parts []part
}

// ParseTemplate parses a template string into literal and variable parts.
func ParseTemplate(template string) *Template {
	t := &Template{raw: template}
	last := 0
	for _, loc := range varPattern.FindAllStringSubmatchIndex(template, -1) {
		if loc[0] > last {
			t.parts = append(t.parts, part{value: template[last:loc[0]]})
		}
		t.parts = append(t.parts, part{variable: true, value: template[loc[2]:loc[3]]})
		last = loc[1]
	}
	if last < len(template) {
		t.parts = append(t.parts, part{value: template[last:]})
	}
	return t
}

// Variables returns the variable names used by the template.
func (t *Template) Variables() []string {
	var out []string
	for _, p := range t.parts {
		if p.variable {
			out = append(out, p.value)
		}
	}
	return out
}

// Render resolves the template against ctx. Unknown variables render empty.
func (t *Template) Render(ctx *Context) string {
	var b strings.Builder
	b.Grow(len(t.raw))
	for _, p := range t.parts {
		if !p.variable {
			b.WriteString(p.value)
			continue
		}
		v, _ := Get(p.value, ctx)
		b.WriteString(v)
	}
	return b.String()
}

// Resolve parses and renders template in one step.
func Resolve(template string, ctx *Context) string {
	return ParseTemplate(template).Render(ctx)
}
