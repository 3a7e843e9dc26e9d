package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax: {{.DB_PASSWORD}} becomes the value of DB_PASSWORD. Template syntax
// is used instead of $VAR so literal dollar signs in formulas and passwords
// survive untouched.
//
// Missing variables expand to the empty string; validation catches required
// fields left empty. Content that fails to parse or execute as a template is
// returned unchanged so the YAML parser can report the real problem.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
