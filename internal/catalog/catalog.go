// Package catalog loads the per-method message templates that the
// sms, e-mail and post challenge-authorization plugins render before
// handing a body to their helper command, replacing what was a
// compiled-in global string per method.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Entry is one method's message template, addressed by its challenge
// code via {{.Code}} and, for methods with an address field worth
// echoing in the body, {{.Address}}.
type Entry struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Catalog maps a method name ("sms", "email", "post") to its Entry.
type Catalog struct {
	entries map[string]Entry
}

// Data fills an Entry's template placeholders for one rendering.
type Data struct {
	Code    uint64
	Address string
}

// Default is the built-in catalog used when no file is configured,
// matching the plugins' previous hardcoded bodies.
func Default() *Catalog {
	return &Catalog{entries: map[string]Entry{
		"sms": {
			Body: "Your Anastasis recovery code is {{.Code}}",
		},
		"email": {
			Subject: "Your Anastasis recovery code",
			Body:    "Your code is {{.Code}}\r\n",
		},
		"post": {
			Body: "Your Anastasis recovery code is {{.Code}}.\n",
		},
	}}
}

// Load reads a YAML file mapping method name to Entry, e.g.:
//
//	sms:
//	  body: "Your code: {{.Code}}"
//	email:
//	  subject: "Recovery code"
//	  body: "Code: {{.Code}}"
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var entries map[string]Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return &Catalog{entries: entries}, nil
}

// Render executes the named method's body template (and subject, if
// the method has one) against d. Falls back to a plain "Your recovery code is N" body
// if the method has no entry, so a partial catalog file never blocks
// delivery.
func (c *Catalog) Render(method string, d Data) (subject, body string, err error) {
	entry, ok := c.entries[method]
	if !ok {
		return "", fmt.Sprintf("Your recovery code is %d", d.Code), nil
	}

	body, err = execute(method+":body", entry.Body, d)
	if err != nil {
		return "", "", err
	}
	if entry.Subject == "" {
		return "", body, nil
	}
	subject, err = execute(method+":subject", entry.Subject, d)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, tmpl string, d Data) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("catalog: parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("catalog: render template %s: %w", name, err)
	}
	return buf.String(), nil
}
