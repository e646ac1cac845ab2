package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[AHU Fault {{.EventLabel}}]
Equipment: {{.Equipment}}
Fault: {{.Rule}} ({{.RuleID}})
Condition: {{.Description}}
Since: {{.StartTime}}
Current Status: {{.Status}}
Suggestion: {{.Suggestion}}
{{ if .ReportURL }}
Report: {{.ReportURL}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Equipment   string
	EquipmentID string
	Rule        string
	RuleID      string
	Description string
	StartTime   string
	Status      string
	Suggestion  string
	ReportURL   string
	Event       string
	EventLabel  string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("fdd-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notify template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
