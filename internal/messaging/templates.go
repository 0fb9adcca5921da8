package messaging

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
)

// ErrTemplateNotFound indicates no template is registered for a
// reminder type and role pair. The dispatcher skips the reminder and
// surfaces the error to the operator instead of retrying blindly.
var ErrTemplateNotFound = errors.New("messaging: no template registered")

// entry pairs a subject and body template.
type entry struct {
	subject *template.Template
	body    *template.Template
}

var registry = map[string]entry{
	"distributor_posting": newEntry(
		`Post your deal {{.DealName}}: commitments open in {{days .}}`,
		`Your deal "{{.DealName}}" is still unposted and its commitment window opens in {{days .}}. Post it so members can start committing.`,
	),
	"distributor_approval": newEntry(
		`{{pending .}} awaiting review on {{.DealName}}`,
		`The commitment window for "{{.DealName}}" closed 5 days ago and {{pending .}} still awaiting your approval or decline.`,
	),
	"member_window_opening": newEntry(
		`{{.DealName}} opens for commitments in {{days .}}`,
		`The deal "{{.DealName}}" opens for commitments in {{days .}}. Get your quantities ready.`,
	),
	"member_window_closing": newEntry(
		`{{.DealName}} closes in {{remaining .}}`,
		`{{if committed .}}Your commitment on "{{.DealName}}" is in. The window closes in {{remaining .}} if you want to adjust quantities.{{else}}The deal "{{.DealName}}" closes for commitments in {{remaining .}} and you have not committed yet.{{end}}`,
	),
}

// templateKeys maps reminder type and role to a registered template.
var templateKeys = map[string]string{
	"posting_5d|distributor":   "distributor_posting",
	"posting_3d|distributor":   "distributor_posting",
	"posting_1d|distributor":   "distributor_posting",
	"approval_5d|distributor":  "distributor_approval",
	"window_opening_1d|member": "member_window_opening",
	"window_closing_5d|member": "member_window_closing",
	"window_closing_3d|member": "member_window_closing",
	"window_closing_1d|member": "member_window_closing",
	"window_closing_1h|member": "member_window_closing",
}

// TemplateKeyFor resolves the template key for a reminder type and role.
func TemplateKeyFor(reminderType, role string) (string, error) {
	key, ok := templateKeys[reminderType+"|"+role]
	if !ok {
		return "", fmt.Errorf("%w for %s/%s", ErrTemplateNotFound, reminderType, role)
	}
	return key, nil
}

// Render produces the subject and body for a template key and payload.
func Render(templateKey string, payload Payload) (subject, body string, err error) {
	e, ok := registry[templateKey]
	if !ok {
		return "", "", fmt.Errorf("%w under key %q", ErrTemplateNotFound, templateKey)
	}

	var subjectBuf, bodyBuf bytes.Buffer
	if err := e.subject.Execute(&subjectBuf, payload); err != nil {
		return "", "", fmt.Errorf("render subject %q: %w", templateKey, err)
	}
	if err := e.body.Execute(&bodyBuf, payload); err != nil {
		return "", "", fmt.Errorf("render body %q: %w", templateKey, err)
	}
	return subjectBuf.String(), bodyBuf.String(), nil
}

func newEntry(subject, body string) entry {
	return entry{
		subject: template.Must(template.New("subject").Funcs(helpers).Parse(subject)),
		body:    template.Must(template.New("body").Funcs(helpers).Parse(body)),
	}
}

var helpers = template.FuncMap{
	"days": func(p Payload) string {
		if p.Extra.DaysRemaining == nil {
			return "soon"
		}
		if *p.Extra.DaysRemaining == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", *p.Extra.DaysRemaining)
	},
	"remaining": func(p Payload) string {
		if p.Extra.HoursRemaining != nil {
			if *p.Extra.HoursRemaining == 1 {
				return "1 hour"
			}
			return fmt.Sprintf("%d hours", *p.Extra.HoursRemaining)
		}
		if p.Extra.DaysRemaining == nil {
			return "soon"
		}
		if *p.Extra.DaysRemaining == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", *p.Extra.DaysRemaining)
	},
	"pending": func(p Payload) string {
		count := 0
		if p.Extra.PendingCount != nil {
			count = *p.Extra.PendingCount
		}
		if count == 1 {
			return "1 commitment is"
		}
		return fmt.Sprintf("%d commitments are", count)
	},
	"committed": func(p Payload) bool {
		return p.Extra.HasCommitted != nil && *p.Extra.HasCommitted
	},
}
