package notify

import (
	"strings"
	"text/template"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/repository"
)

// Render executes a notification template against an event payload and
// returns the subject and body. Missing payload keys render as empty rather
// than failing a delivery over a cosmetic field.
func Render(t *repository.NotificationTemplate, payload map[string]any) (subject, body string, err error) {
	subject, err = renderOne("subject", t.Subject, payload)
	if err != nil {
		return "", "", err
	}
	body, err = renderOne("body", t.Body, payload)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func renderOne(name, text string, payload map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to parse notification template")
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, payload); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to render notification template")
	}
	// text/template renders zero-valued missing keys as "<no value>".
	return strings.ReplaceAll(sb.String(), "<no value>", ""), nil
}
