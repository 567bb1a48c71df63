package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/repository"
)

func TestRender(t *testing.T) {
	tmpl := &repository.NotificationTemplate{
		Subject: "Budget {{.title}} submitted",
		Body:    "{{.title}} for {{.amount}} cents is awaiting your review.",
	}

	subject, body, err := Render(tmpl, map[string]any{
		"title":  "Q1 outreach",
		"amount": int64(250_000),
	})
	require.NoError(t, err)

	assert.Equal(t, "Budget Q1 outreach submitted", subject)
	assert.Equal(t, "Q1 outreach for 250000 cents is awaiting your review.", body)
}

func TestRender_MissingKeysAreEmpty(t *testing.T) {
	tmpl := &repository.NotificationTemplate{
		Subject: "Hello {{.name}}",
		Body:    "Your {{.thing}} is ready.",
	}

	subject, body, err := Render(tmpl, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hello ", subject)
	assert.Equal(t, "Your  is ready.", body)
}

func TestRender_ParseErrorFailsDelivery(t *testing.T) {
	tmpl := &repository.NotificationTemplate{Subject: "{{.broken", Body: "x"}
	_, _, err := Render(tmpl, nil)
	require.Error(t, err)
}
