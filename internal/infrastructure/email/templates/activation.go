// Package templates provides transactional email markup
package templates

import (
	"bytes"
	"html/template"
	"log"
)

// ActivationEmailProps fills the environment activation email.
type ActivationEmailProps struct {
	Name            string
	EnvironmentID   string
	ActivationURL   string
	ExpirationHours int
}

var activationTemplate = template.Must(template.New("activation").Parse(`
<!doctype html>
<html lang="en">
  <head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
    <title>Activate your GuideRail environment</title>
  </head>
  <body style="font-family: Helvetica, sans-serif; background-color: #f4f5f6; margin: 0; padding: 24px;">
    <div style="max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 32px;">
      <p style="font-size: 16px;">Hi {{.Name}},</p>
      <p style="font-size: 16px;">
        Your GuideRail environment <strong>{{.EnvironmentID}}</strong> is ready.
        Activate it to start connecting clients:
      </p>
      <p style="text-align: center; margin: 32px 0;">
        <a href="{{.ActivationURL}}"
           style="background: #0d6efd; color: #ffffff; padding: 12px 24px; border-radius: 6px; text-decoration: none; font-size: 16px;">
          Activate environment
        </a>
      </p>
      <p style="font-size: 14px; color: #6b7280;">
        This link expires in {{.ExpirationHours}} hours. If you did not request
        this environment, you can ignore this email.
      </p>
    </div>
  </body>
</html>
`))

// GetActivationEmail renders the activation email HTML.
func GetActivationEmail(props ActivationEmailProps) string {
	if props.Name == "" {
		props.Name = "there"
	}

	var buf bytes.Buffer
	if err := activationTemplate.Execute(&buf, props); err != nil {
		log.Printf("Error executing activation email template: %v", err)
		return ""
	}
	return buf.String()
}
