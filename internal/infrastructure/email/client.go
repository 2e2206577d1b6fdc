// Package email provides the email client for sending transactional emails.
package email

import (
	"fmt"
	"os"

	"github.com/GuideRail/guiderail-go/internal/infrastructure/email/templates"
	"github.com/resendlabs/resend-go"
)

// Service defines the interface for sending emails, allowing for mock implementations in tests.
type Service interface {
	SendEnvironmentActivationEmail(toEmail, environmentID, activationURL string) error
}

// ResendClient is the concrete implementation of the email Service using the Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	fromName  string
}

// NewService creates a new email service client, returning the Service interface.
func NewService() (Service, error) {
	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY environment variable is required")
	}

	fromEmail := os.Getenv("ENV_EMAIL_FROM")
	if fromEmail == "" {
		fromEmail = "noreply@guiderail.dev"
	}

	fromName := os.Getenv("ENV_EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "GuideRail"
	}

	return &ResendClient{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// SendEnvironmentActivationEmail composes and sends the activation email.
func (c *ResendClient) SendEnvironmentActivationEmail(toEmail, environmentID, activationURL string) error {
	htmlContent := templates.GetActivationEmail(templates.ActivationEmailProps{
		EnvironmentID:   environmentID,
		ActivationURL:   activationURL,
		ExpirationHours: 48,
	})

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail),
		To:      []string{toEmail},
		Subject: "Activate your GuideRail environment",
		Html:    htmlContent,
	}

	_, err := c.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send activation email via Resend: %w", err)
	}

	return nil
}
