package email

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProviderType represents the type of email provider
type ProviderType string

const (
	ProviderTypeConsole ProviderType = "console"
	ProviderTypeSMTP    ProviderType = "smtp"
)

// ProviderConfig represents configuration for an email provider
type ProviderConfig struct {
	ProviderType ProviderType    `json:"provider_type"`
	FromAddress  string          `json:"from_address"`
	FromName     string          `json:"from_name"`
	AppName      string          `json:"app_name"`
	SupportEmail string          `json:"support_email,omitempty"`
	Config       json.RawMessage `json:"config"`
}

// SMTPConfig holds SMTP-specific configuration
type SMTPConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	UseSSL     bool   `json:"use_ssl"`
	SkipVerify bool   `json:"skip_verify"`
}

// AccessRequestEmailData contains data for just-in-time access request
// notifications. Status decides which rendering the recipient gets:
// "pending" goes to reviewers, "approved"/"rejected" go back to the
// requester.
type AccessRequestEmailData struct {
	To              string
	RequesterID     string
	ReviewerID      string
	ProjectID       string
	SecretKey       string // empty for project-wide requests
	Reason          string
	DurationMinutes int
	Status          string
	AppName         string
	SupportEmail    string
}

// EmailData represents generic email data
type EmailData struct {
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	FromAddress string
	FromName    string
	ReplyTo     string
}

// Sender defines the interface for sending emails
type Sender interface {
	// SendAccessRequestNotice sends a JIT access request notification
	SendAccessRequestNotice(ctx context.Context, data AccessRequestEmailData) error

	// SendEmail sends a generic email
	SendEmail(ctx context.Context, data EmailData) error

	// Health checks if the email service is available
	Health(ctx context.Context) error

	// ProviderType returns the type of the provider
	ProviderType() ProviderType
}

// Factory creates a Sender from a ProviderConfig
func Factory(config *ProviderConfig) (Sender, error) {
	switch config.ProviderType {
	case ProviderTypeConsole:
		return NewConsoleSender(), nil
	case ProviderTypeSMTP:
		return NewSMTPSenderFromConfig(config)
	default:
		return NewConsoleSender(), nil
	}
}

func accessRequestSubject(data AccessRequestEmailData) string {
	scope := "project access"
	if data.SecretKey != "" {
		scope = fmt.Sprintf("access to %s", data.SecretKey)
	}
	switch data.Status {
	case "approved":
		return fmt.Sprintf("Your request for %s was approved", scope)
	case "rejected":
		return fmt.Sprintf("Your request for %s was rejected", scope)
	default:
		return fmt.Sprintf("Access request from %s pending review", data.RequesterID)
	}
}
