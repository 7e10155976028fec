package email

import (
	"context"
	"sync"
)

// Template names understood by SendTemplate.
const (
	TemplateVerifyEmail  = "verify_email"
	TemplateInviteMember = "invite_member"
)

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error
}

// NoOpProvider keeps the rendered messages in memory instead of sending
// them. It backs local development when no SMTP relay is configured.
type NoOpProvider struct {
	mu   sync.Mutex
	sent []Message
}

type Message struct {
	To       []string
	Subject  string
	Template string
	HTML     string
}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, Message{To: to, Subject: subject, HTML: htmlBody})
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	subject, body, err := render(templateName, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, Message{To: to, Subject: subject, Template: templateName, HTML: body})
	return nil
}

// Sent returns a copy of every message handed to the provider.
func (p *NoOpProvider) Sent() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.sent))
	copy(out, p.sent)
	return out
}
