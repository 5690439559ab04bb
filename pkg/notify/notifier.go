package notify

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/rbac"
)

// DefaultFrontendURL is used for links when no frontend URL is configured
const DefaultFrontendURL = "http://localhost:5173"

// InvitationEmail describes an invitation to render
type InvitationEmail struct {
	Email        string
	Role         rbac.Role
	InviterName  string
	InviterEmail string
	InviterRole  rbac.Role
	Token        string
	ExpiresAt    time.Time
}

// WelcomeEmail describes a freshly created account
type WelcomeEmail struct {
	Name     string
	Email    string
	Username string
	Role     rbac.Role
}

// PasswordResetEmail describes a reset link and where the request came from
type PasswordResetEmail struct {
	Name      string
	Email     string
	Token     string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
}

// Status is the public view of the mail configuration
type Status struct {
	Enabled     bool   `json:"enabled"`
	Configured  bool   `json:"configured"`
	FromAddress string `json:"fromAddress"`
	FromName    string `json:"fromName"`
}

// Notifier renders and sends the lifecycle emails
type Notifier struct {
	sender      Sender
	templates   *Templates
	frontendURL string
	timeout     time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NotifierConfig holds the link base and delivery bound
type NotifierConfig struct {
	FrontendURL string
	Timeout     time.Duration
}

// NewNotifier wires a sender and templates together. metrics may be nil.
func NewNotifier(sender Sender, templates *Templates, cfg NotifierConfig, logger *observability.Logger, metrics *observability.Metrics) *Notifier {
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = DefaultFrontendURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Notifier{
		sender:      sender,
		templates:   templates,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		timeout:     cfg.Timeout,
		logger:      logger,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether mail can actually be delivered
func (n *Notifier) Enabled() bool {
	return n.sender.Enabled()
}

// Status reports the mail configuration without secrets
func (n *Notifier) Status() Status {
	address, name := n.sender.From()
	enabled := n.sender.Enabled()
	return Status{Enabled: enabled, Configured: enabled, FromAddress: address, FromName: name}
}

func (n *Notifier) organization() string {
	_, name := n.sender.From()
	if name == "" {
		return DefaultFromName
	}
	return name
}

// InvitationLink returns the frontend URL where an invitation is accepted
func (n *Notifier) InvitationLink(token string) string {
	return n.frontendURL + "/invite/" + url.PathEscape(token)
}

// ResetLink returns the frontend URL where a password is reset
func (n *Notifier) ResetLink(token string) string {
	return n.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
}

// SendInvitation delivers the invitation email
func (n *Notifier) SendInvitation(ctx context.Context, inv InvitationEmail) Result {
	org := n.organization()
	roleName := inv.Role.DisplayName()
	data := map[string]interface{}{
		"Organization":    org,
		"Email":           inv.Email,
		"RoleName":        roleName,
		"InviterName":     inv.InviterName,
		"InviterEmail":    inv.InviterEmail,
		"InviterRoleName": inv.InviterRole.DisplayName(),
		"Link":            n.InvitationLink(inv.Token),
		"ExpiresDate":     inv.ExpiresAt.UTC().Format("Monday, January 2, 2006"),
		"ExpiresTime":     inv.ExpiresAt.UTC().Format("03:04 PM MST"),
	}
	subject := "🎓 You're invited to join " + org + " as a " + roleName
	return n.send(ctx, "invitation", inv.Email, subject, data)
}

// SendWelcome delivers the account-created email
func (n *Notifier) SendWelcome(ctx context.Context, w WelcomeEmail) Result {
	org := n.organization()
	data := map[string]interface{}{
		"Organization": org,
		"Name":         w.Name,
		"Email":        w.Email,
		"Username":     w.Username,
		"RoleName":     w.Role.DisplayName(),
		"SignInLink":   n.frontendURL + "/signin",
	}
	subject := "🎉 Welcome to " + org + "! Your account is ready"
	return n.send(ctx, "welcome", w.Email, subject, data)
}

// SendPasswordReset delivers the reset link
func (n *Notifier) SendPasswordReset(ctx context.Context, r PasswordResetEmail) Result {
	org := n.organization()
	data := map[string]interface{}{
		"Organization": org,
		"Name":         r.Name,
		"Link":         n.ResetLink(r.Token),
		"ExpiresDate":  r.ExpiresAt.UTC().Format("Monday, January 2, 2006"),
		"ExpiresTime":  r.ExpiresAt.UTC().Format("03:04 PM MST"),
		"IPAddress":    orUnknown(r.IPAddress),
		"UserAgent":    orUnknown(r.UserAgent),
	}
	subject := "🔐 Reset your " + org + " password"
	return n.send(ctx, "password_reset", r.Email, subject, data)
}

// SendTest delivers a configuration check email
func (n *Notifier) SendTest(ctx context.Context, to string) Result {
	org := n.organization()
	data := map[string]interface{}{
		"Organization": org,
		"Email":        to,
		"Timestamp":    n.now().Format(time.RFC3339),
	}
	return n.send(ctx, "test", to, "📧 Test Email from "+org, data)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (n *Notifier) send(ctx context.Context, kind, to, subject string, data interface{}) Result {
	log := observability.FromContextOr(ctx, n.logger).WithFields(map[string]interface{}{"email_kind": kind, "to": to})

	if !n.sender.Enabled() {
		log.Warn("Email not configured, message not sent")
		n.metrics.RecordNotification(kind, false)
		return Result{Error: ErrNotConfigured}
	}

	text, html, err := n.templates.Render(kind, data)
	if err != nil {
		log.WithError(err).Error("Email template failed")
		n.metrics.RecordNotification(kind, false)
		return Result{Error: "Failed to render email"}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	result := n.sender.Send(ctx, Message{To: to, Subject: subject, Text: text, HTML: html})
	n.metrics.RecordNotification(kind, result.Success)
	if !result.Success {
		log.WithField("reason", result.Error).Warn("Email delivery failed")
		return result
	}

	log.WithField("message_id", result.MessageID).Info("Email sent")
	return result
}
