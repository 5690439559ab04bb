package notify

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultFromAddress = "noreply@elbethelacademy.com"
	DefaultFromName    = "ElBethel Academy"
)

// Settings is the mail section of the application configuration
type Settings struct {
	// Service selects a preset: gmail, outlook or smtp. Empty disables mail.
	Service  string
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string

	FromAddress string
	FromName    string
	Timeout     time.Duration
}

// fromAddress falls back to the login user, then the house address
func (s Settings) fromAddress() string {
	switch {
	case s.FromAddress != "":
		return s.FromAddress
	case s.Username != "":
		return s.Username
	default:
		return DefaultFromAddress
	}
}

func (s Settings) fromName() string {
	if s.FromName != "" {
		return s.FromName
	}
	return DefaultFromName
}

// NewSender resolves settings into a transport. When mail cannot be configured
// it returns a Disabled sender and the reason.
func NewSender(s Settings) (Sender, error) {
	disabled := Disabled{Address: s.fromAddress(), Name: s.fromName()}

	cfg := SMTPConfig{
		Port:        587,
		Username:    s.Username,
		Password:    s.Password,
		FromAddress: s.fromAddress(),
		FromName:    s.fromName(),
		Timeout:     s.Timeout,
	}

	switch strings.ToLower(strings.TrimSpace(s.Service)) {
	case "":
		return disabled, nil
	case "gmail", "outlook":
		if s.Username == "" || s.Password == "" {
			return disabled, fmt.Errorf("%s configuration incomplete: username and password required", s.Service)
		}
		cfg.Host = "smtp.gmail.com"
		if strings.EqualFold(s.Service, "outlook") {
			cfg.Host = "smtp-mail.outlook.com"
		}
	case "smtp":
		if s.Host == "" {
			return disabled, fmt.Errorf("smtp configuration incomplete: host required")
		}
		cfg.Host = s.Host
		if s.Port > 0 {
			cfg.Port = s.Port
		}
		cfg.ImplicitTLS = s.Secure
		if s.Username == "" || s.Password == "" {
			cfg.Username, cfg.Password = "", ""
		}
	default:
		return disabled, fmt.Errorf("unknown mail service %q", s.Service)
	}

	return NewSMTPSender(cfg), nil
}
