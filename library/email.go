package library

import (
	"fmt"
	"net/smtp"
	"time"
)

// EmailSender is the outbound mail transport. The sweeper and the password
// reset flow treat sends as fire-and-forget: failures are logged by the
// caller and never abort the surrounding operation.
type EmailSender interface {
	SendOverdueWarning(toEmail, userName, bookTitle string, dueDate time.Time, daysOverdue int) error
	SendAlmostOverdueWarning(toEmail, userName, bookTitle string, dueDate time.Time) error
	SendPasswordResetEmail(toEmail, resetURL string) error
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	cfg EmailConfig
}

func NewSMTPSender(cfg EmailConfig) *SMTPSender {
	if cfg.FromName == "" {
		cfg.FromName = "Komfy Library"
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.cfg.FromName, s.cfg.From, to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	return nil
}

func (s *SMTPSender) SendOverdueWarning(toEmail, userName, bookTitle string, dueDate time.Time, daysOverdue int) error {
	subject := "URGENT: Overdue Book - Komfy Library"
	body := fmt.Sprintf(`<html><body>
<p>Hello %s,</p>
<p>This is an urgent notice that you have an overdue book.</p>
<p><strong>Title:</strong> %s<br>
<strong>Due Date:</strong> %s<br>
<strong>Days Overdue:</strong> %d</p>
<p>Please return this book as soon as possible. Late fees may apply.</p>
<p>Best regards,<br>The Komfy Library Team</p>
</body></html>`, userName, bookTitle, dueDate.Format("January 02, 2006"), daysOverdue)
	return s.send(toEmail, subject, body)
}

func (s *SMTPSender) SendAlmostOverdueWarning(toEmail, userName, bookTitle string, dueDate time.Time) error {
	subject := "Reminder: Book Due Soon - Komfy Library"
	body := fmt.Sprintf(`<html><body>
<p>Hello %s,</p>
<p>This is a friendly reminder that you have a borrowed book that is due soon.</p>
<p><strong>Title:</strong> %s<br>
<strong>Due Date:</strong> %s</p>
<p>Please return or renew this book before the due date to avoid late fees.</p>
<p>Best regards,<br>The Komfy Library Team</p>
</body></html>`, userName, bookTitle, dueDate.Format("January 02, 2006"))
	return s.send(toEmail, subject, body)
}

func (s *SMTPSender) SendPasswordResetEmail(toEmail, resetURL string) error {
	subject := "Reset Your Password - Komfy Library"
	body := fmt.Sprintf(`<html><body>
<p>Hello,</p>
<p>We received a request to reset your password for your Komfy Library account.</p>
<p><a href="%s">Reset Password</a></p>
<p>This link will expire in 1 hour. If you didn't request a password reset,
please ignore this email.</p>
<p>Best regards,<br>The Komfy Library Team</p>
</body></html>`, resetURL)
	return s.send(toEmail, subject, body)
}

// noopSender stands in when no SMTP relay is configured.
type noopSender struct{}

func (noopSender) SendOverdueWarning(string, string, string, time.Time, int) error { return nil }
func (noopSender) SendAlmostOverdueWarning(string, string, string, time.Time) error {
	return nil
}
func (noopSender) SendPasswordResetEmail(string, string) error { return nil }
