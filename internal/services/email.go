package services

import (
	"crypto/tls"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
)

// EmailSender sends one HTML message.
type EmailSender interface {
	Send(to []string, subject, htmlBody string) error
}

// EmailService delivers notification emails over SMTP.
type EmailService struct {
	cfg     config.EmailConfig
	appName string
	baseURL string
}

func NewEmailService(cfg config.EmailConfig, app config.AppConfig) *EmailService {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailService{cfg: cfg, appName: app.Name, baseURL: strings.TrimRight(app.BaseURL, "/")}
}

// Enabled reports whether SMTP is configured.
func (s *EmailService) Enabled() bool {
	return s.cfg.Enabled && s.cfg.Host != ""
}

// Send implements EmailSender.
func (s *EmailService) Send(to []string, subject, body string) error {
	if !s.Enabled() || len(to) == 0 {
		return nil
	}
	return s.sendEmail(to, subject, body)
}

// NotificationSubject builds the subject line for a notification email.
func (s *EmailService) NotificationSubject(n *models.Notification) string {
	return fmt.Sprintf("[%s] %s", s.appName, n.Title)
}

// NotificationBody renders a notification as a small HTML document.
func (s *EmailService) NotificationBody(n *models.Notification) string {
	var sb strings.Builder

	sb.WriteString("<html><body style=\"font-family: 'Apple SD Gothic Neo', Arial, sans-serif; color: #222;\">")
	sb.WriteString(fmt.Sprintf("<h2 style=\"margin-bottom: 8px;\">%s</h2>", html.EscapeString(n.Title)))
	if n.Content != nil && *n.Content != "" {
		sb.WriteString(fmt.Sprintf("<p style=\"white-space: pre-wrap;\">%s</p>", html.EscapeString(*n.Content)))
	}

	if link := notificationLink(s.baseURL, n); link != "" {
		sb.WriteString(fmt.Sprintf("<p><a href=\"%s\" style=\"background: #4f46e5; color: #fff; padding: 10px 16px; border-radius: 6px; text-decoration: none;\">바로 가기</a></p>", html.EscapeString(link)))
	}

	sb.WriteString(fmt.Sprintf("<hr><p style=\"color: #888; font-size: 12px;\">%s 알림 설정에서 이메일 수신 여부를 변경할 수 있습니다.</p>", html.EscapeString(s.appName)))
	sb.WriteString("</body></html>")
	return sb.String()
}

func (s *EmailService) sendEmail(to []string, subject, body string) error {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}

	headers := [][2]string{
		{"From", from},
		{"To", strings.Join(to, ",")},
		{"Subject", mime.BEncoding.Encode("UTF-8", subject)},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}

	var message strings.Builder
	for _, h := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var err error
	if s.cfg.UseTLS {
		err = s.sendEmailTLS(addr, auth, from, to, message.String())
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message.String()))
	}
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	logger.Infof("[Email] Sent %q to %d recipient(s)", subject, len(to))
	return nil
}

func (s *EmailService) sendEmailTLS(addr string, auth smtp.Auth, from string, to []string, message string) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(message)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// notificationLink points at the web page for the notification's subject, if any.
func notificationLink(baseURL string, n *models.Notification) string {
	if baseURL == "" {
		return ""
	}
	if url, ok := n.Data["action_url"].(string); ok && url != "" {
		return url
	}
	if taskID, ok := n.Data["task_id"].(string); ok && taskID != "" {
		return fmt.Sprintf("%s/tasks/%s", baseURL, taskID)
	}
	if n.Type == models.NotificationTeamInvitation {
		return baseURL + "/invitations"
	}
	if teamID, ok := n.Data["team_id"].(string); ok && teamID != "" {
		return fmt.Sprintf("%s/teams/%s", baseURL, teamID)
	}
	return baseURL + "/notifications"
}
