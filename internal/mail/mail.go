// Package mail 把“已達殘值”通知按 SMTP 配置发送为 HTML 邮件。
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"netnetWatch/internal/notify"
	"netnetWatch/internal/trace"
)

const (
	smtpTimeout     = 15 * time.Second
	defaultSMTPPort = 587
)

type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

func (s *SMTPConfig) Enabled() bool {
	return s != nil &&
		strings.TrimSpace(s.Server) != "" &&
		strings.TrimSpace(s.From) != "" &&
		strings.TrimSpace(s.To) != ""
}

// Recipients 逗号分隔的收件人，去空白、去空项。
func (s *SMTPConfig) Recipients() []string {
	var out []string
	for _, t := range strings.Split(s.To, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Notifier 邮件通知出口；未配置 SMTP 时授权为 denied，Notify 直接跳过。
type Notifier struct {
	cfg  *SMTPConfig
	send func(cfg *SMTPConfig, subject, htmlBody string, to []string) error
}

func NewNotifier(cfg *SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, send: send}
}

func (n *Notifier) Permission() notify.Permission {
	if n.cfg.Enabled() {
		return notify.PermissionGranted
	}
	return notify.PermissionDenied
}

func (n *Notifier) Notify(ctx context.Context, note notify.Notification) error {
	if !n.cfg.Enabled() {
		trace.Log(ctx, "mail: 未配置 SMTP，跳过 %s", note.Tag)
		return nil
	}
	to := n.cfg.Recipients()
	trace.Log(ctx, "mail: Notify tag=%s to=%s", note.Tag, strings.Join(to, ","))
	if err := n.send(n.cfg, note.Title, BuildHTML(note), to); err != nil {
		trace.Log(ctx, "mail: send err=%v", err)
		return fmt.Errorf("mail %s: %w", note.Symbol, err)
	}
	trace.Log(ctx, "mail: sent ok")
	return nil
}

func BuildHTML(n notify.Notification) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="UTF-8"><title>`)
	b.WriteString(escapeHTML(n.Title))
	b.WriteString(`</title></head><body>`)
	b.WriteString(fmt.Sprintf("<h2>%s</h2><p>%s</p>", escapeHTML(n.Title), escapeHTML(n.Body)))
	b.WriteString(`<table border="1" cellspacing="0" cellpadding="8" style="border-collapse: collapse; font-size: 14px;">`)
	b.WriteString(`<thead><tr style="background: #eee;"><th>代碼</th><th>市場</th><th>現價</th><th>殘值</th></tr></thead><tbody>`)
	b.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
		escapeHTML(n.Symbol), escapeHTML(string(n.Market)),
		escapeHTML(notify.FormatCurrency(n.Price, n.Market)),
		escapeHTML(notify.FormatCurrency(n.ValuationLow, n.Market))))
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}

func send(cfg *SMTPConfig, subject, htmlBody string, to []string) error {
	port := cfg.Port
	if port == 0 {
		port = defaultSMTPPort
	}
	addr := net.JoinHostPort(cfg.Server, strconv.Itoa(port))

	var conn net.Conn
	var err error
	if port == 465 {
		conn, err = tls.DialWithDialer(&net.Dialer{Timeout: smtpTimeout}, "tcp", addr, &tls.Config{ServerName: cfg.Server})
	} else {
		conn, err = net.DialTimeout("tcp", addr, smtpTimeout)
	}
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, cfg.Server)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.Server}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Server)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	for _, t := range to {
		if err := client.Rcpt(t); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", t, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(header(cfg.From, to, subject) + htmlBody)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return client.Quit()
}

// header 主题含中文与 emoji，按 RFC 2047 编码。
func header(from string, to []string, subject string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n",
		from, strings.Join(to, ","), mime.BEncoding.Encode("UTF-8", subject))
}
