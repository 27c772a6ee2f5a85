package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/imedwei/collection-backup/internal/model"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SubjectPrefix string
	Timeout       time.Duration
}

// Attachments opens the stored bytes of an archive.
type Attachments interface {
	OpenRaw(a *model.Archive) (io.ReadCloser, error)
}

// SMTPNotifier mails archives as attachments.
type SMTPNotifier struct {
	config      SMTPConfig
	attachments Attachments
	now         func() time.Time
}

// NewSMTPNotifier creates a notifier that attaches archives read from attachments.
func NewSMTPNotifier(config SMTPConfig, attachments Attachments) *SMTPNotifier {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &SMTPNotifier{
		config:      config,
		attachments: attachments,
		now:         time.Now,
	}
}

// Subject returns the subject line for a collection's archive mail.
func Subject(prefix, label string) string {
	return strings.TrimSpace(prefix + " backup manager " + label)
}

// Body returns the text part of an archive mail.
func Body(a *model.Archive) string {
	return fmt.Sprintf("sha1 hash for archive is: %s\r\nsize: %s\r\n", a.Fingerprint, humanize.Bytes(uint64(a.Size)))
}

// Send implements Notifier.
func (n *SMTPNotifier) Send(ctx context.Context, label string, recipients []string, a *model.Archive) error {
	if len(recipients) == 0 {
		return nil
	}

	msg, err := n.buildMessage(label, recipients, a)
	if err != nil {
		return err
	}

	return n.sendSMTP(ctx, recipients, msg)
}

func (n *SMTPNotifier) buildMessage(label string, recipients []string, a *model.Archive) ([]byte, error) {
	rc, err := n.attachments.OpenRaw(a)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment %s: %w", a.Name, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", n.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", Subject(n.config.SubjectPrefix, label)))
	fmt.Fprintf(&buf, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(text, Body(a)); err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(a.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Name})},
	})
	if err != nil {
		return nil, err
	}

	lw := &lineWrapper{w: attachment, max: 76}
	enc := base64.NewEncoder(base64.StdEncoding, lw)
	if _, err := io.Copy(enc, rc); err != nil {
		return nil, fmt.Errorf("%w: reading attachment %s: %v", model.ErrIO, a.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *SMTPNotifier) sendSMTP(ctx context.Context, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(n.config.Host, strconv.Itoa(n.config.Port))

	dialer := &net.Dialer{Timeout: n.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: n.config.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if n.config.Username != "" && n.config.Password != "" {
		auth := smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(n.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range recipients {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// Message is accepted once DATA closes
	_ = client.Quit()
	return nil
}

// lineWrapper inserts CRLF every max bytes.
type lineWrapper struct {
	w   io.Writer
	max int
	n   int
}

func (l *lineWrapper) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		room := l.max - l.n
		chunk := p
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		m, err := l.w.Write(chunk)
		written += m
		l.n += m
		if err != nil {
			return written, err
		}
		p = p[m:]
		if l.n == l.max {
			if _, err := l.w.Write([]byte("\r\n")); err != nil {
				return written, err
			}
			l.n = 0
		}
	}
	return written, nil
}
