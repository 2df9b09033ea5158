package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// SMTPConfig son los datos del servidor de correo.
type SMTPConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// sendMailFunc coincide con smtp.SendMail; los tests lo sustituyen.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender entrega alertas por SMTP (STARTTLS vía smtp.SendMail).
type EmailSender struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
}

// NewEmailSender crea un EmailSender. Falla si falta servidor, remitente o destinatarios.
func NewEmailSender(cfg SMTPConfig) (*EmailSender, error) {
	if cfg.Server == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email: server and recipients are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email: sender address is required")
	}
	return &EmailSender{cfg: cfg, sendMail: smtp.SendMail}, nil
}

// WithSendMail sustituye el envío real.
func (s *EmailSender) WithSendMail(fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) *EmailSender {
	s.sendMail = fn
	return s
}

// Name devuelve el identificador del sender.
func (s *EmailSender) Name() string {
	return "email"
}

// Send envía la alerta. smtp.SendMail no acepta contexto: se comprueba antes.
func (s *EmailSender) Send(ctx context.Context, e domain.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Server)
	}

	if err := s.sendMail(addr, auth, s.cfg.From, s.cfg.To, s.message(e)); err != nil {
		return fmt.Errorf("email: send to %s: %w", addr, err)
	}
	return nil
}

func (s *EmailSender) message(e domain.AlertEvent) []byte {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&sb, "Subject: [settlebot] [%s] %s\r\n", e.Severity, sanitizeHeader(e.Title))
	fmt.Fprintf(&sb, "Date: %s\r\n", at.Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")

	fmt.Fprintf(&sb, "%s\r\n\r\n", e.Message)
	fmt.Fprintf(&sb, "Alert type: %s\r\n", e.Type)
	fmt.Fprintf(&sb, "Severity:   %s\r\n", e.Severity)
	fmt.Fprintf(&sb, "Time:       %s\r\n", at.UTC().Format(time.RFC3339))

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\r\n", k, e.Fields[k])
	}
	return []byte(sb.String())
}

// sanitizeHeader evita inyectar cabeceras con saltos de línea.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
