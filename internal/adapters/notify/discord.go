package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Colores de embed por severidad.
var severityColors = map[domain.Severity]int{
	domain.SeverityInfo:     0x2196F3,
	domain.SeverityWarning:  0xFF9800,
	domain.SeverityError:    0xF44336,
	domain.SeverityCritical: 0xB71C1C,
}

// Discord admite como mucho 25 fields por embed.
const maxEmbedFields = 25

// DiscordSender entrega alertas a un webhook de Discord como embeds.
// Las alertas ERROR y CRITICAL mencionan al usuario configurado.
type DiscordSender struct {
	webhookURL string
	mention    string
	client     *http.Client
}

// NewDiscordSender crea un DiscordSender con timeout de 10s.
// mention es un user ID de Discord o vacío.
func NewDiscordSender(webhookURL, mention string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		mention:    mention,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordPayload struct {
	Content         string           `json:"content,omitempty"`
	Embeds          []discordEmbed   `json:"embeds"`
	AllowedMentions *allowedMentions `json:"allowed_mentions,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type allowedMentions struct {
	Users []string `json:"users"`
}

// Send publica la alerta. Discord responde 204 si todo fue bien.
func (d *DiscordSender) Send(ctx context.Context, e domain.AlertEvent) error {
	body, err := json.Marshal(d.payload(e))
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name devuelve el identificador del sender.
func (d *DiscordSender) Name() string {
	return "discord"
}

func (d *DiscordSender) payload(e domain.AlertEvent) discordPayload {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	embed := discordEmbed{
		Title:       fmt.Sprintf("[%s] %s", e.Severity, e.Title),
		Description: e.Message,
		Color:       severityColors[e.Severity],
		Timestamp:   at.UTC().Format(time.RFC3339),
		Fields: []discordField{
			{Name: "Alert Type", Value: string(e.Type), Inline: true},
			{Name: "Severity", Value: e.Severity.String(), Inline: true},
		},
		Footer: &discordFooter{Text: "settlebot paper trader"},
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(embed.Fields) >= maxEmbedFields {
			break
		}
		embed.Fields = append(embed.Fields, discordField{Name: k, Value: e.Fields[k], Inline: true})
	}

	p := discordPayload{Embeds: []discordEmbed{embed}}
	if d.mention != "" && e.Severity >= domain.SeverityError {
		p.Content = fmt.Sprintf("<@%s>", d.mention)
		p.AllowedMentions = &allowedMentions{Users: []string{d.mention}}
	}
	return p
}
