package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

var (
	_ ports.Alerter = (*LogAlerter)(nil)
	_ ports.Alerter = (*DiscordAlerter)(nil)
	_ ports.Alerter = Multi(nil)
)

// LogAlerter escribe las alertas al log estructurado.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter usa slog.Default si logger es nil.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger}
}

func (l *LogAlerter) Alert(ctx context.Context, a domain.Alert) error {
	level := slog.LevelInfo
	switch a.Level {
	case domain.AlertWarning:
		level = slog.LevelWarn
	case domain.AlertCritical:
		level = slog.LevelError
	}

	attrs := []any{"message", a.Message}
	for _, k := range sortedKeys(a.Fields) {
		attrs = append(attrs, k, a.Fields[k])
	}
	l.logger.Log(ctx, level, "alert: "+a.Title, attrs...)
	return nil
}

// Colores de embed de Discord.
const (
	colorInfo     = 0x3498db
	colorWarning  = 0xf1c40f
	colorCritical = 0xe74c3c
)

// DiscordAlerter envía alertas a un webhook de Discord. Sin URL no hace nada.
type DiscordAlerter struct {
	webhookURL string
	minLevel   domain.AlertLevel
	httpClient *http.Client
}

// NewDiscordAlerter crea el alerter. minLevel filtra las alertas menos severas.
func NewDiscordAlerter(webhookURL string, minLevel domain.AlertLevel) *DiscordAlerter {
	if minLevel == "" {
		minLevel = domain.AlertInfo
	}
	return &DiscordAlerter{
		webhookURL: webhookURL,
		minLevel:   minLevel,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Fields      []discordField    `json:"fields,omitempty"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *DiscordAlerter) Alert(ctx context.Context, a domain.Alert) error {
	if d.webhookURL == "" || severity(a.Level) < severity(d.minLevel) {
		return nil
	}

	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	embed := discordEmbed{
		Title:       a.Title,
		Description: a.Message,
		Color:       color(a.Level),
		Footer:      map[string]string{"text": "polytrader | " + string(a.Level)},
		Timestamp:   at.UTC().Format(time.RFC3339),
	}
	for _, k := range sortedKeys(a.Fields) {
		embed.Fields = append(embed.Fields, discordField{Name: k, Value: a.Fields[k], Inline: true})
	}

	data, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("notify.Discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notify.Discord: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify.Discord: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify.Discord: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Multi reparte cada alerta a todos los alerters. Un fallo no corta el resto.
type Multi []ports.Alerter

func (m Multi) Alert(ctx context.Context, a domain.Alert) error {
	var errs []error
	for _, al := range m {
		if al == nil {
			continue
		}
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func severity(l domain.AlertLevel) int {
	switch l {
	case domain.AlertCritical:
		return 2
	case domain.AlertWarning:
		return 1
	default:
		return 0
	}
}

func color(l domain.AlertLevel) int {
	switch l {
	case domain.AlertCritical:
		return colorCritical
	case domain.AlertWarning:
		return colorWarning
	default:
		return colorInfo
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
