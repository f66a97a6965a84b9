// Package alert reports operational failures such as dead-lettered jobs.
//
// Sinks never return errors to the caller: a failing sink logs and moves on.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

// Sink captures an error with structured context.
type Sink interface {
	Capture(ctx context.Context, err error, fields map[string]any)
}

// --- Log sink ---

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "alert")}
}

func (s *LogSink) Capture(ctx context.Context, err error, fields map[string]any) {
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "error", err)
	for _, k := range sortedKeys(fields) {
		args = append(args, k, fields[k])
	}
	s.logger.ErrorContext(ctx, "alert", args...)
}

// --- Discord sink ---

// DiscordSink posts alerts to a Discord channel webhook.
type DiscordSink struct {
	id, token string
	logger    *slog.Logger
	execute   func(id, token string, params *discordgo.WebhookParams) error
}

// NewDiscordSink parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscordSink(webhookURL string, logger *slog.Logger) (*DiscordSink, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{
		id:     id,
		token:  token,
		logger: logger.With("component", "alert", "sink", "discord"),
		execute: func(id, token string, params *discordgo.WebhookParams) error {
			_, err := session.WebhookExecute(id, token, false, params)
			return err
		},
	}, nil
}

func (s *DiscordSink) Capture(_ context.Context, err error, fields map[string]any) {
	embed := &discordgo.MessageEmbed{
		Title:       "rank-sync alert",
		Description: truncate(errText(err), 2000),
		Color:       0xE74C3C,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, k := range sortedKeys(fields) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   k,
			Value:  truncate(fmt.Sprint(fields[k]), 1024),
			Inline: true,
		})
	}
	if sendErr := s.execute(s.id, s.token, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}}); sendErr != nil {
		s.logger.Warn("discord alert failed", "error", sendErr)
	}
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("discord webhook url: expected /webhooks/{id}/{token}")
}

// --- SMS sink ---

// SMSSink pages an on-call number through Twilio, at most once per minute.
type SMSSink struct {
	from, to string
	limiter  *rate.Limiter
	logger   *slog.Logger
	send     func(params *twilioApi.CreateMessageParams) error
}

func NewSMSSink(accountSID, authToken, from, to string, logger *slog.Logger) *SMSSink {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &SMSSink{
		from:    from,
		to:      to,
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		logger:  logger.With("component", "alert", "sink", "sms"),
		send: func(params *twilioApi.CreateMessageParams) error {
			_, err := client.Api.CreateMessage(params)
			return err
		},
	}
}

func (s *SMSSink) Capture(_ context.Context, err error, fields map[string]any) {
	if !s.limiter.Allow() {
		s.logger.Debug("sms alert suppressed by rate limit")
		return
	}
	body := "rank-sync: " + errText(err)
	if t, ok := fields["type"]; ok {
		body += fmt.Sprintf(" (type=%v)", t)
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(s.to)
	params.SetFrom(s.from)
	params.SetBody(truncate(body, 160))
	if sendErr := s.send(params); sendErr != nil {
		s.logger.Warn("sms alert failed", "error", sendErr)
	}
}

// --- Fan-out ---

// Multi sends every capture to each sink in order.
type Multi []Sink

func (m Multi) Capture(ctx context.Context, err error, fields map[string]any) {
	for _, s := range m {
		s.Capture(ctx, err, fields)
	}
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
