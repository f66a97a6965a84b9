package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	s.Capture(context.Background(), errors.New("boom"), map[string]any{"job_id": "j1", "type": "orders"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "j1", line["job_id"])
	assert.Equal(t, "alert", line["component"])
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		raw       string
		id, token string
		wantErr   bool
	}{
		{raw: "https://discord.com/api/webhooks/123/abc", id: "123", token: "abc"},
		{raw: "https://discord.com/api/v10/webhooks/123/abc/", id: "123", token: "abc"},
		{raw: "https://discord.com/api/webhooks/123", wantErr: true},
		{raw: "not a url at all", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			id, token, err := parseWebhookURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestDiscordSink(t *testing.T) {
	var got *discordgo.WebhookParams
	s := &DiscordSink{
		id: "123", token: "abc", logger: discard(),
		execute: func(id, token string, params *discordgo.WebhookParams) error {
			assert.Equal(t, "123", id)
			assert.Equal(t, "abc", token)
			got = params
			return nil
		},
	}
	s.Capture(context.Background(), errors.New("dead letter"), map[string]any{"type": "orders", "attempts": 5})

	require.NotNil(t, got)
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "dead letter", e.Description)
	require.Len(t, e.Fields, 2)
	assert.Equal(t, "attempts", e.Fields[0].Name)
	assert.Equal(t, "5", e.Fields[0].Value)
}

func TestDiscordSinkSwallowsErrors(t *testing.T) {
	s := &DiscordSink{logger: discard(), execute: func(string, string, *discordgo.WebhookParams) error {
		return errors.New("429")
	}}
	assert.NotPanics(t, func() { s.Capture(context.Background(), errors.New("x"), nil) })
}

func TestSMSSinkRateLimited(t *testing.T) {
	var bodies []string
	s := &SMSSink{
		from: "+15550001", to: "+15550002",
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		logger:  discard(),
		send: func(p *twilioApi.CreateMessageParams) error {
			bodies = append(bodies, *p.Body)
			assert.Equal(t, "+15550002", *p.To)
			return nil
		},
	}
	s.Capture(context.Background(), errors.New("first"), map[string]any{"type": "rankings"})
	s.Capture(context.Background(), errors.New("second"), nil)

	require.Len(t, bodies, 1)
	assert.Equal(t, "rank-sync: first (type=rankings)", bodies[0])
}

type recordingSink struct{ errs []error }

func (r *recordingSink) Capture(_ context.Context, err error, _ map[string]any) {
	r.errs = append(r.errs, err)
}

func TestMulti(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	Multi{a, b}.Capture(context.Background(), errors.New("x"), nil)
	assert.Len(t, a.errs, 1)
	assert.Len(t, b.errs, 1)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	out := truncate(strings.Repeat("é", 10), 5)
	assert.Equal(t, 5, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "…"))
}
