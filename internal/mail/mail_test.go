// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/pkg/errutil"
)

type recordingDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

var resetMessage = auth.Message{
	To:      "ada@example.org",
	Name:    "Ada Lovelace",
	Subject: "Password reset",
	Body:    "Reset ID: 01J\nCode: abc",
}

func TestNewSMTPSender_Validates(t *testing.T) {
	tests := []struct {
		name string
		cfg  SMTPConfig
	}{
		{"missing host", SMTPConfig{Port: 587, From: "noreply@example.org"}},
		{"missing port", SMTPConfig{Host: "smtp.example.org", From: "noreply@example.org"}},
		{"missing from", SMTPConfig{Host: "smtp.example.org", Port: 587}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSMTPSender(tt.cfg)
			errutil.AssertErrorCode(t, err, "MAIL_CONFIG_INVALID")
		})
	}

	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.org", Port: 587, From: "noreply@example.org"})
	require.NoError(t, err)
	assert.NotNil(t, s.dialer)
}

func TestSMTPSender_Send(t *testing.T) {
	d := &recordingDialer{}
	s := &SMTPSender{dialer: d, from: "noreply@example.org", fromName: "HSG Members"}

	require.NoError(t, s.Send(context.Background(), resetMessage))
	require.Len(t, d.sent, 1)

	m := d.sent[0]
	assert.Equal(t, []string{`"Ada Lovelace" <ada@example.org>`}, m.GetHeader("To"))
	assert.Equal(t, []string{`"HSG Members" <noreply@example.org>`}, m.GetHeader("From"))
	assert.Equal(t, []string{"Password reset"}, m.GetHeader("Subject"))

	var raw bytes.Buffer
	_, err := m.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "Code: abc")
}

func TestSMTPSender_SendFailure(t *testing.T) {
	d := &recordingDialer{err: errors.New("535 authentication failed")}
	s := &SMTPSender{dialer: d, from: "noreply@example.org"}

	err := s.Send(context.Background(), resetMessage)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MAIL_SEND_FAILED")
	errutil.AssertErrorContext(t, err, "to", "ada@example.org")
}

func TestSMTPSender_SendCancelled(t *testing.T) {
	d := &recordingDialer{}
	s := &SMTPSender{dialer: d, from: "noreply@example.org"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Send(ctx, resetMessage), context.Canceled)
	assert.Empty(t, d.sent)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, s.Send(context.Background(), resetMessage))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ada@example.org", entry["to"])
	assert.Equal(t, resetMessage.Subject, entry["subject"])
	assert.NotContains(t, entry, "body")
	assert.NotContains(t, buf.String(), "Code: abc")
}

func TestLogSender_BodyOnlyAtDebug(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.NoError(t, s.Send(context.Background(), resetMessage))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var info, debug map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &info))
	require.NoError(t, json.Unmarshal(lines[1], &debug))
	assert.Equal(t, "INFO", info["level"])
	assert.NotContains(t, info, "body")
	assert.Equal(t, "DEBUG", debug["level"])
	assert.Equal(t, resetMessage.Body, debug["body"])
}

func TestNew(t *testing.T) {
	m, err := New(SMTPConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, m)

	m, err = New(SMTPConfig{Host: "smtp.example.org", Port: 25, From: "noreply@example.org"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, m)
}
