package providers

import (
	"bytes"
	"context"
	"errors"
	"net/mail"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-sender/internal/config"
	"mail-sender/internal/models"
	"mail-sender/internal/testutil"
	"mail-sender/pkg/email"
)

func relayConfig(t *testing.T, relay *testutil.SMTPRelay) config.Config {
	var cfg config.Config
	cfg.Mail.SenderAddress = testutil.RelayUsername
	cfg.Mail.SMTPHost = relay.Host
	cfg.Mail.SMTPPort = relay.Port
	cfg.Mail.Password = testutil.RelayPassword
	cfg.Mail.CAFile = relay.CAFile(t)
	return cfg
}

func testMessage() models.EmailMessage {
	return models.EmailMessage{
		Subject: "Deploy finished",
		Body:    "Build 42 is live.",
		From:    testutil.RelayUsername,
		To:      "ops@example.com",
	}
}

func TestSendEmail_Success(t *testing.T) {
	relay := testutil.NewSMTPRelay(t)
	cfg := relayConfig(t, relay)

	require.NoError(t, SendEmail(context.Background(), testMessage(), cfg))

	deliveries := relay.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, testutil.RelayUsername, deliveries[0].Username, "authenticates as the sender address")
	assert.True(t, deliveries[0].AuthUnderTLS)

	msg, err := mail.ReadMessage(bytes.NewReader(deliveries[0].Data))
	require.NoError(t, err)
	assert.Equal(t, "Deploy finished", msg.Header.Get("Subject"))
	assert.Equal(t, testutil.RelayUsername, msg.Header.Get("From"))
	assert.Equal(t, "ops@example.com", msg.Header.Get("To"))
}

func TestSendEmail_DisplayNames(t *testing.T) {
	relay := testutil.NewSMTPRelay(t)
	cfg := relayConfig(t, relay)
	msg := testMessage()
	msg.From = "Build Bot <" + testutil.RelayUsername + ">"
	msg.To = "Ops Team <ops@example.com>"

	require.NoError(t, SendEmail(context.Background(), msg, cfg))

	deliveries := relay.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, testutil.RelayUsername, deliveries[0].Username, "authenticates with the bare sender address")
	assert.Equal(t, testutil.RelayUsername, deliveries[0].From)
	assert.Equal(t, []string{"ops@example.com"}, deliveries[0].To)

	got, err := mail.ReadMessage(bytes.NewReader(deliveries[0].Data))
	require.NoError(t, err)
	assert.Equal(t, "Ops Team <ops@example.com>", got.Header.Get("To"))
}

func TestSendEmail_InsecureSkipVerify(t *testing.T) {
	relay := testutil.NewSMTPRelay(t)
	cfg := relayConfig(t, relay)
	cfg.Mail.CAFile = ""
	cfg.Mail.InsecureSkipVerify = true

	require.NoError(t, SendEmail(context.Background(), testMessage(), cfg))
	assert.Len(t, relay.Deliveries(), 1)
}

func TestSendEmail_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, cfg *config.Config, msg *models.EmailMessage)
		wantOp  email.Op
		wantMsg string
	}{
		{
			name: "bad credential",
			mutate: func(t *testing.T, cfg *config.Config, msg *models.EmailMessage) {
				cfg.Mail.Password = "wrong"
			},
			wantOp:  email.OpAuth,
			wantMsg: "failed to send email to ops@example.com",
		},
		{
			name: "unreachable relay",
			mutate: func(t *testing.T, cfg *config.Config, msg *models.EmailMessage) {
				cfg.Mail.SMTPHost, cfg.Mail.SMTPPort = testutil.UnusedAddr(t)
			},
			wantOp:  email.OpConnect,
			wantMsg: "failed to send email to ops@example.com",
		},
		{
			name: "untrusted relay certificate",
			mutate: func(t *testing.T, cfg *config.Config, msg *models.EmailMessage) {
				cfg.Mail.CAFile = ""
			},
			wantOp: email.OpStartTLS,
		},
		{
			name: "missing password",
			mutate: func(t *testing.T, cfg *config.Config, msg *models.EmailMessage) {
				cfg.Mail.Password = ""
			},
			wantMsg: "missing Email configuration",
		},
		{
			name: "unreadable CA file",
			mutate: func(t *testing.T, cfg *config.Config, msg *models.EmailMessage) {
				cfg.Mail.CAFile = filepath.Join(t.TempDir(), "absent.pem")
			},
			wantMsg: "failed to read CA file",
		},
		{
			name: "CA file without certificates",
			mutate: func(t *testing.T, cfg *config.Config, msg *models.EmailMessage) {
				path := filepath.Join(t.TempDir(), "empty.pem")
				require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))
				cfg.Mail.CAFile = path
			},
			wantMsg: "no certificates found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := testutil.NewSMTPRelay(t)
			cfg := relayConfig(t, relay)
			msg := testMessage()
			tt.mutate(t, &cfg, &msg)

			err := SendEmail(context.Background(), msg, cfg)
			require.Error(t, err)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			if tt.wantOp != "" {
				var sendErr *email.Error
				require.True(t, errors.As(err, &sendErr))
				assert.Equal(t, tt.wantOp, sendErr.Op)
			}
			assert.Empty(t, relay.Deliveries())
		})
	}
}
