package email

import (
	"bytes"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderMessage(t *testing.T, from, to, subject, body string) *mail.Message {
	t.Helper()
	var buf bytes.Buffer
	_, err := NewMessage(from, to, subject, body).WriteTo(&buf)
	require.NoError(t, err)

	msg, err := mail.ReadMessage(&buf)
	require.NoError(t, err, "rendered message should parse")
	return msg
}

func decodedBody(t *testing.T, msg *mail.Message) string {
	t.Helper()
	var r io.Reader = msg.Body
	if strings.EqualFold(msg.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		r = quotedprintable.NewReader(r)
	}
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestNewMessage_Headers(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		subject string
		body    string
	}{
		{
			name:    "ascii",
			from:    "sender@example.com",
			to:      "recipient@example.com",
			subject: "Weekly report",
			body:    "All systems nominal.",
		},
		{
			name:    "non-ascii subject",
			from:    "sender@example.com",
			to:      "recipient@example.com",
			subject: "Raport săptămânal ✓",
			body:    "Totul e în regulă.",
		},
		{
			name:    "empty subject and body",
			from:    "sender@example.com",
			to:      "recipient@example.com",
			subject: "",
			body:    "",
		},
		{
			name:    "multi-line body",
			from:    "sender@example.com",
			to:      "recipient@example.com",
			subject: "Lines",
			body:    "first line\nsecond line",
		},
	}

	dec := new(mime.WordDecoder)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := renderMessage(t, tt.from, tt.to, tt.subject, tt.body)

			subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
			assert.Equal(t, tt.from, msg.Header.Get("From"))
			assert.Equal(t, tt.to, msg.Header.Get("To"))

			mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
			require.NoError(t, err)
			assert.Equal(t, "text/plain", mediaType)
			assert.True(t, strings.EqualFold(params["charset"], "utf-8"))

			body := strings.ReplaceAll(decodedBody(t, msg), "\r\n", "\n")
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestNewMessage_MessageID(t *testing.T) {
	first := renderMessage(t, "sender@example.com", "to@example.com", "s", "b")
	second := renderMessage(t, "sender@example.com", "to@example.com", "s", "b")

	id := first.Header.Get("Message-ID")
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))
	assert.NotEqual(t, id, second.Header.Get("Message-ID"), "each message gets its own id")
}

func TestMessageID_Domain(t *testing.T) {
	tests := []struct {
		from   string
		suffix string
	}{
		{from: "a@mail.example.org", suffix: "@mail.example.org>"},
		{from: "Someone <a@example.net>", suffix: "@example.net>"},
		{from: "no-at-sign", suffix: "@localhost>"},
		{from: "trailing@", suffix: "@localhost>"},
	}
	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.True(t, strings.HasSuffix(messageID(tt.from), tt.suffix), messageID(tt.from))
		})
	}
}
