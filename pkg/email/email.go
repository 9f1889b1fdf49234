package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Dialer submits messages to a single SMTP relay. Every session is upgraded
// with STARTTLS before credentials or message data are sent.
type Dialer struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLSConfig is used for the STARTTLS upgrade. ServerName defaults to Host.
	TLSConfig *tls.Config

	// Timeout bounds the TCP dial. Zero leaves it to the operating system.
	Timeout time.Duration
}

// Send renders msg and submits it in one SMTP session. from and to are
// envelope addresses. The connection is closed on every return path, and
// when ctx is cancelled mid-session.
func (d *Dialer) Send(ctx context.Context, from string, to []string, msg io.WriterTo) error {
	var raw bytes.Buffer
	if _, err := msg.WriteTo(&raw); err != nil {
		return &Error{Op: OpCompose, Err: err}
	}

	fail := func(op Op, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &Error{Op: op, Err: err}
	}

	addr := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	nd := &net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail(OpConnect, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	c, err := smtp.NewClientStartTLS(conn, d.tlsConfig())
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "doesn't support STARTTLS") {
			err = ErrSTARTTLSNotOffered
		}
		return fail(OpStartTLS, err)
	}
	defer c.Close()
	// Runs the handshake and post-TLS EHLO so certificate errors surface as starttls.
	if err := c.Noop(); err != nil {
		return fail(OpStartTLS, err)
	}

	if d.Username != "" {
		var auth sasl.Client
		switch {
		case c.SupportsAuth(sasl.Plain):
			auth = sasl.NewPlainClient("", d.Username, d.Password)
		case c.SupportsAuth(sasl.Login):
			auth = sasl.NewLoginClient(d.Username, d.Password)
		default:
			return fail(OpAuth, ErrAuthNotOffered)
		}
		if err := c.Auth(auth); err != nil {
			return fail(OpAuth, err)
		}
	}

	if err := c.SendMail(from, to, bytes.NewReader(raw.Bytes())); err != nil {
		return fail(OpTransmit, err)
	}

	// The relay has already accepted the message; a failed QUIT does not undo that.
	_ = c.Quit()
	return nil
}

func (d *Dialer) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = d.Host
	}
	return cfg
}

// BareAddress strips a display name ("Friend <friend@example.com>") down
// to the bare address. Anything net/mail cannot parse is passed through and
// left for the relay to judge.
func BareAddress(s string) string {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return s
	}
	return a.Address
}

// Send composes a plain-text message from the given fields and submits it
// through d to a single recipient. Headers keep from and to verbatim; the
// envelope uses their bare addresses.
func Send(ctx context.Context, d *Dialer, from, to, subject, body string) error {
	msg := NewMessage(from, to, subject, body)
	return d.Send(ctx, BareAddress(from), []string{BareAddress(to)}, msg)
}
