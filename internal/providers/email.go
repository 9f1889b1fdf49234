package providers

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"mail-sender/internal/config"
	"mail-sender/internal/models"
	"mail-sender/pkg/email"
)

// SendEmail submits msg through the relay in cfg, authenticating as the
// sender address with cfg.Mail.Password. It makes exactly one attempt.
func SendEmail(ctx context.Context, msg models.EmailMessage, cfg config.Config) error {
	smtpServer := cfg.Mail.SMTPHost
	smtpPort := cfg.Mail.SMTPPort
	password := cfg.Mail.Password

	if smtpServer == "" || smtpPort == 0 || msg.From == "" || password == "" {
		return fmt.Errorf("missing Email configuration: SMTPHost, SMTPPort, SenderAddress, or Password is empty")
	}

	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return err
	}

	d := &email.Dialer{
		Host:      smtpServer,
		Port:      smtpPort,
		Username:  email.BareAddress(msg.From),
		Password:  password,
		TLSConfig: tlsCfg,
		Timeout:   cfg.Mail.Timeout,
	}
	if err := email.Send(ctx, d, msg.From, msg.To, msg.Subject, msg.Body); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	return nil
}

func tlsConfig(cfg config.Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		ServerName: cfg.Mail.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.Mail.InsecureSkipVerify {
		tlsCfg.InsecureSkipVerify = true
	}
	if cfg.Mail.CAFile == "" {
		return tlsCfg, nil
	}

	pem, err := os.ReadFile(cfg.Mail.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file %s: %w", cfg.Mail.CAFile, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA file %s", cfg.Mail.CAFile)
	}
	tlsCfg.RootCAs = pool
	return tlsCfg, nil
}
