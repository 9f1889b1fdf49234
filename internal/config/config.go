package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath = ".env"
	DefaultSMTPHost   = "smtp.gmail.com"
	DefaultSMTPPort   = 587
	DefaultLogLevel   = "error"

	// PasswordKey is the only key read from the credential file.
	PasswordKey = "pass"
)

// Config holds everything a single send needs. The credential is loaded into
// Mail.Password by Load; nothing is kept in process-wide state.
type Config struct {
	// ConfigPath is the dotenv file holding the SMTP credential.
	ConfigPath string
	Mail       struct {
		SenderAddress      string
		SMTPHost           string
		SMTPPort           int
		Password           string
		CAFile             string
		InsecureSkipVerify bool
		Timeout            time.Duration
	}
	Logging struct {
		Dir   string
		Level string
	}
	// LegacyExit reports send failures on stdout and exits 0.
	LegacyExit bool
}

// Load applies defaults to cfg, reads the credential from cfg.ConfigPath and
// validates the result.
func Load(cfg Config) (Config, error) {
	// Apply defaults
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = DefaultConfigPath
	}
	if cfg.Mail.SMTPHost == "" {
		cfg.Mail.SMTPHost = DefaultSMTPHost
	}
	if cfg.Mail.SMTPPort == 0 {
		cfg.Mail.SMTPPort = DefaultSMTPPort
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	// Load credential
	password, err := ReadPassword(cfg.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Mail.Password = password

	// Validate required settings
	missing := []string{}
	if strings.TrimSpace(cfg.Mail.SenderAddress) == "" {
		missing = append(missing, "sender_address")
	}
	if cfg.Mail.Password == "" {
		missing = append(missing, PasswordKey)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}
	if cfg.Mail.SMTPPort < 1 || cfg.Mail.SMTPPort > 65535 {
		return Config{}, fmt.Errorf("invalid smtp_port %d", cfg.Mail.SMTPPort)
	}
	if cfg.Mail.Timeout < 0 {
		return Config{}, fmt.Errorf("invalid timeout %s", cfg.Mail.Timeout)
	}

	return cfg, nil
}

// ReadPassword returns the value of the pass key in the dotenv file at path.
// Other keys in the file are ignored, and the process environment is left
// untouched.
func ReadPassword(path string) (string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", path, err)
	}
	return values[PasswordKey], nil
}
