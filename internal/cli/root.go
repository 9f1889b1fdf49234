package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mail-sender/internal/config"
	"mail-sender/internal/exitcode"
	"mail-sender/internal/logging"
	"mail-sender/internal/models"
	"mail-sender/internal/notification"
)

// DefaultSender is the sender address fixed at build time:
//
//	go build -ldflags "-X mail-sender/internal/cli.DefaultSender=me@example.com" ./cmd
var DefaultSender = ""

// NewRootCommand builds the mailsend command. Flag defaults fall back to
// MAILSEND_* environment variables; a variable that does not parse is a
// configuration error unless its flag is given explicitly.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var cfg config.Config
	env := &envDefaults{invalid: map[string]error{}}

	cmd := &cobra.Command{
		Use:   "mailsend [flags] <subject> <body> <recipient-address>",
		Short: "Send a plain-text email through an SMTP relay",
		Long: "Send a single plain-text email through an SMTP relay using STARTTLS.\n" +
			"The SMTP password is read from the \"pass\" key of a dotenv file.",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 3 {
				return exitcode.Wrap(exitcode.Usage, fmt.Errorf("expected 3 arguments (subject, body, recipient), got %d", len(args)))
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.err(cmd.Flags().Changed); err != nil {
				fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
				return exitcode.Wrap(exitcode.ConfigError, err)
			}
			return run(cmd.Context(), cfg, args, stdout, stderr)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitcode.Wrap(exitcode.Usage, err)
	})

	flags := cmd.Flags()
	flags.StringVar(&cfg.ConfigPath, "config", envString("MAILSEND_CONFIG", config.DefaultConfigPath), "Path to the dotenv file holding the SMTP password")
	flags.StringVar(&cfg.Mail.SenderAddress, "sender", envString("MAILSEND_SENDER", DefaultSender), "Sender address, also used as the SMTP username")
	flags.StringVar(&cfg.Mail.SMTPHost, "smtp-host", envString("MAILSEND_SMTP_HOST", config.DefaultSMTPHost), "SMTP relay host")
	flags.IntVar(&cfg.Mail.SMTPPort, "smtp-port", env.int("smtp-port", "MAILSEND_SMTP_PORT", config.DefaultSMTPPort), "SMTP relay submission port")
	flags.StringVar(&cfg.Mail.CAFile, "ca-file", envString("MAILSEND_CA_FILE", ""), "Extra PEM certificates to trust for the relay")
	flags.BoolVar(&cfg.Mail.InsecureSkipVerify, "insecure-skip-verify", env.bool("insecure-skip-verify", "MAILSEND_INSECURE_SKIP_VERIFY", false), "Skip relay certificate verification")
	flags.DurationVar(&cfg.Mail.Timeout, "timeout", env.duration("timeout", "MAILSEND_TIMEOUT", 0), "Dial timeout, 0 for the system default")
	flags.StringVar(&cfg.Logging.Dir, "log-dir", envString("MAILSEND_LOG_DIR", ""), "Write logs to a rotated file in this directory instead of stderr")
	flags.StringVar(&cfg.Logging.Level, "log-level", envString("MAILSEND_LOG_LEVEL", config.DefaultLogLevel), "Log level: debug, info, warn, error")
	flags.BoolVar(&cfg.LegacyExit, "legacy-exit", env.bool("legacy-exit", "MAILSEND_LEGACY_EXIT", false), "Print send failures to stdout and exit 0")

	return cmd
}

// Execute runs the command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		args = []string{}
	}
	cmd := NewRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	code := exitcode.FromError(err)
	if code == exitcode.Usage {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return code
}

func run(ctx context.Context, flags config.Config, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return exitcode.Wrap(exitcode.ConfigError, err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return exitcode.Wrap(exitcode.ConfigError, err)
	}
	defer logger.Close()

	msg := models.EmailMessage{
		Subject: args[0],
		Body:    args[1],
		From:    cfg.Mail.SenderAddress,
		To:      args[2],
	}

	svc := notification.New(logger, cfg)
	if err := svc.Dispatch(ctx, msg); err != nil {
		if cfg.LegacyExit {
			fmt.Fprintf(stdout, "Error sending email: %v\n", err)
			return nil
		}
		fmt.Fprintf(stderr, "Error sending email: %v\n", err)
		return exitcode.Wrap(exitcode.SendError, err)
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// envDefaults parses typed MAILSEND_* variables and keeps the ones that do
// not parse, keyed by flag name.
type envDefaults struct {
	invalid map[string]error
}

func (e *envDefaults) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (e *envDefaults) int(flag, key string, fallback int) int {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.invalid[flag] = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return fallback
	}
	return n
}

func (e *envDefaults) bool(flag, key string, fallback bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid[flag] = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return fallback
	}
	return b
}

func (e *envDefaults) duration(flag, key string, fallback time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid[flag] = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return fallback
	}
	return d
}

// err reports the invalid variables whose flags were not set on the command line.
func (e *envDefaults) err(changed func(name string) bool) error {
	names := make([]string, 0, len(e.invalid))
	for name := range e.invalid {
		if !changed(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, e.invalid[name])
	}
	return errors.Join(errs...)
}
