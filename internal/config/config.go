package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	libconfig "powerlog/libs/config"

	"powerlog/internal/anchor"
)

// ErrUsage marks invalid command line arguments.
var ErrUsage = errors.New("config: usage")

const stdStream = "-"

// Config defines converter configuration.
type Config struct {
	Input       string `yaml:"-" env:"-"`
	Output      string `yaml:"output" env:"POWERLOG_OUTPUT"`
	Timezone    string `yaml:"timezone" env:"POWERLOG_TIMEZONE"`
	ShowVersion bool   `yaml:"-" env:"-"`

	Log     LogConfig     `yaml:"log"`
	Export  ExportConfig  `yaml:"export"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig selects the log encoding.
type LogConfig struct {
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// ExportConfig enables copying samples into databases.
type ExportConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"POWERLOG_POSTGRES_DSN"`
	SQLitePath  string `yaml:"sqlite_path" env:"POWERLOG_SQLITE_PATH"`
}

// RedisConfig enables the run summary cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"POWERLOG_REDIS_ADDR"`
	Password string        `yaml:"password" env:"POWERLOG_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"POWERLOG_REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"POWERLOG_REDIS_TTL"`
}

// MetricsConfig enables metrics export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" env:"POWERLOG_PUSHGATEWAY_URL"`
	Job            string `yaml:"job" env:"POWERLOG_METRICS_JOB"`
	Textfile       string `yaml:"textfile" env:"POWERLOG_METRICS_TEXTFILE"`
}

func defaults() *Config {
	return &Config{
		Timezone: anchor.DefaultTimezone,
		Log:      LogConfig{Format: "console"},
		Redis:    RedisConfig{TTL: 7 * 24 * time.Hour},
		Metrics:  MetricsConfig{Job: "powerlog_converter"},
	}
}

// Load builds the configuration from defaults, the optional config file, environment
// and finally the command line arguments (without the program name).
func Load(args []string, stderr io.Writer) (*Config, error) {
	cfg := defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args, stderr); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("powerlog-converter", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var output, timezone string
	fs.StringVar(&output, "o", "", "Set output file name (default: stdout)")
	fs.StringVar(&output, "output", "", "Set output file name (default: stdout)")
	fs.StringVar(&timezone, "t", "", "Set applicable time zone (default: "+anchor.DefaultTimezone+")")
	fs.StringVar(&timezone, "timezone", "", "Set applicable time zone (default: "+anchor.DefaultTimezone+")")
	fs.BoolVar(&c.ShowVersion, "V", false, "Print version")
	fs.BoolVar(&c.ShowVersion, "version", false, "Print version")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Converter for DC power logger\n\n")
		fmt.Fprintf(stderr, "Usage: powerlog-converter [options] <input file>\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fmt.Fprintf(stderr, "  -o, --output FILE\n")
		fmt.Fprintf(stderr, "         Set output file name (default: stdout)\n")
		fmt.Fprintf(stderr, "  -t, --timezone ZONE-NAME\n")
		fmt.Fprintf(stderr, "         Set applicable time zone (default: %s)\n", anchor.DefaultTimezone)
		fmt.Fprintf(stderr, "  -V, --version\n")
		fmt.Fprintf(stderr, "         Print version\n")
	}

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o", "output":
			c.Output = output
		case "t", "timezone":
			c.Timezone = timezone
		}
	})

	switch len(positional) {
	case 0:
		if !c.ShowVersion {
			fs.Usage()
			return fmt.Errorf("%w: input file not specified", ErrUsage)
		}
	case 1:
		c.Input = positional[0]
	default:
		fs.Usage()
		return fmt.Errorf("%w: unexpected arguments %q", ErrUsage, positional[1:])
	}
	return nil
}

// parseInterspersed parses args allowing options after positional arguments, which
// flag.FlagSet.Parse alone stops at. Everything after "--" is positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if consumed := args[:len(args)-len(rest)]; len(consumed) > 0 && consumed[len(consumed)-1] == "--" {
			return append(positional, rest...), nil
		}
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return fmt.Errorf("%w: input file not specified", ErrUsage)
	}
	if c.Redis.TTL < 0 {
		return errors.New("config: redis ttl must not be negative")
	}
	if c.Metrics.PushgatewayURL != "" && strings.TrimSpace(c.Metrics.Job) == "" {
		return errors.New("config: metrics job required for pushgateway")
	}
	return nil
}

// InputIsStdin reports whether the input is read from standard input.
func (c *Config) InputIsStdin() bool {
	return c.Input == stdStream
}

// OutputIsStdout reports whether CSV goes to standard output.
func (c *Config) OutputIsStdout() bool {
	return c.Output == "" || c.Output == stdStream
}
