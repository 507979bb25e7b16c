package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Address   string  `mapstructure:"run_address"`
	DBDsn     string  `mapstructure:"database_uri"`
	Backend   string  `mapstructure:"store_backend"`
	BoltPath  string  `mapstructure:"bolt_path"`
	RacesFile string  `mapstructure:"races_file"`
	EventName string  `mapstructure:"event_name"`
	Currency  string  `mapstructure:"currency"`
	FeeRate   float64 `mapstructure:"fee_rate"`
	JWTSecret string  `mapstructure:"jwt_secret"`

	RazorpayKeyID         string `mapstructure:"razorpay_key_id"`
	RazorpayKeySecret     string `mapstructure:"razorpay_key_secret"`
	RazorpayWebhookSecret string `mapstructure:"razorpay_webhook_secret"`
	RazorpayBaseURL       string `mapstructure:"razorpay_base_url"`

	MailTransport string `mapstructure:"mail_transport"`
	MailFrom      string `mapstructure:"mail_from"`
	SMTPHost      string `mapstructure:"smtp_host"`
	SMTPPort      int    `mapstructure:"smtp_port"`
	SMTPUser      string `mapstructure:"smtp_user"`
	SMTPPass      string `mapstructure:"smtp_pass"`
	ResendAPIKey  string `mapstructure:"resend_api_key"`
	ResendBaseURL string `mapstructure:"resend_base_url"`

	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	NotifyWorkers int           `mapstructure:"notify_workers"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	OrderTTL      time.Duration `mapstructure:"order_ttl"`
}

var (
	ErrAddressEmpty       = errors.New("run_address is an empty string")
	ErrDBDsnEmpty         = errors.New("database_uri is an empty string")
	ErrBoltPathEmpty      = errors.New("bolt_path is an empty string")
	ErrUnknownBackend     = errors.New("store_backend must be postgres or bolt")
	ErrRazorpayKeys       = errors.New("razorpay_key_id and razorpay_key_secret are required")
	ErrWebhookSecretEmpty = errors.New("razorpay_webhook_secret is an empty string")
	ErrJWTSecretEmpty     = errors.New("jwt_secret is an empty string")
	ErrFeeRate            = errors.New("fee_rate must be in [0, 1)")
	ErrUnknownTransport   = errors.New("mail_transport must be smtp, resend or log")
	ErrSMTPHostEmpty      = errors.New("smtp_host is an empty string")
	ErrResendKeyEmpty     = errors.New("resend_api_key is an empty string")
	ErrMailFromEmpty      = errors.New("mail_from is an empty string")
	ErrIntervals          = errors.New("notify_workers, sweep_interval and order_ttl must be positive")
)

func defaults(v *viper.Viper) {
	v.SetDefault("run_address", "localhost:8080")
	v.SetDefault("database_uri", "")
	v.SetDefault("store_backend", "postgres")
	v.SetDefault("bolt_path", "racereg.db")
	v.SetDefault("races_file", "")
	v.SetDefault("event_name", "City Run")
	v.SetDefault("currency", "INR")
	v.SetDefault("fee_rate", 0.0236)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("razorpay_key_id", "")
	v.SetDefault("razorpay_key_secret", "")
	v.SetDefault("razorpay_webhook_secret", "")
	v.SetDefault("razorpay_base_url", "https://api.razorpay.com")
	v.SetDefault("mail_transport", "log")
	v.SetDefault("mail_from", "")
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_pass", "")
	v.SetDefault("resend_api_key", "")
	v.SetDefault("resend_base_url", "https://api.resend.com")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("notify_workers", 4)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("order_ttl", 30*time.Minute)
}

// Flags registers the command line overrides understood by Load.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("address", "a", "", "Service address and port")
	fs.StringP("database", "d", "", "The database connection")
	fs.String("backend", "", "Store backend: postgres or bolt")
	fs.String("bolt-path", "", "BoltDB file used by the bolt backend")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("config", "", "Optional YAML config file")
}

var flagKeys = map[string]string{
	"address":   "run_address",
	"database":  "database_uri",
	"backend":   "store_backend",
	"bolt-path": "bolt_path",
	"log-level": "log_level",
}

// Load merges defaults, the optional config file, the environment and the
// flags, in increasing priority. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	v.AllowEmptyEnv(false)

	if fs != nil {
		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// CheckStore validates what every command touching the store needs.
func (cfg *Config) CheckStore() error {
	switch cfg.Backend {
	case "postgres":
		if len(cfg.DBDsn) == 0 {
			return ErrDBDsnEmpty
		}
	case "bolt":
		if len(cfg.BoltPath) == 0 {
			return ErrBoltPathEmpty
		}
	default:
		return ErrUnknownBackend
	}
	return nil
}

// Check validates the full server configuration and reports every problem.
func (cfg *Config) Check() error {
	var errs []error

	if len(cfg.Address) == 0 {
		errs = append(errs, ErrAddressEmpty)
	}
	if err := cfg.CheckStore(); err != nil {
		errs = append(errs, err)
	}
	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
		errs = append(errs, ErrRazorpayKeys)
	}
	if cfg.RazorpayWebhookSecret == "" {
		errs = append(errs, ErrWebhookSecretEmpty)
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, ErrJWTSecretEmpty)
	}
	if cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		errs = append(errs, ErrFeeRate)
	}
	switch cfg.MailTransport {
	case "log":
	case "smtp":
		if cfg.SMTPHost == "" {
			errs = append(errs, ErrSMTPHostEmpty)
		}
		if cfg.MailFrom == "" {
			errs = append(errs, ErrMailFromEmpty)
		}
	case "resend":
		if cfg.ResendAPIKey == "" {
			errs = append(errs, ErrResendKeyEmpty)
		}
		if cfg.MailFrom == "" {
			errs = append(errs, ErrMailFromEmpty)
		}
	default:
		errs = append(errs, ErrUnknownTransport)
	}
	if cfg.NotifyWorkers <= 0 || cfg.SweepInterval <= 0 || cfg.OrderTTL <= 0 {
		errs = append(errs, ErrIntervals)
	}
	return errors.Join(errs...)
}
