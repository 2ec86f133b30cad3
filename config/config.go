package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/letieu/reddit-trends/internal/history"
)

const (
	SourcePublic = "public"
	SourceOAuth  = "oauth"

	TransportHTTP = "http"
	TransportTLS  = "tls"
)

type Config struct {
	Reddit struct {
		Forum        string `validate:"required"`
		TimeFilter   string `validate:"oneof=hour day week month year all"`
		Limit        int    `validate:"min=1,max=100"`
		Source       string `validate:"oneof=public oauth"`
		Transport    string `validate:"oneof=http tls"`
		UserAgent    string `validate:"required"`
		Timeout      time.Duration
		Delay        time.Duration
		MaxRetries   int `validate:"gte=0"`
		RetryWait    time.Duration
		BaseURL      string `validate:"required,url"`
		OAuthURL     string `validate:"required,url"`
		TokenURL     string `validate:"required,url"`
		ClientID     string `validate:"required_if=Source oauth"`
		ClientSecret string `validate:"required_if=Source oauth"`
	}
	Store struct {
		Path           string `validate:"required"`
		StampScrapedAt bool
	}
	Database struct {
		URL   string
		Token string
	}
	NATS struct {
		URL     string
		Subject string `validate:"required"`
	}
	Log struct {
		Level  string `validate:"oneof=debug info warn error"`
		Format string `validate:"oneof=text json"`
	}
}

// Flags returns the command line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("forum", "golf", "subreddit to fetch")
	flags.String("time-filter", "day", "time window: hour, day, week, month, year or all")
	flags.Int("limit", 50, "number of posts to request (max 100)")
	flags.String("source", SourcePublic, "post source: public or oauth")
	flags.String("transport", TransportHTTP, "http transport: http or tls")
	flags.StringP("output", "o", "", "CSV dataset path (default reddit_<forum>_trends.csv)")
	flags.String("nats", "", "NATS server url for new post notifications")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	return flags
}

var flagKeys = map[string]string{
	"forum":       "reddit.forum",
	"time-filter": "reddit.time_filter",
	"limit":       "reddit.limit",
	"source":      "reddit.source",
	"transport":   "reddit.transport",
	"output":      "store.path",
	"nats":        "nats.url",
	"log-level":   "log.level",
}

// Load reads configuration from flags, the environment, an optional .env file
// and an optional config.yaml, in that order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("TRENDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Read config file (optional - will use env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}

	// Reddit config
	cfg.Reddit.Forum = strings.TrimSpace(v.GetString("reddit.forum"))
	cfg.Reddit.TimeFilter = strings.ToLower(v.GetString("reddit.time_filter"))
	cfg.Reddit.Limit = v.GetInt("reddit.limit")
	cfg.Reddit.Source = strings.ToLower(v.GetString("reddit.source"))
	cfg.Reddit.Transport = strings.ToLower(v.GetString("reddit.transport"))
	cfg.Reddit.UserAgent = v.GetString("reddit.user_agent")
	cfg.Reddit.Timeout = v.GetDuration("reddit.timeout")
	cfg.Reddit.Delay = v.GetDuration("reddit.delay")
	cfg.Reddit.MaxRetries = v.GetInt("reddit.max_retries")
	cfg.Reddit.RetryWait = v.GetDuration("reddit.retry_wait")
	cfg.Reddit.BaseURL = v.GetString("reddit.base_url")
	cfg.Reddit.OAuthURL = v.GetString("reddit.oauth_url")
	cfg.Reddit.TokenURL = v.GetString("reddit.token_url")
	cfg.Reddit.ClientID = v.GetString("reddit.client_id")
	cfg.Reddit.ClientSecret = v.GetString("reddit.client_secret")

	// Store config
	cfg.Store.Path = v.GetString("store.path")
	if cfg.Store.Path == "" && cfg.Reddit.Forum != "" {
		cfg.Store.Path = history.DefaultPath(cfg.Reddit.Forum)
	}
	cfg.Store.StampScrapedAt = v.GetBool("store.stamp_scraped_at")

	// Database config
	cfg.Database.URL = v.GetString("database.url")
	cfg.Database.Token = v.GetString("database.token")

	// NATS config
	cfg.NATS.URL = v.GetString("nats.url")
	cfg.NATS.Subject = v.GetString("nats.subject")

	// Log config
	cfg.Log.Level = strings.ToLower(v.GetString("log.level"))
	cfg.Log.Format = strings.ToLower(v.GetString("log.format"))

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Reddit defaults
	v.SetDefault("reddit.forum", "golf")
	v.SetDefault("reddit.time_filter", "day")
	v.SetDefault("reddit.limit", 50)
	v.SetDefault("reddit.source", SourcePublic)
	v.SetDefault("reddit.transport", TransportHTTP)
	v.SetDefault("reddit.user_agent", "linux:reddit-trends:v1.0.0 (by /u/reddit-trends)")
	v.SetDefault("reddit.timeout", 30*time.Second)
	v.SetDefault("reddit.delay", 2*time.Second)
	v.SetDefault("reddit.max_retries", 2)
	v.SetDefault("reddit.retry_wait", time.Second)
	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.oauth_url", "https://oauth.reddit.com")
	v.SetDefault("reddit.token_url", "https://www.reddit.com/api/v1/access_token")
	v.SetDefault("reddit.client_id", "")
	v.SetDefault("reddit.client_secret", "")

	// Store defaults
	v.SetDefault("store.path", "")
	v.SetDefault("store.stamp_scraped_at", true)

	v.SetDefault("database.url", "")
	v.SetDefault("database.token", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "reddit.trends")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindEnv adds the unprefixed variable names used by existing deployments.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"reddit.client_id":     {"TRENDS_REDDIT_CLIENT_ID", "CLIENT_ID", "REDDIT_CLIENT_ID"},
		"reddit.client_secret": {"TRENDS_REDDIT_CLIENT_SECRET", "CLIENT_SECRET", "REDDIT_CLIENT_SECRET"},
		"database.url":         {"TRENDS_DATABASE_URL", "DATABASE_URL"},
		"database.token":       {"TRENDS_DATABASE_TOKEN", "DATABASE_TOKEN"},
		"nats.url":             {"TRENDS_NATS_URL", "NATS_URL"},
	}
	for key, names := range bindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: invalid value %v (%s=%s)", fe.Namespace(), fe.Value(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
