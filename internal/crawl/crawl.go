package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/letieu/reddit-trends/config"
	"github.com/letieu/reddit-trends/internal/database"
	"github.com/letieu/reddit-trends/internal/history"
	"github.com/letieu/reddit-trends/internal/notify"
	"github.com/letieu/reddit-trends/internal/record"
	"github.com/letieu/reddit-trends/internal/reddit"
)

type Source interface {
	FetchTop(ctx context.Context, q reddit.Query) ([]reddit.RawPost, error)
}

type Store interface {
	Load(path string) ([]record.Record, error)
	Save(path string, records []record.Record) error
}

// Mirror receives the merged dataset after every successful save.
type Mirror interface {
	UpsertRecords(ctx context.Context, records []record.Record) error
}

// Publisher announces posts that were not in the history before this run.
type Publisher interface {
	Publish(ctx context.Context, forum string, records []record.Record) error
}

type Crawler struct {
	config    *config.Config
	source    Source
	store     Store
	clock     record.Clock
	mirror    Mirror
	publisher Publisher
	closers   []func() error
}

type Option func(*Crawler)

func WithClock(clock record.Clock) Option {
	return func(c *Crawler) { c.clock = clock }
}

func WithMirror(m Mirror) Option {
	return func(c *Crawler) { c.mirror = m }
}

func WithPublisher(p Publisher) Option {
	return func(c *Crawler) { c.publisher = p }
}

// Summary describes one completed run.
type Summary struct {
	Fetched int
	New     int
	Total   int
	Path    string
}

func New(cfg *config.Config, source Source, store Store, opts ...Option) *Crawler {
	c := &Crawler{
		config: cfg,
		source: source,
		store:  store,
		clock:  record.SystemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig wires the post source, the CSV store on the local filesystem and
// the optional SQL mirror and NATS publisher.
func FromConfig(ctx context.Context, cfg *config.Config) (*Crawler, error) {
	source, err := newSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var opts []Option
	var closers []func() error

	if cfg.Database.URL != "" {
		db, err := database.Open(cfg.Database.URL, cfg.Database.Token)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		opts = append(opts, WithMirror(db))
		closers = append(closers, db.Close)
	}

	if cfg.NATS.URL != "" {
		pub, closeConn, err := notify.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			for _, closeFn := range closers {
				closeFn()
			}
			return nil, err
		}
		opts = append(opts, WithPublisher(pub))
		closers = append(closers, func() error { closeConn(); return nil })
	}

	c := New(cfg, source, history.NewStore(afero.NewOsFs()), opts...)
	c.closers = closers
	return c, nil
}

func newSource(ctx context.Context, cfg *config.Config) (Source, error) {
	rc := cfg.Reddit
	opts := reddit.Options{
		UserAgent:  rc.UserAgent,
		Timeout:    rc.Timeout,
		Delay:      rc.Delay,
		MaxRetries: rc.MaxRetries,
		RetryWait:  rc.RetryWait,
	}

	if rc.Source == config.SourceOAuth {
		if rc.Transport == config.TransportTLS {
			slog.Warn("TLS transport is not available for the oauth source, using net/http")
		}
		opts.BaseURL = rc.OAuthURL
		return reddit.NewOAuthClient(ctx, opts, reddit.Credentials{
			ClientID:     rc.ClientID,
			ClientSecret: rc.ClientSecret,
			TokenURL:     rc.TokenURL,
		}), nil
	}

	opts.BaseURL = rc.BaseURL
	if rc.Transport == config.TransportTLS {
		doer, err := reddit.NewTLSDoer(rc.Timeout)
		if err != nil {
			return nil, err
		}
		opts.Doer = doer
	}
	return reddit.NewPublicClient(opts), nil
}

func (c *Crawler) Close() error {
	var first error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run fetches the configured listing and merges it into the dataset. Fetch
// and extraction errors abort before the dataset is touched.
func (c *Crawler) Run(ctx context.Context) (Summary, error) {
	rc := c.config.Reddit
	path := c.config.Store.Path
	summary := Summary{Path: path}

	slog.Info("Crawling subreddit", "forum", rc.Forum, "time_filter", rc.TimeFilter, "limit", rc.Limit)
	raws, err := c.source.FetchTop(ctx, reddit.Query{
		Forum:  rc.Forum,
		Window: reddit.TimeWindow(rc.TimeFilter),
		Limit:  rc.Limit,
	})
	if err != nil {
		return summary, fmt.Errorf("fetch r/%s: %w", rc.Forum, err)
	}
	summary.Fetched = len(raws)

	var scrapedAt time.Time
	if c.config.Store.StampScrapedAt {
		scrapedAt = c.clock()
	}
	incoming, err := record.ExtractAll(raws, scrapedAt)
	if err != nil {
		return summary, fmt.Errorf("extract r/%s: %w", rc.Forum, err)
	}

	existing, err := c.store.Load(path)
	if err != nil {
		return summary, err
	}

	fresh := history.NewPermalinks(existing, incoming)
	merged := history.Merge(existing, incoming)
	if err := c.store.Save(path, merged); err != nil {
		return summary, err
	}
	summary.New = len(fresh)
	summary.Total = len(merged)
	slog.Info("Merged history", "path", path, "fetched", summary.Fetched, "new", summary.New, "total", summary.Total)

	if c.mirror != nil {
		if err := c.mirror.UpsertRecords(ctx, merged); err != nil {
			return summary, fmt.Errorf("mirror dataset: %w", err)
		}
		slog.Debug("Mirrored dataset", "records", len(merged))
	}

	if c.publisher != nil && len(fresh) > 0 {
		if err := c.publisher.Publish(ctx, rc.Forum, fresh); err != nil {
			slog.Warn("Failed to publish new posts", "forum", rc.Forum, "error", err)
		} else {
			slog.Info("Published new posts", "forum", rc.Forum, "posts", len(fresh))
		}
	}

	return summary, nil
}
