package crawl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/letieu/reddit-trends/config"
	"github.com/letieu/reddit-trends/internal/history"
	"github.com/letieu/reddit-trends/internal/record"
	"github.com/letieu/reddit-trends/internal/reddit"
)

func ptr[T any](v T) *T { return &v }

func raw(path string, ups int, author *string) reddit.RawPost {
	p := reddit.RawPost{
		Title:       ptr("post " + path),
		Ups:         ptr(ups),
		NumComments: ptr(1),
		Author:      reddit.NullString{Set: true},
		Permalink:   ptr(path),
		CreatedUTC:  ptr(1700000000.0),
	}
	if author != nil {
		p.Author.Value, p.Author.Valid = *author, true
	}
	return p
}

type fakeSource struct {
	posts []reddit.RawPost
	err   error
	query reddit.Query
}

func (f *fakeSource) FetchTop(ctx context.Context, q reddit.Query) ([]reddit.RawPost, error) {
	f.query = q
	return f.posts, f.err
}

type fakeMirror struct {
	records []record.Record
	err     error
}

func (f *fakeMirror) UpsertRecords(ctx context.Context, records []record.Record) error {
	f.records = records
	return f.err
}

type fakePublisher struct {
	forum   string
	records []record.Record
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, forum string, records []record.Record) error {
	f.forum = forum
	f.records = records
	return f.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Reddit.Forum = "golf"
	cfg.Reddit.TimeFilter = "day"
	cfg.Reddit.Limit = 50
	cfg.Store.Path = "reddit_golf_trends.csv"
	cfg.Store.StampScrapedAt = true
	return cfg
}

func fixedClock(t time.Time) record.Clock {
	return func() time.Time { return t }
}

func TestRun_NoExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &fakeSource{posts: []reddit.RawPost{
		raw("/r/golf/a", 1, ptr("x")),
		raw("/r/golf/b", 2, ptr("y")),
		raw("/r/golf/c", 3, ptr("z")),
	}}
	c := New(testConfig(), src, history.NewStore(fs),
		WithClock(fixedClock(time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC))))

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary != (Summary{Fetched: 3, New: 3, Total: 3, Path: "reddit_golf_trends.csv"}) {
		t.Errorf("unexpected summary %+v", summary)
	}
	if src.query != (reddit.Query{Forum: "golf", Window: reddit.Day, Limit: 50}) {
		t.Errorf("unexpected query %+v", src.query)
	}

	data, err := afero.ReadFile(fs, "reddit_golf_trends.csv")
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got:\n%s", data)
	}
	if !strings.HasSuffix(lines[1], ",2026-10-17 08:00:00") {
		t.Errorf("expected shared scraped_at on every row, got %q", lines[1])
	}
}

func TestRun_MergesWithHistory(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := history.NewStore(fs)
	if err := store.Save("reddit_golf_trends.csv", []record.Record{{
		Title: "post /r/golf/a", Upvotes: 10, Comments: 1, Author: "x",
		Permalink: "https://www.reddit.com/r/golf/a", CreatedUTC: "2023-11-14 22:13:20", ScrapedAt: "2026-10-16 08:00:00",
	}}); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{posts: []reddit.RawPost{
		raw("/r/golf/a", 77, ptr("x")),
		raw("/r/golf/b", 5, ptr("y")),
	}}
	pub := &fakePublisher{}
	c := New(testConfig(), src, store,
		WithClock(fixedClock(time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC))),
		WithPublisher(pub))

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 2 || summary.New != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	got, err := store.Load("reddit_golf_trends.csv")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for _, r := range got {
		if r.Permalink == "https://www.reddit.com/r/golf/a" && r.Upvotes != 77 {
			t.Errorf("expected the later scrape to win, got %+v", r)
		}
	}

	if pub.forum != "golf" || len(pub.records) != 1 || pub.records[0].Permalink != "https://www.reddit.com/r/golf/b" {
		t.Errorf("expected only /r/golf/b to be published, got %s %+v", pub.forum, pub.records)
	}
}

func TestRun_NullAuthor(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := history.NewStore(fs)
	c := New(testConfig(), &fakeSource{posts: []reddit.RawPost{raw("/r/golf/a", 1, nil)}}, store)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := store.Load("reddit_golf_trends.csv")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Author != "None" {
		t.Errorf("expected author None, got %+v", got)
	}
}

func TestRun_WithoutScrapedAt(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testConfig()
	cfg.Store.StampScrapedAt = false
	c := New(cfg, &fakeSource{posts: []reddit.RawPost{raw("/r/golf/a", 1, ptr("x"))}}, history.NewStore(fs))

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, _ := afero.ReadFile(fs, "reddit_golf_trends.csv")
	if !strings.HasPrefix(string(data), "title,upvotes,comments,author,permalink,created_utc\n") {
		t.Errorf("expected no scraped_at column, got:\n%s", data)
	}
}

func TestRun_TooManyRequestsLeavesStoreUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"message": "Too Many Requests", "error": 429}`)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	original := "title,upvotes,comments,author,permalink,created_utc\nold,1,1,a,https://www.reddit.com/r/golf/a,2026-10-16 08:00:00\n"
	if err := afero.WriteFile(fs, "reddit_golf_trends.csv", []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	src := reddit.NewPublicClient(reddit.Options{BaseURL: srv.URL})
	mirror := &fakeMirror{}
	c := New(testConfig(), src, history.NewStore(fs), WithMirror(mirror))

	_, err := c.Run(context.Background())
	var fe *reddit.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected FetchError with status 429, got %v", err)
	}

	data, _ := afero.ReadFile(fs, "reddit_golf_trends.csv")
	if string(data) != original {
		t.Errorf("dataset was modified:\n%s", data)
	}
	if mirror.records != nil {
		t.Error("mirror should not be called after a failed fetch")
	}
}

func TestRun_MalformedPostAborts(t *testing.T) {
	fs := afero.NewMemMapFs()
	bad := raw("/r/golf/b", 1, ptr("y"))
	bad.Permalink = nil
	c := New(testConfig(), &fakeSource{posts: []reddit.RawPost{raw("/r/golf/a", 1, ptr("x")), bad}}, history.NewStore(fs))

	_, err := c.Run(context.Background())
	var me *record.MalformedRecordError
	if !errors.As(err, &me) || me.Field != "permalink" {
		t.Fatalf("expected MalformedRecordError on permalink, got %v", err)
	}
	if exists, _ := afero.Exists(fs, "reddit_golf_trends.csv"); exists {
		t.Error("dataset should not be written after a malformed post")
	}
}

func TestRun_CorruptStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "reddit_golf_trends.csv", []byte("not,a,dataset\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(testConfig(), &fakeSource{posts: []reddit.RawPost{raw("/r/golf/a", 1, ptr("x"))}}, history.NewStore(fs))

	_, err := c.Run(context.Background())
	var ce *history.CorruptStoreError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CorruptStoreError, got %v", err)
	}
}

func TestRun_MirrorReceivesMergedDataset(t *testing.T) {
	mirror := &fakeMirror{}
	c := New(testConfig(), &fakeSource{posts: []reddit.RawPost{
		raw("/r/golf/a", 1, ptr("x")),
		raw("/r/golf/a", 2, ptr("x")),
	}}, history.NewStore(afero.NewMemMapFs()), WithMirror(mirror))

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mirror.records) != 1 || mirror.records[0].Upvotes != 2 {
		t.Errorf("expected one deduplicated record, got %+v", mirror.records)
	}
}

func TestRun_MirrorFailureFailsRunAfterSave(t *testing.T) {
	fs := afero.NewMemMapFs()
	mirror := &fakeMirror{err: errors.New("database is locked")}
	c := New(testConfig(), &fakeSource{posts: []reddit.RawPost{raw("/r/golf/a", 1, ptr("x"))}}, history.NewStore(fs), WithMirror(mirror))

	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected mirror error")
	}
	if exists, _ := afero.Exists(fs, "reddit_golf_trends.csv"); !exists {
		t.Error("dataset should be saved before the mirror runs")
	}
}

func TestRun_PublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	c := New(testConfig(), &fakeSource{posts: []reddit.RawPost{raw("/r/golf/a", 1, ptr("x"))}},
		history.NewStore(afero.NewMemMapFs()), WithPublisher(pub))

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pub.records) != 1 {
		t.Errorf("expected publish attempt, got %+v", pub.records)
	}
}
