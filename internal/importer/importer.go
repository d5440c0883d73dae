// Package importer fills the musical catalog from theater web pages that mark
// up their shows with schema.org Event microdata.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/logger"
	"github.com/mlog-app/mlog-store/internal/records"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "mlog-importer/1.0"
	MaxResponseSize  = 2 * 1024 * 1024
)

// Options tunes the importer. Zero values select the defaults.
type Options struct {
	Parallelism int
	Timeout     time.Duration
	UserAgent   string
}

// PageError reports a page that could not be imported.
type PageError struct {
	URL string
	Err error
}

func (e *PageError) Error() string { return e.URL + ": " + e.Err.Error() }

func (e *PageError) Unwrap() error { return e.Err }

// Result lists what one Import call stored and which pages failed.
type Result struct {
	Musicals []records.Musical
	Failed   []*PageError
}

// Importer fetches pages and stores the musicals found on them.
type Importer struct {
	store kv.KV
	base  *colly.Collector
	opts  Options
	now   func() time.Time
}

// New returns an importer writing to store.
func New(store kv.KV, opts Options) *Importer {
	if opts.Parallelism < 1 {
		opts.Parallelism = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(opts.UserAgent),
		colly.MaxBodySize(MaxResponseSize),
	)
	c.SetRequestTimeout(opts.Timeout)
	return &Importer{store: store, base: c, opts: opts, now: time.Now}
}

// Import fetches every URL, extracts the musicals and stores them with one
// batch write. Pages that fail are listed in Result.Failed; the returned error
// is reserved for cancellation and store failures. Re-importing a page
// replaces the records it produced before.
func (im *Importer) Import(ctx context.Context, urls ...string) (Result, error) {
	found := make([]page, len(urls))
	var (
		mu     sync.Mutex
		failed []*PageError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Parallelism)
	for i, u := range urls {
		g.Go(func() error {
			p, err := im.importPage(gctx, u)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warnf("Import of %s failed: %v", u, err)
				mu.Lock()
				failed = append(failed, &PageError{URL: u, Err: err})
				mu.Unlock()
				return nil
			}
			found[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	res.Failed = failed
	var entries []kv.Entry
	for _, p := range found {
		entries = append(entries, p.entries...)
		res.Musicals = append(res.Musicals, p.musicals...)
	}
	if len(entries) == 0 {
		return res, nil
	}
	if err := im.store.SetMany(ctx, entries); err != nil {
		return Result{}, fmt.Errorf("store imported musicals: %w", err)
	}
	logger.Infof("Imported %d musicals from %d pages (%d failed)", len(res.Musicals), len(urls), len(failed))
	return res, nil
}

// page holds the musicals of one imported URL and their encoded records.
type page struct {
	musicals []records.Musical
	entries  []kv.Entry
}

func (im *Importer) importPage(ctx context.Context, rawURL string) (page, error) {
	ctx, cancel := context.WithTimeout(ctx, im.opts.Timeout)
	defer cancel()

	body, finalURL, err := im.fetch(ctx, rawURL)
	if err != nil {
		return page{}, err
	}
	musicals, err := extractMusicals(finalURL, body)
	if err != nil {
		return page{}, err
	}
	if len(musicals) == 0 {
		return page{}, errors.New("no schema.org events found")
	}
	stamp := records.Timestamp(im.now())
	for i := range musicals {
		musicals[i].ID = musicalID(rawURL, musicals[i].Title)
		musicals[i].SourceURL = rawURL
		musicals[i].UpdatedAt = stamp
	}
	entries := make([]kv.Entry, len(musicals))
	for i := range musicals {
		entry, err := musicalEntry(&musicals[i])
		if err != nil {
			return page{}, fmt.Errorf("encode %q: %w", musicals[i].Title, err)
		}
		entries[i] = entry
	}
	return page{musicals: musicals, entries: entries}, nil
}

// fetch downloads one HTML page. Each call works on a clone of the base
// collector so concurrent fetches do not share callbacks.
func (im *Importer) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", errors.New("url must start with http:// or https://")
	}

	c := im.base.Clone()
	c.Context = ctx
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	})

	var (
		body        []byte
		finalURL    string
		contentType string
	)
	c.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})
	if err := c.Visit(rawURL); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", errors.New("empty response body")
	}
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, "", fmt.Errorf("unsupported content type %q", contentType)
	}
	return body, finalURL, nil
}
