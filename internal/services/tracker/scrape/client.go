// Package scrape queries an HTTP tracker's scrape endpoint for many
// info-hashes at once, splitting them into URL-length-bounded batches.
package scrape

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"torrentsession/internal/domain"
	"torrentsession/internal/metrics"
)

const (
	DefaultAnnounceURL = "http://nyaa.tracker.wf:7777/announce"

	// Trackers commonly cap request lines at 2048 bytes; stay well below.
	defaultMaxURLLength = 1300
	defaultInterval     = 200 * time.Millisecond
	maxReplyBytes       = 4 << 20
)

type Client struct {
	scrapeURL string
	http      *http.Client
	maxLength int
	interval  time.Duration
	shuffle   func([][]byte)
	logger    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// WithInterval sets the pause between the end of one batch request and the
// start of the next.
func WithInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.interval = d
		}
	}
}

func WithMaxURLLength(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxLength = n
		}
	}
}

// WithShuffle replaces the input shuffle. Tests use it to fix batch order.
func WithShuffle(fn func([][]byte)) Option {
	return func(cl *Client) {
		if fn != nil {
			cl.shuffle = fn
		}
	}
}

// New builds a client for the scrape endpoint derived from announceURL.
func New(announceURL string, opts ...Option) (*Client, error) {
	scrapeURL, err := ScrapeURL(announceURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		scrapeURL: scrapeURL,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxLength: defaultMaxURLLength,
		interval:  defaultInterval,
		shuffle: func(hashes [][]byte) {
			rand.Shuffle(len(hashes), func(i, j int) { hashes[i], hashes[j] = hashes[j], hashes[i] })
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ScrapeURL derives the scrape endpoint by replacing the last "announce"
// path segment prefix with "scrape".
func ScrapeURL(announceURL string) (string, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return "", fmt.Errorf("%w: tracker url: %v", domain.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: tracker scheme %q does not support scrape", domain.ErrInvalidInput, u.Scheme)
	}
	idx := strings.LastIndex(u.Path, "/")
	last := u.Path[idx+1:]
	if idx < 0 || !strings.HasPrefix(last, "announce") {
		return "", fmt.Errorf("%w: tracker %q has no announce path", domain.ErrInvalidInput, announceURL)
	}
	u.Path = u.Path[:idx+1] + "scrape" + strings.TrimPrefix(last, "announce")
	u.RawPath = ""
	return u.String(), nil
}

func (c *Client) URL() string {
	return c.scrapeURL
}

// Scrape returns swarm counts for the given hex info-hashes. Any failed batch
// fails the whole call and no partial results are returned.
func (c *Client) Scrape(ctx context.Context, hashes []string) ([]domain.ScrapeResult, error) {
	bins := make([][]byte, 0, len(hashes))
	for _, raw := range hashes {
		h, ok := domain.NormalizeInfoHash(raw)
		if !ok {
			return nil, fmt.Errorf("%w: info hash %q", domain.ErrInvalidInput, raw)
		}
		bin, _ := hex.DecodeString(string(h))
		bins = append(bins, bin)
	}
	if len(bins) == 0 {
		return []domain.ScrapeResult{}, nil
	}
	c.shuffle(bins)

	// gap holds back the next batch; nil before the first one.
	var gap *rate.Limiter
	results := make([]domain.ScrapeResult, 0, len(bins))
	batch := make([][]byte, 0, 32)
	length := len(c.scrapeURL)

	flush := func() error {
		if gap != nil {
			if err := gap.Wait(ctx); err != nil {
				return err
			}
		}
		res, err := c.request(ctx, batch)
		gap = c.pause(time.Now())
		if err != nil {
			metrics.ScrapeRequestsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.ScrapeRequestsTotal.WithLabelValues("ok").Inc()
		results = append(results, res...)
		batch = batch[:0]
		length = len(c.scrapeURL)
		return nil
	}

	for _, bin := range bins {
		// +1 for the ? or & separator.
		qsLength := len("info_hash=") + len(escape(bin)) + 1
		if length+qsLength > c.maxLength && len(batch) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, bin)
		length += qsLength
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// pause returns a limiter whose only token is one interval after now, so the
// next batch starts at least that long after the previous one finished.
func (c *Client) pause(now time.Time) *rate.Limiter {
	l := rate.NewLimiter(rate.Every(c.interval), 1)
	l.AllowN(now, 1)
	return l
}

type scrapeReply struct {
	Files         map[string]scrapeFile `bencode:"files"`
	FailureReason string                `bencode:"failure reason"`
}

type scrapeFile struct {
	Complete   int64 `bencode:"complete"`
	Downloaded int64 `bencode:"downloaded"`
	Incomplete int64 `bencode:"incomplete"`
}

func (c *Client) request(ctx context.Context, batch [][]byte) ([]domain.ScrapeResult, error) {
	parts := make([]string, 0, len(batch))
	for _, bin := range batch {
		parts = append(parts, "info_hash="+escape(bin))
	}
	sep := "?"
	if strings.Contains(c.scrapeURL, "?") {
		sep = "&"
	}
	target := c.scrapeURL + sep + strings.Join(parts, "&")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build scrape request: %v", domain.ErrTransport, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: scrape request: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read scrape reply: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tracker responded %d", domain.ErrTransport, resp.StatusCode)
	}

	var reply scrapeReply
	if err := bencode.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: decode scrape reply: %v", domain.ErrTransport, err)
	}
	if reply.FailureReason != "" {
		return nil, fmt.Errorf("%w: tracker failure: %s", domain.ErrTransport, reply.FailureReason)
	}

	out := make([]domain.ScrapeResult, 0, len(reply.Files))
	for key, f := range reply.Files {
		out = append(out, domain.ScrapeResult{
			Hash:       replyHash(key),
			Complete:   f.Complete,
			Downloaded: f.Downloaded,
			Incomplete: f.Incomplete,
		})
	}
	slices.SortFunc(out, func(a, b domain.ScrapeResult) int {
		return strings.Compare(string(a.Hash), string(b.Hash))
	})

	c.logger.Debug("scrape batch done",
		slog.Int("requested", len(batch)),
		slog.Int("returned", len(out)),
		slog.Int("urlLength", len(target)),
	)
	return out, nil
}

// replyHash keeps 40-character keys as hex and hex-encodes anything else,
// which in practice is the raw 20-byte digest.
func replyHash(key string) domain.InfoHash {
	if len(key) == 40 {
		return domain.InfoHash(strings.ToLower(key))
	}
	return domain.InfoHash(hex.EncodeToString([]byte(key)))
}

// Close releases idle tracker connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// escape percent-encodes every byte outside [A-Za-z0-9_.-] with upper-case
// hex, the form trackers expect for binary info_hash values.
func escape(b []byte) string {
	const upperhex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '-', c == '_', c == '.':
			sb.WriteByte(c)
		default:
			sb.WriteByte('%')
			sb.WriteByte(upperhex[c>>4])
			sb.WriteByte(upperhex[c&15])
		}
	}
	return sb.String()
}
