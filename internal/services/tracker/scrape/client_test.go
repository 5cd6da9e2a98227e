package scrape

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"

	"torrentsession/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func keepOrder([][]byte) {}

// trackerStub answers scrape requests with counts derived from the hash and
// records every request it sees.
type trackerStub struct {
	mu       sync.Mutex
	requests []stubRequest
	failOn   int
	delay    time.Duration
	reply    func(hashes [][]byte) any
}

type stubRequest struct {
	at     time.Time
	done   time.Time
	url    string
	hashes [][]byte
}

func (s *trackerStub) handler(base *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hashes := make([][]byte, 0)
		for _, v := range r.URL.Query()["info_hash"] {
			hashes = append(hashes, []byte(v))
		}
		s.mu.Lock()
		s.requests = append(s.requests, stubRequest{at: time.Now(), url: *base + r.URL.RequestURI(), hashes: hashes})
		n := len(s.requests)
		s.mu.Unlock()

		if s.failOn > 0 && n == s.failOn {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var payload any
		if s.reply != nil {
			payload = s.reply(hashes)
		} else {
			files := make(map[string]scrapeFile, len(hashes))
			for _, h := range hashes {
				files[string(h)] = scrapeFile{Complete: int64(h[0]), Downloaded: 7, Incomplete: int64(h[1])}
			}
			payload = map[string]any{"files": files}
		}
		data, err := bencode.Marshal(payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		time.Sleep(s.delay)
		s.mu.Lock()
		s.requests[n-1].done = time.Now()
		s.mu.Unlock()
		_, _ = w.Write(data)
	}
}

func newStubServer(t *testing.T, stub *trackerStub) *httptest.Server {
	t.Helper()
	var base string
	srv := httptest.NewServer(stub.handler(&base))
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func hashesN(n int) []string {
	out := make([]string, n)
	for i := range out {
		b := make([]byte, 20)
		for j := range b {
			b[j] = byte(i*31 + j*7)
		}
		out[i] = hex.EncodeToString(b)
	}
	return out
}

// ---------------------------------------------------------------------------
// Batching
// ---------------------------------------------------------------------------

func TestScrapeSplitsIntoBoundedBatches(t *testing.T) {
	stub := &trackerStub{}
	srv := newStubServer(t, stub)
	client, err := New(srv.URL+"/announce", WithLogger(discardLogger()), WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	input := hashesN(120)
	results, err := client.Scrape(context.Background(), input)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}

	if len(stub.requests) < 3 {
		t.Fatalf("requests = %d, want at least 3", len(stub.requests))
	}
	seen := make(map[string]int)
	for _, req := range stub.requests {
		if len(req.url) > defaultMaxURLLength {
			t.Fatalf("request url length %d exceeds %d", len(req.url), defaultMaxURLLength)
		}
		for _, h := range req.hashes {
			seen[hex.EncodeToString(h)]++
		}
	}
	for _, h := range input {
		if seen[h] != 1 {
			t.Fatalf("hash %s requested %d times, want 1", h, seen[h])
		}
	}
	if len(results) != len(input) {
		t.Fatalf("results = %d, want %d", len(results), len(input))
	}
	if !slices.IsSortedFunc(results, func(a, b domain.ScrapeResult) int {
		return strings.Compare(string(a.Hash), string(b.Hash))
	}) {
		t.Fatal("results should be ordered by hash")
	}
	byHash := make(map[domain.InfoHash]domain.ScrapeResult)
	for _, r := range results {
		byHash[r.Hash] = r
	}
	for _, h := range input {
		r, ok := byHash[domain.InfoHash(h)]
		if !ok {
			t.Fatalf("missing result for %s", h)
		}
		raw, _ := hex.DecodeString(h)
		if r.Complete != int64(raw[0]) || r.Incomplete != int64(raw[1]) || r.Downloaded != 7 {
			t.Fatalf("result for %s = %+v", h, r)
		}
	}
}

func TestScrapeURLLengthMatchesEstimate(t *testing.T) {
	stub := &trackerStub{}
	srv := newStubServer(t, stub)
	client, err := New(srv.URL+"/announce", WithShuffle(keepOrder), WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	input := hashesN(3)
	if _, err := client.Scrape(context.Background(), input); err != nil {
		t.Fatal(err)
	}
	if len(stub.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(stub.requests))
	}
	want := len(client.URL())
	for _, h := range input {
		raw, _ := hex.DecodeString(h)
		want += len("info_hash=") + len(escape(raw)) + 1
	}
	if got := len(stub.requests[0].url); got != want {
		t.Fatalf("url length = %d, want %d", got, want)
	}
}

func TestScrapePacesBatches(t *testing.T) {
	stub := &trackerStub{}
	srv := newStubServer(t, stub)

	// Every hash escapes to 60 characters, so with this budget each batch
	// holds exactly one.
	var input []string
	for i := 1; i <= 4; i++ {
		raw := make([]byte, 20)
		raw[0] = byte(i)
		input = append(input, hex.EncodeToString(raw))
	}
	maxLength := len(srv.URL) + len("/scrape") + len("info_hash=") + 60 + 1

	interval := 60 * time.Millisecond
	client, err := New(srv.URL+"/announce", WithInterval(interval), WithMaxURLLength(maxLength), WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := client.Scrape(context.Background(), input); err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(stub.requests) != 4 {
		t.Fatalf("requests = %d, want 4 (one hash per batch)", len(stub.requests))
	}
	if first := stub.requests[0].at.Sub(start); first >= interval {
		t.Fatalf("first batch waited %v, want immediate", first)
	}
	for i := 1; i < len(stub.requests); i++ {
		gap := stub.requests[i].at.Sub(stub.requests[i-1].at)
		if gap < interval-10*time.Millisecond {
			t.Fatalf("gap between batch %d and %d = %v, want >= %v", i-1, i, gap, interval)
		}
	}
}

func TestScrapePausesAfterSlowBatch(t *testing.T) {
	stub := &trackerStub{delay: 150 * time.Millisecond}
	srv := newStubServer(t, stub)

	var input []string
	for i := 1; i <= 3; i++ {
		raw := make([]byte, 20)
		raw[0] = byte(i)
		input = append(input, hex.EncodeToString(raw))
	}
	maxLength := len(srv.URL) + len("/scrape") + len("info_hash=") + 60 + 1

	interval := 80 * time.Millisecond
	client, err := New(srv.URL+"/announce", WithInterval(interval), WithMaxURLLength(maxLength), WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Scrape(context.Background(), input); err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(stub.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(stub.requests))
	}
	for i := 1; i < len(stub.requests); i++ {
		// The reply leaves the stub after done, so the client saw it later still.
		idle := stub.requests[i].at.Sub(stub.requests[i-1].done)
		if idle < interval {
			t.Fatalf("batch %d started %v after batch %d finished, want >= %v", i, idle, i-1, interval)
		}
	}
}

func TestScrapeEmptyInput(t *testing.T) {
	stub := &trackerStub{}
	srv := newStubServer(t, stub)
	client, _ := New(srv.URL + "/announce")
	results, err := client.Scrape(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 || len(stub.requests) != 0 {
		t.Fatalf("results %d requests %d, want none", len(results), len(stub.requests))
	}
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestScrapeFailureDiscardsPartialResults(t *testing.T) {
	stub := &trackerStub{failOn: 2}
	srv := newStubServer(t, stub)
	client, _ := New(srv.URL+"/announce", WithInterval(time.Millisecond), WithLogger(discardLogger()))

	results, err := client.Scrape(context.Background(), hashesN(120))
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if results != nil {
		t.Fatalf("results = %d entries, want nil", len(results))
	}
	if len(stub.requests) != 2 {
		t.Fatalf("requests = %d, want 2 (stop at first failure)", len(stub.requests))
	}
}

func TestScrapeTrackerFailureReason(t *testing.T) {
	stub := &trackerStub{reply: func([][]byte) any {
		return map[string]string{"failure reason": "scrape disabled"}
	}}
	srv := newStubServer(t, stub)
	client, _ := New(srv.URL + "/announce")

	_, err := client.Scrape(context.Background(), hashesN(1))
	if !errors.Is(err, domain.ErrTransport) || !strings.Contains(err.Error(), "scrape disabled") {
		t.Fatalf("err = %v", err)
	}
}

func TestScrapeMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>nope</html>")
	}))
	defer srv.Close()
	client, _ := New(srv.URL + "/announce")
	if _, err := client.Scrape(context.Background(), hashesN(1)); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestScrapeRejectsInvalidHash(t *testing.T) {
	client, _ := New(DefaultAnnounceURL)
	_, err := client.Scrape(context.Background(), []string{"not-a-hash"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestScrapeHexKeysKept(t *testing.T) {
	input := hashesN(2)
	stub := &trackerStub{reply: func(hashes [][]byte) any {
		files := make(map[string]scrapeFile)
		for _, h := range hashes {
			files[strings.ToUpper(hex.EncodeToString(h))] = scrapeFile{Complete: 1}
		}
		return map[string]any{"files": files}
	}}
	srv := newStubServer(t, stub)
	client, _ := New(srv.URL + "/announce")

	results, err := client.Scrape(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{string(results[0].Hash), string(results[1].Hash)}
	slices.Sort(got)
	want := append([]string(nil), input...)
	slices.Sort(want)
	if got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("hashes = %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestEscape(t *testing.T) {
	in := []byte{0x00, 'A', 'z', '9', '-', '_', '.', '@', '*', '/', '+', '~', 0xFF}
	want := "%00Az9-_.%40%2A%2F%2B%7E%FF"
	if got := escape(in); got != want {
		t.Fatalf("escape = %q, want %q", got, want)
	}
}

func TestScrapeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://nyaa.tracker.wf:7777/announce", "http://nyaa.tracker.wf:7777/scrape", false},
		{"https://t.example/x/announce.php?passkey=1", "https://t.example/x/scrape.php?passkey=1", false},
		{"udp://tracker.opentrackr.org:1337/announce", "", true},
		{"http://t.example/stats", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ScrapeURL(tc.in)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("ScrapeURL = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequestUsesAmpersandWhenQueryPresent(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		data, _ := bencode.Marshal(map[string]any{"files": map[string]scrapeFile{}})
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	client, err := New(srv.URL + "/announce?passkey=abc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Scrape(context.Background(), hashesN(1)); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(gotQuery, "passkey=abc&info_hash=") {
		t.Fatalf("query = %q", gotQuery)
	}
}
