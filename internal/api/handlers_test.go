package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/store"
	"github.com/AdeAdecodes/short/internal/shortener"
	"github.com/AdeAdecodes/short/internal/tracker"
)

const (
	testBaseURL = "http://sho.rt"
	uaIPhone    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaWindows   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type mapResolver struct {
	delay     time.Duration
	locations map[string]string
}

func (m *mapResolver) Resolve(ctx context.Context, addr string) *string {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if loc, ok := m.locations[addr]; ok {
		return &loc
	}
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	app   *fiber.App
	store *store.Memory
	svc   *shortener.Service
}

func newTestEnv(t *testing.T, resolver *mapResolver, health Pinger) *testEnv {
	t.Helper()
	s := store.NewMemory()
	if resolver == nil {
		resolver = &mapResolver{}
	}

	pipeline := tracker.NewPipeline(tracker.Extractor{}, resolver, tracker.NewRecorder(s))
	// One worker keeps visit ids in request order, which the tie-break checks rely on.
	pool := tracker.NewPool("api-test", 1, 256, time.Second, pipeline.Handle)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := shortener.New(s, shortener.Options{BaseURL: testBaseURL, Sink: pool})
	return &testEnv{app: New(svc, Options{Health: health}), store: s, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func (e *testEnv) encode(t *testing.T, longURL string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/encode", map[string]string{"longUrl": longURL})
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("encode status = %d", resp.StatusCode)
	}
	out := decodeBody[encodeResponse](t, resp)
	return shortener.CodeFromURL(out.ShortURL)
}

func (e *testEnv) waitForClicks(t *testing.T, code string, n int64) {
	t.Helper()
	link, err := e.store.FindByCode(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		sum, _ := e.store.VisitSummary(context.Background(), link.ID)
		got, _ := e.store.FindByCode(context.Background(), code)
		if sum.Count == n && got.VisitCount == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("clicks = %d, visitCount = %d, want %d", sum.Count, got.VisitCount, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEncodeThenDecode(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	resp := e.do(t, http.MethodPost, "/encode", map[string]string{"longUrl": "https://example.com"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first encode status = %d, want 201", resp.StatusCode)
	}
	first := decodeBody[encodeResponse](t, resp)
	if !first.IsNew || first.Message != "New short URL created" || !strings.HasPrefix(first.ShortURL, testBaseURL+"/") {
		t.Errorf("first = %+v", first)
	}

	resp = e.do(t, http.MethodPost, "/encode", map[string]string{"longUrl": "https://example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second encode status = %d, want 200", resp.StatusCode)
	}
	second := decodeBody[encodeResponse](t, resp)
	if second.IsNew || second.ShortURL != first.ShortURL || second.Message != "URL already shortened" {
		t.Errorf("second = %+v", second)
	}

	resp = e.do(t, http.MethodPost, "/decode", map[string]string{"shortUrl": first.ShortURL})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decode status = %d", resp.StatusCode)
	}
	if got := decodeBody[decodeResponse](t, resp); got.LongURL != "https://example.com" {
		t.Errorf("decoded = %q", got.LongURL)
	}
}

func TestEncodeMatchesExactBytes(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	first := env.encode(t, "https://example.com/a")

	resp := env.do(t, http.MethodPost, "/encode", map[string]string{"longUrl": "https://example.com/a "})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 for a URL differing by trailing space", resp.StatusCode)
	}
	out := decodeBody[encodeResponse](t, resp)
	if !out.IsNew || shortener.CodeFromURL(out.ShortURL) == first {
		t.Errorf("trailing-space URL reused %s: %+v", first, out)
	}
}

func TestRequestErrors(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		status  int
		message string
	}{
		{"encode empty object", http.MethodPost, "/encode", map[string]string{}, 400, "longUrl is required"},
		{"encode blank", http.MethodPost, "/encode", map[string]string{"longUrl": ""}, 400, "longUrl is required"},
		{"encode bad json", http.MethodPost, "/encode", "{", 400, "longUrl is required"},
		{"encode not http", http.MethodPost, "/encode", map[string]string{"longUrl": "ftp://example.com"}, 400, "longUrl must be an absolute http or https URL"},
		{"decode missing", http.MethodPost, "/decode", map[string]string{}, 400, "shortUrl is required"},
		{"decode unknown", http.MethodPost, "/decode", map[string]string{"shortUrl": testBaseURL + "/nope00"}, 404, "Short URL not found"},
		{"stats unknown", http.MethodGet, "/statistic/nope00", nil, 404, "Not found"},
		{"redirect unknown", http.MethodGet, "/nope00", nil, 404, "URL not found"},
		{"qr unknown", http.MethodGet, "/qr/nope00", nil, 404, "URL not found"},
		{"qr bad size", http.MethodGet, "/qr/nope00?size=9", nil, 400, "size must be between 64 and 1024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := decodeBody[errorBody](t, resp); got.Error != tt.message {
				t.Errorf("error = %q, want %q", got.Error, tt.message)
			}
		})
	}
}

func TestRedirect(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	code := e.encode(t, "https://example.com/landing?x=1")

	resp := e.do(t, http.MethodGet, "/"+code, nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://example.com/landing?x=1" {
		t.Errorf("Location = %q", loc)
	}
	e.waitForClicks(t, code, 1)
}

func TestRedirectUnknownRecordsNothing(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	code := e.encode(t, "https://example.com")

	for i := 0; i < 3; i++ {
		if resp := e.do(t, http.MethodGet, "/zzzzzz", nil); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	time.Sleep(50 * time.Millisecond)

	link, _ := e.store.FindByCode(context.Background(), code)
	sum, _ := e.store.VisitSummary(context.Background(), link.ID)
	if sum.Count != 0 || link.VisitCount != 0 {
		t.Errorf("unknown codes recorded visits: %+v, count %d", sum, link.VisitCount)
	}
}

func TestRedirectNotDelayedBySlowGeo(t *testing.T) {
	e := newTestEnv(t, &mapResolver{delay: 800 * time.Millisecond}, nil)
	code := e.encode(t, "https://example.com")

	start := time.Now()
	resp := e.do(t, http.MethodGet, "/"+code, nil, "X-Forwarded-For", "203.0.113.7")
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("redirect took %v while geolocation was slow", elapsed)
	}
	e.waitForClicks(t, code, 1)
}

func TestConcurrentRedirects(t *testing.T) {
	const n = 40
	e := newTestEnv(t, nil, nil)
	code := e.encode(t, "https://example.com")

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/"+code, nil)
			resp, err := e.app.Test(req, -1)
			if err != nil || resp.StatusCode != http.StatusFound {
				t.Errorf("redirect: %v %v", resp, err)
			}
		}()
	}
	wg.Wait()
	e.waitForClicks(t, code, n)
}

type statsBody struct {
	LongURL          string           `json:"longUrl"`
	ShortURL         string           `json:"shortUrl"`
	Clicks           int64            `json:"clicks"`
	VisitCount       int64            `json:"visitCount"`
	LastAccessed     *time.Time       `json:"lastAccessed"`
	Referrers        []string         `json:"referrers"`
	Locations        []map[string]any `json:"locations"`
	OperatingSystems []map[string]any `json:"operatingSystems"`
	DeviceTypes      []map[string]any `json:"deviceTypes"`
	Browsers         []map[string]any `json:"browsers"`
}

func TestStatistic(t *testing.T) {
	resolver := &mapResolver{locations: map[string]string{
		"203.0.113.7":  "Lagos, Nigeria",
		"198.51.100.4": "Berlin, Germany",
	}}
	e := newTestEnv(t, resolver, nil)
	code := e.encode(t, "https://example.com")

	visits := []struct{ xff, ua, ref string }{
		{"203.0.113.7", uaIPhone, "https://twitter.com/"},
		{"203.0.113.7, 10.0.0.1", uaWindows, "https://news.ycombinator.com/"},
		{"198.51.100.4", uaIPhone, "https://twitter.com/"},
		{"192.0.2.1", uaWindows, ""},
	}
	for _, v := range visits {
		headers := []string{"X-Forwarded-For", v.xff, "User-Agent", v.ua}
		if v.ref != "" {
			headers = append(headers, "Referer", v.ref)
		}
		if resp := e.do(t, http.MethodGet, "/"+code, nil, headers...); resp.StatusCode != http.StatusFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	e.waitForClicks(t, code, 4)

	resp := e.do(t, http.MethodGet, "/statistic/"+code, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody[statsBody](t, resp)

	if got.Clicks != 4 || got.VisitCount != 4 || got.LongURL != "https://example.com" || got.ShortURL != testBaseURL+"/"+code {
		t.Errorf("stats = %+v", got)
	}
	if got.LastAccessed == nil {
		t.Error("lastAccessed is null")
	}
	if len(got.Referrers) != 2 || got.Referrers[0] != "https://twitter.com/" {
		t.Errorf("referrers = %v", got.Referrers)
	}
	if len(got.Locations) != 2 || got.Locations[0]["location"] != "Lagos, Nigeria" || got.Locations[0]["count"] != float64(2) {
		t.Errorf("locations = %v", got.Locations)
	}
	if len(got.DeviceTypes) != 2 || got.DeviceTypes[0]["device_type"] == nil {
		t.Errorf("deviceTypes = %v", got.DeviceTypes)
	}
	if len(got.OperatingSystems) != 2 || got.OperatingSystems[0]["operating_system"] != "iOS" {
		t.Errorf("operatingSystems = %v", got.OperatingSystems)
	}
	if len(got.Browsers) == 0 || got.Browsers[0]["browser"] == nil {
		t.Errorf("browsers = %v", got.Browsers)
	}
}

func TestStatisticZeroVisits(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	code := e.encode(t, "https://example.com")

	resp := e.do(t, http.MethodGet, "/statistic/"+code, nil)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	for _, want := range []string{`"clicks":0`, `"lastAccessed":null`, `"referrers":[]`, `"locations":[]`, `"operatingSystems":[]`, `"deviceTypes":[]`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s: %s", want, body)
		}
	}
}

func TestTopReferrersCapped(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	code := e.encode(t, "https://example.com")

	refs := []string{"a.test", "b.test", "c.test", "d.test", "e.test", "f.test", "g.test", "", ""}
	for _, ref := range refs {
		headers := []string{}
		if ref != "" {
			headers = append(headers, "Referer", "https://"+ref+"/")
		}
		e.do(t, http.MethodGet, "/"+code, nil, headers...)
	}
	e.waitForClicks(t, code, int64(len(refs)))

	got := decodeBody[statsBody](t, e.do(t, http.MethodGet, "/statistic/"+code, nil))
	if len(got.Referrers) != 5 {
		t.Errorf("referrers = %v, want 5 entries", got.Referrers)
	}
	for _, r := range got.Referrers {
		if r == "" {
			t.Error("empty referrer in top list")
		}
	}
}

func TestList(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	older := e.encode(t, "https://one.example")
	newer := e.encode(t, "https://two.example")
	e.do(t, http.MethodGet, "/"+older, nil)
	e.waitForClicks(t, older, 1)

	resp := e.do(t, http.MethodGet, "/list", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	items := decodeBody[[]shortener.ListItem](t, resp)
	if len(items) != 2 || items[0].Code != newer || items[1].Code != older {
		t.Fatalf("items = %+v", items)
	}
	if items[1].Visits != 1 || items[1].ShortURL != testBaseURL+"/"+older || items[1].LongURL != "https://one.example" {
		t.Errorf("item = %+v", items[1])
	}
}

func TestQRCode(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	code := e.encode(t, "https://example.com")

	resp := e.do(t, http.MethodGet, "/qr/"+code+"?size=128", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(raw, []byte("\x89PNG")) {
		t.Errorf("body is not a PNG (%d bytes)", len(raw))
	}
}

func TestWelcomeAndHealth(t *testing.T) {
	e := newTestEnv(t, nil, pinger{})
	resp := e.do(t, http.MethodGet, "/", nil)
	welcome := decodeBody[map[string]any](t, resp)
	if welcome["message"] != "Welcome to shortlink API Version 1" || welcome["status"] != float64(200) {
		t.Errorf("welcome = %v", welcome)
	}

	if resp := e.do(t, http.MethodGet, "/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	down := newTestEnv(t, nil, pinger{err: errors.New("db gone")})
	if resp := down.do(t, http.MethodGet, "/healthz", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz with failing store = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsAndRequestID(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	resp := e.do(t, http.MethodGet, "/", nil)
	if resp.Header.Get(fiber.HeaderXRequestID) == "" {
		t.Error("missing request id header")
	}

	resp = e.do(t, http.MethodGet, "/metrics", nil)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "short_http_request_duration_seconds") {
		t.Errorf("metrics status %d, body missing http histogram", resp.StatusCode)
	}
}

func TestErrorResponseMapping(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Get("/store", func(c *fiber.Ctx) error {
		return errorResponse(c, errors.Join(internal.ErrStoreFailure, errors.New("conn reset")), "")
	})
	app.Get("/exhausted", func(c *fiber.Ctx) error {
		return errorResponse(c, internal.ErrResourceExhausted, "")
	})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })

	for path, want := range map[string]string{
		"/store":     "Database error",
		"/exhausted": "Could not generate a unique short code",
		"/boom":      "Internal server error",
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		if got := decodeBody[errorBody](t, resp); got.Error != want {
			t.Errorf("%s error = %q, want %q", path, got.Error, want)
		}
	}
}
