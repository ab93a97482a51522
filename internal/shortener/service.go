// Package shortener holds the link operations behind the HTTP API: encode,
// decode, redirect dispatch, statistics and listing.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/cache"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/metrics"
	"github.com/AdeAdecodes/short/internal/store"
	"github.com/AdeAdecodes/short/internal/tracker"
)

const (
	MessageCreated  = "New short URL created"
	MessageExisting = "URL already shortened"

	topReferrers       = 5
	defaultMaxAttempts = 5
)

// LinkCache sits in front of FindByCode on the redirect path. Get returns
// cache.ErrMiss when the code is not cached.
type LinkCache interface {
	Get(ctx context.Context, code string) (*internal.ShortLink, error)
	Set(ctx context.Context, link *internal.ShortLink) error
}

type Options struct {
	// BaseURL prefixes codes to form short URLs. A trailing slash is ignored.
	BaseURL     string
	Generate    internal.CodeGenerator
	MaxAttempts int
	Cache       LinkCache
	// Sink receives one event per successful redirect. Nil disables tracking.
	Sink tracker.Sink
}

type Service struct {
	store       store.Store
	baseURL     string
	generate    internal.CodeGenerator
	maxAttempts int
	cache       LinkCache
	sink        tracker.Sink
}

func New(s store.Store, opts Options) *Service {
	if opts.Generate == nil {
		opts.Generate = internal.NewCodeGenerator(internal.DefaultCodeLength)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Service{
		store:       s,
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		generate:    opts.Generate,
		maxAttempts: opts.MaxAttempts,
		cache:       opts.Cache,
		sink:        opts.Sink,
	}
}

type EncodeResult struct {
	Code     string
	ShortURL string
	IsNew    bool
	Message  string
}

// VisitContext is the raw request data a redirect hands to the tracker. The
// caller must pass copies, not views into a reused request buffer.
type VisitContext struct {
	AddressChain string
	UserAgent    string
	Referrer     string
	RequestID    string
}

type ListItem struct {
	Code      string    `json:"code"`
	ShortURL  string    `json:"shortUrl"`
	LongURL   string    `json:"longUrl"`
	CreatedAt time.Time `json:"createdAt"`
	Visits    int64     `json:"visits"`
}

func (s *Service) ShortURL(code string) string {
	return s.baseURL + "/" + code
}

// Encode returns the existing code for an exact URL match, or stores a new
// link under a freshly generated code.
func (s *Service) Encode(ctx context.Context, longURL string) (EncodeResult, error) {
	if strings.TrimSpace(longURL) == "" {
		return EncodeResult{}, fmt.Errorf("%w: longUrl is required", internal.ErrInvalidInput)
	}
	if err := validateURL(longURL); err != nil {
		return EncodeResult{}, err
	}

	existing, err := s.store.FindByLongURL(ctx, longURL)
	switch {
	case err == nil:
		metrics.RecordEncode(false)
		return EncodeResult{Code: existing.Code, ShortURL: s.ShortURL(existing.Code), Message: MessageExisting}, nil
	case !errors.Is(err, internal.ErrNotFound):
		return EncodeResult{}, fmt.Errorf("%w: find by url: %v", internal.ErrStoreFailure, err)
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return EncodeResult{}, fmt.Errorf("generate code: %w", err)
		}
		link := &internal.ShortLink{Code: code, LongURL: longURL}
		err = s.store.CreateLink(ctx, link)
		if err == nil {
			metrics.RecordEncode(true)
			logger.FromContext(ctx).Info("short link created", "code", code, "attempt", attempt)
			return EncodeResult{Code: code, ShortURL: s.ShortURL(code), IsNew: true, Message: MessageCreated}, nil
		}
		if !errors.Is(err, internal.ErrCodeConflict) {
			return EncodeResult{}, fmt.Errorf("%w: create link: %v", internal.ErrStoreFailure, err)
		}
		metrics.CodeCollisions.Inc()
		logger.FromContext(ctx).Warn("short code collision", "code", code, "attempt", attempt)
	}
	return EncodeResult{}, fmt.Errorf("%w: no free code after %d attempts", internal.ErrResourceExhausted, s.maxAttempts)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: longUrl must be an absolute http or https URL", internal.ErrInvalidInput)
	}
	return nil
}

// Decode resolves a full short URL (or a bare code) to its long URL. The code
// is the last path segment.
func (s *Service) Decode(ctx context.Context, shortURL string) (string, error) {
	shortURL = strings.TrimSpace(shortURL)
	if shortURL == "" {
		return "", fmt.Errorf("%w: shortUrl is required", internal.ErrInvalidInput)
	}
	link, err := s.find(ctx, CodeFromURL(shortURL))
	if err != nil {
		return "", err
	}
	return link.LongURL, nil
}

// CodeFromURL returns the trailing path segment of a short URL, ignoring any
// query, fragment or trailing slash.
func CodeFromURL(shortURL string) string {
	if i := strings.IndexAny(shortURL, "?#"); i >= 0 {
		shortURL = shortURL[:i]
	}
	shortURL = strings.TrimRight(shortURL, "/")
	return shortURL[strings.LastIndex(shortURL, "/")+1:]
}

// Link looks the code up in the store, bypassing the cache.
func (s *Service) Link(ctx context.Context, code string) (*internal.ShortLink, error) {
	return s.find(ctx, code)
}

func (s *Service) find(ctx context.Context, code string) (*internal.ShortLink, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: code %q", internal.ErrNotFound, code)
	}
	link, err := s.store.FindByCode(ctx, code)
	if errors.Is(err, internal.ErrNotFound) {
		return nil, fmt.Errorf("%w: code %q", internal.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by code: %v", internal.ErrStoreFailure, err)
	}
	return link, nil
}

// Redirect resolves code and queues a visit event. It never waits for the
// visit to be recorded; an unknown code queues nothing.
func (s *Service) Redirect(ctx context.Context, code string, vc VisitContext) (string, error) {
	link, err := s.lookup(ctx, code)
	if err != nil {
		if errors.Is(err, internal.ErrNotFound) {
			metrics.Redirects.WithLabelValues("not_found").Inc()
		} else {
			metrics.Redirects.WithLabelValues("error").Inc()
		}
		return "", err
	}
	metrics.Redirects.WithLabelValues("found").Inc()

	if s.sink != nil {
		s.sink.Submit(tracker.Event{
			LinkID:       link.ID,
			Code:         link.Code,
			AddressChain: vc.AddressChain,
			UserAgent:    vc.UserAgent,
			Referrer:     vc.Referrer,
			VisitedAt:    time.Now().UTC(),
			RequestID:    vc.RequestID,
		})
	}
	return link.LongURL, nil
}

// lookup is cache-aside: a cache failure is logged and falls through to the store.
func (s *Service) lookup(ctx context.Context, code string) (*internal.ShortLink, error) {
	if s.cache == nil {
		return s.find(ctx, code)
	}
	if link, err := s.cache.Get(ctx, code); err == nil {
		metrics.LinkCacheLookups.WithLabelValues("hit").Inc()
		return link, nil
	} else if isMiss(err) {
		metrics.LinkCacheLookups.WithLabelValues("miss").Inc()
	} else {
		metrics.LinkCacheLookups.WithLabelValues("error").Inc()
		logger.FromContext(ctx).Warn("link cache read failed", "code", code, "err", err)
	}

	link, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, link); err != nil {
		logger.FromContext(ctx).Warn("link cache write failed", "code", code, "err", err)
	}
	return link, nil
}

func isMiss(err error) bool { return errors.Is(err, cache.ErrMiss) }

// Stats aggregates the link's visits. A link with no visits yields zero
// clicks, a nil lastAccessed and empty tables.
func (s *Service) Stats(ctx context.Context, code string) (*internal.Statistics, error) {
	link, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}

	summary, err := s.store.VisitSummary(ctx, link.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: visit summary: %v", internal.ErrStoreFailure, err)
	}

	stats := &internal.Statistics{
		LongURL:      link.LongURL,
		ShortURL:     s.ShortURL(link.Code),
		CreatedAt:    link.CreatedAt,
		Clicks:       summary.Count,
		VisitCount:   link.VisitCount,
		LastAccessed: summary.LastAccessed,
	}

	refs, err := s.countBy(ctx, link.ID, internal.DimensionReferrer, topReferrers)
	if err != nil {
		return nil, err
	}
	stats.Referrers = make([]string, 0, len(refs))
	for _, r := range refs {
		stats.Referrers = append(stats.Referrers, r.Value)
	}

	for dim, dst := range map[internal.Dimension]*[]internal.GroupCount{
		internal.DimensionLocation:        &stats.Locations,
		internal.DimensionOperatingSystem: &stats.OperatingSystems,
		internal.DimensionDeviceType:      &stats.DeviceTypes,
		internal.DimensionBrowser:         &stats.Browsers,
	} {
		if *dst, err = s.countBy(ctx, link.ID, dim, 0); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *Service) countBy(ctx context.Context, linkID int64, dim internal.Dimension, limit int) ([]internal.GroupCount, error) {
	groups, err := s.store.CountVisitsBy(ctx, linkID, dim, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: count by %s: %v", internal.ErrStoreFailure, dim, err)
	}
	if groups == nil {
		groups = []internal.GroupCount{}
	}
	for i := range groups {
		groups[i].Dimension = dim
	}
	return groups, nil
}

// List returns every link, newest first.
func (s *Service) List(ctx context.Context) ([]ListItem, error) {
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list links: %v", internal.ErrStoreFailure, err)
	}
	items := make([]ListItem, 0, len(links))
	for _, l := range links {
		items = append(items, ListItem{
			Code:      l.Code,
			ShortURL:  s.ShortURL(l.Code),
			LongURL:   l.LongURL,
			CreatedAt: l.CreatedAt,
			Visits:    l.VisitCount,
		})
	}
	return items, nil
}
