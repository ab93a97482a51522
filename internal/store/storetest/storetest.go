// Package storetest holds the behavioral suite every store.Store must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/store"
)

// Factory returns an empty store. Run closes it when the subtest ends.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, open(t, newStore)) })
	t.Run("DuplicateCode", func(t *testing.T) { testDuplicateCode(t, open(t, newStore)) })
	t.Run("LongURLExactMatch", func(t *testing.T) { testLongURLExactMatch(t, open(t, newStore)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, open(t, newStore)) })
	t.Run("EmptySummary", func(t *testing.T) { testEmptySummary(t, open(t, newStore)) })
	t.Run("VisitSummary", func(t *testing.T) { testVisitSummary(t, open(t, newStore)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, open(t, newStore)) })
	t.Run("IncrementUnknownLink", func(t *testing.T) { testIncrementUnknownLink(t, open(t, newStore)) })
	t.Run("CountVisitsBy", func(t *testing.T) { testCountVisitsBy(t, open(t, newStore)) })
	t.Run("CountVisitsByLimit", func(t *testing.T) { testCountVisitsByLimit(t, open(t, newStore)) })
	t.Run("CountVisitsByIsolatesLinks", func(t *testing.T) { testCountVisitsByIsolatesLinks(t, open(t, newStore)) })
	t.Run("Ping", func(t *testing.T) {
		if err := open(t, newStore).Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func open(t *testing.T, newStore Factory) store.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateLink(t *testing.T, s store.Store, code, longURL string, createdAt time.Time) *internal.ShortLink {
	t.Helper()
	l := &internal.ShortLink{Code: code, LongURL: longURL, CreatedAt: createdAt}
	if err := s.CreateLink(context.Background(), l); err != nil {
		t.Fatalf("CreateLink(%q): %v", code, err)
	}
	if l.ID == 0 {
		t.Fatalf("CreateLink(%q) did not assign an id", code)
	}
	return l
}

func strPtr(s string) *string { return &s }

func mustCreateVisit(t *testing.T, s store.Store, v internal.Visit) {
	t.Helper()
	if v.DeviceType == "" {
		v.DeviceType = internal.DefaultDeviceType
	}
	if v.Browser == "" {
		v.Browser = internal.DefaultBrowser
	}
	if v.OperatingSystem == "" {
		v.OperatingSystem = internal.DefaultOperatingSystem
	}
	if v.VisitedAt.IsZero() {
		v.VisitedAt = base
	}
	if err := s.CreateVisit(context.Background(), &v); err != nil {
		t.Fatalf("CreateVisit: %v", err)
	}
	if v.ID == 0 {
		t.Fatal("CreateVisit did not assign an id")
	}
}

func testCreateAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreateLink(t, s, "Ab3dE9", "https://example.com", base)

	got, err := s.FindByCode(ctx, "Ab3dE9")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if got.ID != created.ID || got.LongURL != "https://example.com" || got.VisitCount != 0 {
		t.Errorf("FindByCode = %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	got, err = s.FindByLongURL(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("FindByLongURL: %v", err)
	}
	if got.Code != "Ab3dE9" {
		t.Errorf("FindByLongURL code = %q", got.Code)
	}

	if _, err := s.FindByCode(ctx, "zzzzzz"); !errors.Is(err, internal.ErrNotFound) {
		t.Errorf("FindByCode(unknown) err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindByCode(ctx, "ab3de9"); !errors.Is(err, internal.ErrNotFound) {
		t.Errorf("codes must be case sensitive, got %v", err)
	}

	l := &internal.ShortLink{Code: "NoTime", LongURL: "https://example.org"}
	if err := s.CreateLink(ctx, l); err != nil {
		t.Fatalf("CreateLink without CreatedAt: %v", err)
	}
	if l.CreatedAt.IsZero() {
		t.Error("CreateLink left CreatedAt zero")
	}
}

func testDuplicateCode(t *testing.T, s store.Store) {
	mustCreateLink(t, s, "Ab3dE9", "https://example.com/a", base)

	err := s.CreateLink(context.Background(), &internal.ShortLink{Code: "Ab3dE9", LongURL: "https://example.com/b"})
	if !errors.Is(err, internal.ErrCodeConflict) {
		t.Fatalf("duplicate CreateLink err = %v, want ErrCodeConflict", err)
	}

	got, err := s.FindByCode(context.Background(), "Ab3dE9")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if got.LongURL != "https://example.com/a" {
		t.Errorf("conflicting insert overwrote the link: %q", got.LongURL)
	}
}

func testLongURLExactMatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreateLink(t, s, "aaaaaa", "https://example.com/Path", base)

	for _, u := range []string{"https://example.com/path", "https://example.com/Path/", "https://example.com"} {
		if _, err := s.FindByLongURL(ctx, u); !errors.Is(err, internal.ErrNotFound) {
			t.Errorf("FindByLongURL(%q) err = %v, want ErrNotFound", u, err)
		}
	}
}

func testListNewestFirst(t *testing.T, s store.Store) {
	mustCreateLink(t, s, "first1", "https://example.com/1", base)
	mustCreateLink(t, s, "third3", "https://example.com/3", base.Add(2*time.Hour))
	mustCreateLink(t, s, "secnd2", "https://example.com/2", base.Add(time.Hour))

	links, err := s.ListLinks(context.Background())
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	var codes []string
	for _, l := range links {
		codes = append(codes, l.Code)
	}
	if fmt.Sprint(codes) != "[third3 secnd2 first1]" {
		t.Errorf("ListLinks order = %v", codes)
	}
}

func testEmptySummary(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := mustCreateLink(t, s, "empty1", "https://example.com", base)

	sum, err := s.VisitSummary(ctx, l.ID)
	if err != nil {
		t.Fatalf("VisitSummary: %v", err)
	}
	if sum.Count != 0 || sum.LastAccessed != nil {
		t.Errorf("VisitSummary = %+v, want zero", sum)
	}

	groups, err := s.CountVisitsBy(ctx, l.ID, internal.DimensionLocation, 0)
	if err != nil {
		t.Fatalf("CountVisitsBy: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups = %v, want none", groups)
	}
}

func testVisitSummary(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := mustCreateLink(t, s, "sum123", "https://example.com", base)

	last := base.Add(3 * time.Hour)
	mustCreateVisit(t, s, internal.Visit{ShortLinkID: l.ID, VisitedAt: base.Add(time.Hour)})
	mustCreateVisit(t, s, internal.Visit{ShortLinkID: l.ID, VisitedAt: last})
	mustCreateVisit(t, s, internal.Visit{ShortLinkID: l.ID, VisitedAt: base.Add(2 * time.Hour)})

	sum, err := s.VisitSummary(ctx, l.ID)
	if err != nil {
		t.Fatalf("VisitSummary: %v", err)
	}
	if sum.Count != 3 {
		t.Errorf("Count = %d, want 3", sum.Count)
	}
	if sum.LastAccessed == nil || !sum.LastAccessed.Equal(last) {
		t.Errorf("LastAccessed = %v, want %v", sum.LastAccessed, last)
	}
}

func testConcurrentIncrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := mustCreateLink(t, s, "hot123", "https://example.com", base)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.IncrementVisitCount(ctx, l.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("IncrementVisitCount: %v", err)
	}

	got, err := s.FindByCode(ctx, "hot123")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if got.VisitCount != n {
		t.Errorf("VisitCount = %d, want %d", got.VisitCount, n)
	}
}

func testIncrementUnknownLink(t *testing.T, s store.Store) {
	if err := s.IncrementVisitCount(context.Background(), 999999); !errors.Is(err, internal.ErrNotFound) {
		t.Errorf("IncrementVisitCount(unknown) err = %v, want ErrNotFound", err)
	}
}

func testCountVisitsBy(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := mustCreateLink(t, s, "grp123", "https://example.com", base)

	// lagos appears first, so it wins the tie with accra.
	for _, v := range []internal.Visit{
		{Location: strPtr("Lagos, Nigeria"), OperatingSystem: "Android", DeviceType: "mobile"},
		{Location: strPtr("Accra, Ghana"), OperatingSystem: "Windows"},
		{Location: nil, OperatingSystem: "Android", DeviceType: "mobile"},
		{Location: strPtr(""), OperatingSystem: "iOS", DeviceType: "tablet"},
		{Location: strPtr("Berlin, Germany"), OperatingSystem: "Windows"},
		{Location: strPtr("Berlin, Germany"), OperatingSystem: "Android", DeviceType: "mobile"},
		{Location: strPtr("Accra, Ghana")},
		{Location: strPtr("Lagos, Nigeria")},
	} {
		v.ShortLinkID = l.ID
		mustCreateVisit(t, s, v)
	}

	tests := []struct {
		dim  internal.Dimension
		want string
	}{
		{internal.DimensionLocation, "[Lagos, Nigeria=2 Accra, Ghana=2 Berlin, Germany=2]"},
		{internal.DimensionOperatingSystem, "[Android=3 Windows=2 Unknown=2 iOS=1]"},
		{internal.DimensionDeviceType, "[desktop=4 mobile=3 tablet=1]"},
		{internal.DimensionBrowser, "[Unknown=8]"},
		{internal.DimensionReferrer, "[]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dim), func(t *testing.T) {
			groups, err := s.CountVisitsBy(ctx, l.ID, tt.dim, 0)
			if err != nil {
				t.Fatalf("CountVisitsBy: %v", err)
			}
			if got := render(t, groups, tt.dim); got != tt.want {
				t.Errorf("CountVisitsBy(%s) = %s, want %s", tt.dim, got, tt.want)
			}
		})
	}

	if _, err := s.CountVisitsBy(ctx, l.ID, internal.Dimension("long_url; DROP TABLE visits"), 0); !errors.Is(err, internal.ErrInvalidInput) {
		t.Errorf("unknown dimension err = %v, want ErrInvalidInput", err)
	}
}

func testCountVisitsByLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := mustCreateLink(t, s, "ref123", "https://example.com", base)

	refs := []string{"a.com", "b.com", "b.com", "c.com", "d.com", "e.com", "f.com", "f.com", "f.com", "g.com", ""}
	for _, r := range refs {
		mustCreateVisit(t, s, internal.Visit{ShortLinkID: l.ID, Referrer: strPtr(r)})
	}
	mustCreateVisit(t, s, internal.Visit{ShortLinkID: l.ID})

	groups, err := s.CountVisitsBy(ctx, l.ID, internal.DimensionReferrer, 5)
	if err != nil {
		t.Fatalf("CountVisitsBy: %v", err)
	}
	if got := render(t, groups, internal.DimensionReferrer); got != "[f.com=3 b.com=2 a.com=1 c.com=1 d.com=1]" {
		t.Errorf("top referrers = %s", got)
	}
}

func testCountVisitsByIsolatesLinks(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustCreateLink(t, s, "linkAA", "https://example.com/a", base)
	b := mustCreateLink(t, s, "linkBB", "https://example.com/b", base)

	mustCreateVisit(t, s, internal.Visit{ShortLinkID: a.ID, Referrer: strPtr("a.com")})
	mustCreateVisit(t, s, internal.Visit{ShortLinkID: b.ID, Referrer: strPtr("b.com")})
	mustCreateVisit(t, s, internal.Visit{ShortLinkID: b.ID, Referrer: strPtr("b.com")})

	groups, err := s.CountVisitsBy(ctx, a.ID, internal.DimensionReferrer, 0)
	if err != nil {
		t.Fatalf("CountVisitsBy: %v", err)
	}
	if got := render(t, groups, internal.DimensionReferrer); got != "[a.com=1]" {
		t.Errorf("link a referrers = %s", got)
	}
	sum, err := s.VisitSummary(ctx, b.ID)
	if err != nil {
		t.Fatalf("VisitSummary: %v", err)
	}
	if sum.Count != 2 {
		t.Errorf("link b count = %d, want 2", sum.Count)
	}
}

func render(t *testing.T, groups []internal.GroupCount, dim internal.Dimension) string {
	t.Helper()
	out := "["
	for i, g := range groups {
		if g.Dimension != dim {
			t.Errorf("group %q has dimension %q, want %q", g.Value, g.Dimension, dim)
		}
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", g.Value, g.Count)
	}
	return out + "]"
}
