package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdeAdecodes/short/internal"
)

type memLink struct {
	link       internal.ShortLink
	visitCount atomic.Int64
}

// Memory keeps links and visits in process memory. Nothing survives a restart.
type Memory struct {
	mu     sync.RWMutex
	links  []*memLink
	byCode map[string]*memLink
	byURL  map[string]*memLink
	byID   map[int64]*memLink
	visits map[int64][]internal.Visit

	nextLinkID  int64
	nextVisitID int64
}

func NewMemory() *Memory {
	return &Memory{
		byCode: make(map[string]*memLink),
		byURL:  make(map[string]*memLink),
		byID:   make(map[int64]*memLink),
		visits: make(map[int64][]internal.Visit),
	}
}

func (m *Memory) snapshot(l *memLink) *internal.ShortLink {
	out := l.link
	out.VisitCount = l.visitCount.Load()
	return &out
}

func (m *Memory) FindByCode(ctx context.Context, code string) (*internal.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.byCode[code]
	if !ok {
		return nil, internal.ErrNotFound
	}
	return m.snapshot(l), nil
}

func (m *Memory) FindByLongURL(ctx context.Context, longURL string) (*internal.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.byURL[longURL]
	if !ok {
		return nil, internal.ErrNotFound
	}
	return m.snapshot(l), nil
}

func (m *Memory) CreateLink(ctx context.Context, link *internal.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byCode[link.Code]; taken {
		return fmt.Errorf("create link %q: %w", link.Code, internal.ErrCodeConflict)
	}

	m.nextLinkID++
	link.ID = m.nextLinkID
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	l := &memLink{link: *link}
	l.link.VisitCount = 0
	l.visitCount.Store(link.VisitCount)

	m.links = append(m.links, l)
	m.byCode[link.Code] = l
	m.byID[link.ID] = l
	if _, seen := m.byURL[link.LongURL]; !seen {
		m.byURL[link.LongURL] = l
	}
	return nil
}

func (m *Memory) ListLinks(ctx context.Context) ([]internal.ShortLink, error) {
	m.mu.RLock()
	out := make([]internal.ShortLink, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, *m.snapshot(l))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateVisit(ctx context.Context, visit *internal.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextVisitID++
	visit.ID = m.nextVisitID
	if visit.VisitedAt.IsZero() {
		visit.VisitedAt = time.Now().UTC()
	}
	m.visits[visit.ShortLinkID] = append(m.visits[visit.ShortLinkID], *visit)
	return nil
}

// IncrementVisitCount only takes the read lock; the counter itself is atomic.
func (m *Memory) IncrementVisitCount(ctx context.Context, linkID int64) error {
	m.mu.RLock()
	l, ok := m.byID[linkID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("increment visit count for link %d: %w", linkID, internal.ErrNotFound)
	}
	l.visitCount.Add(1)
	return nil
}

func (m *Memory) VisitSummary(ctx context.Context, linkID int64) (internal.VisitSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum internal.VisitSummary
	for _, v := range m.visits[linkID] {
		sum.Count++
		if sum.LastAccessed == nil || v.VisitedAt.After(*sum.LastAccessed) {
			t := v.VisitedAt
			sum.LastAccessed = &t
		}
	}
	return sum, nil
}

func (m *Memory) CountVisitsBy(ctx context.Context, linkID int64, dim internal.Dimension, limit int) ([]internal.GroupCount, error) {
	if !dim.Valid() {
		return nil, fmt.Errorf("count visits by %q: %w", dim, internal.ErrInvalidInput)
	}

	m.mu.RLock()
	var groups []internal.GroupCount
	index := make(map[string]int)
	for _, v := range m.visits[linkID] {
		val, ok := dimensionValue(v, dim)
		if !ok {
			continue
		}
		if i, seen := index[val]; seen {
			groups[i].Count++
			continue
		}
		index[val] = len(groups)
		groups = append(groups, internal.GroupCount{Dimension: dim, Value: val, Count: 1})
	}
	m.mu.RUnlock()

	// Stable keeps first-appearance order among equal counts.
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func dimensionValue(v internal.Visit, dim internal.Dimension) (string, bool) {
	var s string
	switch dim {
	case internal.DimensionReferrer:
		if v.Referrer == nil {
			return "", false
		}
		s = *v.Referrer
	case internal.DimensionLocation:
		if v.Location == nil {
			return "", false
		}
		s = *v.Location
	case internal.DimensionOperatingSystem:
		s = v.OperatingSystem
	case internal.DimensionDeviceType:
		s = v.DeviceType
	case internal.DimensionBrowser:
		s = v.Browser
	}
	return s, s != ""
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
