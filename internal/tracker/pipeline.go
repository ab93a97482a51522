package tracker

import (
	"context"
	"time"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/geo"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/metrics"
)

type Pipeline struct {
	extractor Extractor
	geo       geo.Resolver
	recorder  *Recorder
}

func NewPipeline(x Extractor, resolver geo.Resolver, recorder *Recorder) *Pipeline {
	if resolver == nil {
		resolver = geo.Noop{}
	}
	return &Pipeline{extractor: x, geo: resolver, recorder: recorder}
}

// Handle turns one event into a stored visit. Geolocation problems only cost
// the location; store problems are returned after both writes were tried.
func (p *Pipeline) Handle(ctx context.Context, ev Event) error {
	start := time.Now()
	if ev.RequestID != "" {
		ctx = logger.WithRequestID(ctx, ev.RequestID)
	}
	ctx = logger.IntoContext(ctx, logger.FromContext(ctx).With("code", ev.Code, "link_id", ev.LinkID))

	md := p.extractor.Extract(ev.AddressChain, ev.UserAgent)
	location := p.geo.Resolve(ctx, md.LookupAddress)

	visitedAt := ev.VisitedAt
	if visitedAt.IsZero() {
		visitedAt = time.Now().UTC()
	}
	visit := &internal.Visit{
		ShortLinkID:     ev.LinkID,
		ClientAddress:   md.ClientAddress,
		ClientSignature: ev.UserAgent,
		Referrer:        optional(ev.Referrer),
		Location:        location,
		DeviceType:      md.DeviceType,
		Browser:         md.Browser,
		OperatingSystem: md.OperatingSystem,
		VisitedAt:       visitedAt,
	}

	err := p.recorder.Record(ctx, visit)
	metrics.VisitRecordDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordVisitEvent("failed")
		return err
	}
	metrics.RecordVisitEvent("recorded")
	logger.FromContext(ctx).Debug("visit recorded", "visit_id", visit.ID, "device", visit.DeviceType)
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
