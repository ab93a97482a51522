package internal

import (
	"time"

	"github.com/goccy/go-json"
)

// Defaults recorded when a client signature cannot be classified. They are
// stored as values, never as NULL, so aggregation has a single "unknown" bucket.
const (
	DefaultDeviceType      = "desktop"
	DefaultBrowser         = "Unknown"
	DefaultOperatingSystem = "Unknown"
)

type ShortLink struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code       string    `gorm:"type:varchar(16);uniqueIndex;not null" json:"code"`
	LongURL    string    `gorm:"type:text;index;not null" json:"longUrl"`
	CreatedAt  time.Time `gorm:"not null" json:"createdAt"`
	VisitCount int64     `gorm:"not null;default:0" json:"visitCount"`
}

// Visit is one resolved redirect. ShortLinkID is a plain back-reference; no
// foreign key cascades from it.
type Visit struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ShortLinkID     int64     `gorm:"index;not null" json:"shortLinkId"`
	ClientAddress   string    `gorm:"type:varchar(64)" json:"clientAddress"`
	ClientSignature string    `gorm:"type:text" json:"clientSignature"`
	Referrer        *string   `gorm:"type:text" json:"referrer"`
	Location        *string   `gorm:"type:varchar(255)" json:"location"`
	DeviceType      string    `gorm:"type:varchar(32);not null" json:"deviceType"`
	Browser         string    `gorm:"type:varchar(64);not null" json:"browser"`
	OperatingSystem string    `gorm:"type:varchar(64);not null" json:"operatingSystem"`
	VisitedAt       time.Time `gorm:"index;not null" json:"visitedAt"`
}

// Dimension names a Visit column that statistics can be grouped by.
type Dimension string

const (
	DimensionReferrer        Dimension = "referrer"
	DimensionLocation        Dimension = "location"
	DimensionOperatingSystem Dimension = "operating_system"
	DimensionDeviceType      Dimension = "device_type"
	DimensionBrowser         Dimension = "browser"
)

// Valid reports whether d is one of the known grouping columns.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionReferrer, DimensionLocation, DimensionOperatingSystem, DimensionDeviceType, DimensionBrowser:
		return true
	}
	return false
}

// GroupCount is one row of a grouped visit count. It marshals keyed by its
// dimension, e.g. {"location": "Lagos, Nigeria", "count": 3}.
type GroupCount struct {
	Dimension Dimension `json:"-"`
	Value     string    `json:"value"`
	Count     int64     `json:"count"`
}

func (g GroupCount) MarshalJSON() ([]byte, error) {
	key := string(g.Dimension)
	if key == "" {
		key = "value"
	}
	return json.Marshal(map[string]any{key: g.Value, "count": g.Count})
}

type VisitSummary struct {
	Count        int64
	LastAccessed *time.Time
}

type Statistics struct {
	LongURL          string       `json:"longUrl"`
	ShortURL         string       `json:"shortUrl"`
	CreatedAt        time.Time    `json:"createdAt"`
	Clicks           int64        `json:"clicks"`
	VisitCount       int64        `json:"visitCount"`
	LastAccessed     *time.Time   `json:"lastAccessed"`
	Referrers        []string     `json:"referrers"`
	Locations        []GroupCount `json:"locations"`
	OperatingSystems []GroupCount `json:"operatingSystems"`
	DeviceTypes      []GroupCount `json:"deviceTypes"`
	Browsers         []GroupCount `json:"browsers"`
}
