package tracker

import (
	"net"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"

	"github.com/AdeAdecodes/short/internal"
)

const (
	DeviceBot    = "bot"
	DeviceTablet = "tablet"
	DeviceMobile = "mobile"
)

type Metadata struct {
	// ClientAddress is the normalized first hop, stored with the visit.
	ClientAddress string
	// LookupAddress is what the geo resolver is asked about. It differs from
	// ClientAddress only when a non-public address was substituted.
	LookupAddress   string
	DeviceType      string
	Browser         string
	OperatingSystem string
}

// Extractor derives visit metadata from the raw request values. It never
// fails; anything it cannot read falls back to the package defaults.
type Extractor struct {
	// SubstitutePrivate swaps loopback, private and otherwise non-routable
	// addresses for FallbackAddress before geolocation. Useful in local setups.
	SubstitutePrivate bool
	FallbackAddress   string
}

func (x Extractor) Extract(addressChain, signature string) Metadata {
	addr := ClientAddress(addressChain)
	md := Metadata{ClientAddress: addr, LookupAddress: addr}
	if x.SubstitutePrivate && x.FallbackAddress != "" && !IsPublic(addr) {
		md.LookupAddress = x.FallbackAddress
	}
	md.DeviceType, md.Browser, md.OperatingSystem = ParseSignature(signature)
	return md
}

// ClientAddress takes the first hop of a forwarded-for style chain and strips
// any port and IPv6 brackets.
func ClientAddress(chain string) string {
	first, _, _ := strings.Cut(chain, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(first); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(first, "["), "]")
}

// IsPublic reports whether addr parses as a globally routable unicast address.
func IsPublic(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() && !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast()
}

// ParseSignature classifies a user-agent string as device, browser and OS,
// substituting the defaults for anything the parser cannot name.
func ParseSignature(signature string) (device, browser, os string) {
	device = internal.DefaultDeviceType
	browser = internal.DefaultBrowser
	os = internal.DefaultOperatingSystem

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return device, browser, os
	}

	ua := useragent.New(signature)
	lower := strings.ToLower(signature)

	switch {
	case ua.Bot() || strings.Contains(lower, "bot") || strings.Contains(lower, "crawler") || strings.Contains(lower, "spider"):
		device = DeviceBot
	case isTablet(lower):
		device = DeviceTablet
	case ua.Mobile():
		device = DeviceMobile
	}

	if name, _ := ua.Browser(); strings.TrimSpace(name) != "" {
		browser = name
	}
	switch ua.Platform() {
	case "iPhone", "iPad", "iPod", "iPod touch":
		os = "iOS"
	default:
		if name := ua.OSInfo().Name; strings.TrimSpace(name) != "" {
			os = name
		}
	}
	return device, browser, os
}

func isTablet(lower string) bool {
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return true
	}
	// Android tablets omit the "Mobile" token that phones send.
	return strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")
}
