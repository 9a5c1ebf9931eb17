package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
	IsBot      bool   `json:"is_bot"`
	Platform   string `json:"platform"` // android, ios, windows, mac, linux
}

var tabletMarkers = []string{"ipad", "tablet", "kindle", "playbook", "nexus 7", "nexus 9", "nexus 10", "sm-t"}

var platforms = []struct{ marker, name string }{
	{"android", "android"},
	{"iphone os", "ios"},
	{"ios", "ios"},
	{"windows", "windows"},
	{"mac os x", "mac"},
	{"macos", "mac"},
	{"chrome os", "chromeos"},
	{"linux", "linux"},
	{"ubuntu", "linux"},
}

// ParseUserAgent extracts device information for payment audit entries
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown", Platform: "unknown"}
	}

	parser := ua.New(userAgent)
	browser, version := parser.Browser()
	if browser == "" {
		browser = "Unknown"
	}

	osInfo := parser.OSInfo()
	osName := osInfo.Name
	if osName == "" {
		osName = "Unknown"
	} else if osInfo.Version != "" {
		osName += " " + osInfo.Version
	}

	return DeviceInfo{
		DeviceType: deviceType(parser),
		OS:         osName,
		Browser:    browser,
		BrowserVer: version,
		IsBot:      parser.Bot(),
		Platform:   platform(osInfo.Name),
	}
}

func deviceType(parser *ua.UserAgent) string {
	if !parser.Mobile() {
		return "desktop"
	}
	lower := strings.ToLower(parser.UA())
	for _, m := range tabletMarkers {
		if strings.Contains(lower, m) {
			return "tablet"
		}
	}
	return "mobile"
}

func platform(osName string) string {
	lower := strings.ToLower(osName)
	for _, p := range platforms {
		if strings.Contains(lower, p.marker) {
			return p.name
		}
	}
	return "unknown"
}
