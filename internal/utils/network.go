package utils

import (
	"fmt"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// ForwardingHeaders are read, in order, when the direct peer is a trusted proxy.
var ForwardingHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// ConfigureProxies restricts which peers may set the forwarding headers.
// Entries are bare addresses or CIDR ranges. An empty list trusts no proxy and
// the socket address is reported as the client.
func ConfigureProxies(router *gin.Engine, proxies []string) error {
	cleaned := make([]string, 0, len(proxies))
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid trusted proxy %q", p)
			}
		}
		cleaned = append(cleaned, p)
	}

	router.ForwardedByClientIP = true
	router.RemoteIPHeaders = ForwardingHeaders
	if len(cleaned) == 0 {
		return router.SetTrustedProxies(nil)
	}
	return router.SetTrustedProxies(cleaned)
}

// GetRealIP returns the client address used for rate limits, audit and logs.
// X-Forwarded-For is walked right to left past trusted hops, so a client
// cannot spoof its address by prepending entries.
func GetRealIP(c *gin.Context) string {
	return c.ClientIP()
}

// GetUserAgent extracts the User-Agent header from the request
func GetUserAgent(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "Unknown"
	}
	return ua
}
