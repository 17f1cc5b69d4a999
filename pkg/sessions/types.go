package sessions

import (
	"strings"
	"time"
)

// DefaultTimeout is how long a session stays active without activity
const DefaultTimeout = 30 * 24 * time.Hour

// Revocation reasons recorded in audit metadata
const (
	ReasonUserRequested   = "user_requested"
	ReasonRevokeAllOthers = "revoke_all_others"
	ReasonAdminAction     = "admin_action"
)

// DeviceInfo describes the client that created a session
type DeviceInfo struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Mobile  bool   `json:"mobile"`
}

// Session is one authenticated login. RevokedAt only ever moves from nil to
// set.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Device         DeviceInfo `json:"device"`
	IPAddress      string     `json:"ip_address,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether s is unrevoked and was used within timeout of now.
func (s *Session) Active(now time.Time, timeout time.Duration) bool {
	if s.RevokedAt != nil {
		return false
	}
	return now.Sub(s.LastActivityAt) <= timeout
}

// View is a session annotated for the owner's session list
type View struct {
	*Session
	IsCurrent bool `json:"is_current"`
	IsActive  bool `json:"is_active"`
}

// ParseUserAgent derives coarse device details from a User-Agent header.
// Unrecognised agents map to "Other".
func ParseUserAgent(ua string) DeviceInfo {
	l := strings.ToLower(ua)
	info := DeviceInfo{Browser: "Other", OS: "Other"}

	switch {
	case strings.Contains(l, "edg/"):
		info.Browser = "Edge"
	case strings.Contains(l, "opr/") || strings.Contains(l, "opera"):
		info.Browser = "Opera"
	case strings.Contains(l, "firefox/") || strings.Contains(l, "fxios/"):
		info.Browser = "Firefox"
	case strings.Contains(l, "chrome/") || strings.Contains(l, "crios/"):
		info.Browser = "Chrome"
	case strings.Contains(l, "safari/"):
		info.Browser = "Safari"
	case strings.HasPrefix(l, "curl/"):
		info.Browser = "curl"
	}

	switch {
	case strings.Contains(l, "iphone") || strings.Contains(l, "ipad") || strings.Contains(l, "ios"):
		info.OS = "iOS"
	case strings.Contains(l, "android"):
		info.OS = "Android"
	case strings.Contains(l, "windows"):
		info.OS = "Windows"
	case strings.Contains(l, "mac os x") || strings.Contains(l, "macintosh"):
		info.OS = "macOS"
	case strings.Contains(l, "cros"):
		info.OS = "ChromeOS"
	case strings.Contains(l, "linux"):
		info.OS = "Linux"
	}

	info.Mobile = strings.Contains(l, "mobile") || strings.Contains(l, "iphone") ||
		(strings.Contains(l, "android") && !strings.Contains(l, "tablet"))
	return info
}
