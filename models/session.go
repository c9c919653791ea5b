// models/session.go
package models

// Session is one visiting browser context. Timestamps are epoch millis.
// Zero values mean "unknown"; an upsert never overwrites a known value with
// an unknown one.
type Session struct {
	SessionID      string `json:"sessionId"`
	FirstSeenAt    int64  `json:"firstSeenAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
	Pageviews      int    `json:"pageviews"`

	DeviceType     string `json:"deviceType,omitempty"`
	Browser        string `json:"browser,omitempty"`
	OS             string `json:"os,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
	Language       string `json:"language,omitempty"`

	EntryURL   string `json:"entryUrl,omitempty"`
	EntryPath  string `json:"entryPath,omitempty"`
	EntryTitle string `json:"entryTitle,omitempty"`
	Referrer   string `json:"referrer,omitempty"`

	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	UTMTerm     string `json:"utmTerm,omitempty"`
	UTMContent  string `json:"utmContent,omitempty"`
}
