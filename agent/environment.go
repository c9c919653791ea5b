package agent

import (
	"net/url"
	"strings"

	"funneltrace/api/models"
)

// Environment describes the page the agent was loaded into.
type Environment struct {
	UserAgent      string
	ScreenWidth    int
	ScreenHeight   int
	ViewportWidth  int
	ViewportHeight int
	Language       string
	URL            string
	Referrer       string
	Title          string
}

// deviceContext classifies the environment once; the result is attached to
// every event.
func deviceContext(env Environment) models.DeviceContext {
	ua := strings.ToLower(env.UserAgent)
	d := models.DeviceContext{
		DeviceType:     classifyDevice(ua),
		Browser:        classifyBrowser(ua),
		OS:             classifyOS(ua),
		ScreenWidth:    env.ScreenWidth,
		ScreenHeight:   env.ScreenHeight,
		ViewportWidth:  env.ViewportWidth,
		ViewportHeight: env.ViewportHeight,
		Language:       env.Language,
		Referrer:       env.Referrer,
	}
	if u, err := url.Parse(env.URL); err == nil {
		q := u.Query()
		d.UTMSource = q.Get("utm_source")
		d.UTMMedium = q.Get("utm_medium")
		d.UTMCampaign = q.Get("utm_campaign")
		d.UTMTerm = q.Get("utm_term")
		d.UTMContent = q.Get("utm_content")
	}
	return d
}

func classifyDevice(ua string) string {
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"),
		strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return "tablet"
	case strings.Contains(ua, "mobi"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return "mobile"
	default:
		return "desktop"
	}
}

// Order matters: Edge and Opera also advertise Chrome, and Chrome advertises
// Safari.
func classifyBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox/"):
		return "Firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"):
		return "Chrome"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	default:
		return "Other"
	}
}

func classifyOS(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iOS"
	case strings.Contains(ua, "mac os"):
		return "macOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return "Other"
	}
}

// pageContext splits a page URL into the url/path pair events carry.
func pageContext(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw, "/"
	}
	return raw, u.Path
}
