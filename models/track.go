// models/track.go
package models

import "encoding/json"

// TrackRequest is the body of POST /api/track.
type TrackRequest struct {
	Events []TrackRecord `json:"events"`
}

// RawTrackRequest is how the server reads POST /api/track: records stay
// undecoded until ingestion so a malformed one cannot reject its neighbours.
type RawTrackRequest struct {
	Events []json.RawMessage `json:"events"`
}

// TrackRecord is one event as the agent puts it on the wire. Older agents
// send eventType/session_id instead of type/sessionId; Normalize folds both
// shapes together.
type TrackRecord struct {
	SessionID       string `json:"sessionId,omitempty" validate:"required"`
	LegacySessionID string `json:"session_id,omitempty"`
	Type            string `json:"type,omitempty" validate:"required"`
	LegacyType      string `json:"eventType,omitempty"`
	Timestamp       int64  `json:"timestamp" validate:"gt=0"`

	URL   string `json:"url,omitempty"`
	Path  string `json:"path,omitempty"`
	Title string `json:"title,omitempty"`

	DeviceContext

	ClickData  *ClickData  `json:"clickData,omitempty"`
	ScrollData *ScrollData `json:"scrollData,omitempty"`
	MouseData  *MouseData  `json:"mouseData,omitempty"`
	FormData   *FormData   `json:"formData,omitempty"`
	FunnelData *FunnelData `json:"funnelData,omitempty"`
	TimeData   *TimeData   `json:"timeData,omitempty"`
}

// DeviceContext is attached by the agent to every event.
type DeviceContext struct {
	DeviceType     string `json:"deviceType,omitempty"`
	Browser        string `json:"browser,omitempty"`
	OS             string `json:"os,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
	Language       string `json:"language,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	UTMSource      string `json:"utmSource,omitempty"`
	UTMMedium      string `json:"utmMedium,omitempty"`
	UTMCampaign    string `json:"utmCampaign,omitempty"`
	UTMTerm        string `json:"utmTerm,omitempty"`
	UTMContent     string `json:"utmContent,omitempty"`
}

type ElementInfo struct {
	Tag     string `json:"tag,omitempty"`
	ID      string `json:"id,omitempty"`
	Classes string `json:"classes,omitempty"`
	Text    string `json:"text,omitempty"`
}

type ClickData struct {
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Element    ElementInfo `json:"element"`
	IsCTA      bool        `json:"isCTA"`
	ClickCount int         `json:"clickCount,omitempty"`
}

type ScrollData struct {
	Depth      float64 `json:"depth"`
	Percentage float64 `json:"percentage"`
	MaxDepth   float64 `json:"maxDepth"`
}

type MouseData struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Speed float64 `json:"speed"`
}

type FormData struct {
	FormID   string `json:"formId,omitempty"`
	FormName string `json:"formName,omitempty"`
	Field    string `json:"field,omitempty"`
	Action   string `json:"action,omitempty"`
}

type FunnelData struct {
	FunnelID  string `json:"funnelId"`
	StepName  string `json:"stepName"`
	StepOrder int    `json:"stepOrder,omitempty"`
}

type TimeData struct {
	Elapsed int  `json:"elapsed"`
	Engaged bool `json:"engaged"`
}

// Normalize copies legacy field spellings into the canonical ones.
func (r *TrackRecord) Normalize() {
	if r.SessionID == "" {
		r.SessionID = r.LegacySessionID
	}
	if r.Type == "" {
		r.Type = r.LegacyType
	}
	r.LegacySessionID = ""
	r.LegacyType = ""
}

// ToEvent flattens the typed payload into the stored row shape.
func (r TrackRecord) ToEvent(eventID string) Event {
	ev := Event{
		EventID:   eventID,
		SessionID: r.SessionID,
		EventType: EventType(r.Type),
		Timestamp: r.Timestamp,
		URL:       r.URL,
		Path:      r.Path,
		Title:     r.Title,
	}
	if c := r.ClickData; c != nil {
		ev.X, ev.Y = c.X, c.Y
		ev.ElementTag = c.Element.Tag
		ev.ElementID = c.Element.ID
		ev.ElementClasses = c.Element.Classes
		ev.ElementText = c.Element.Text
		ev.IsCTA = c.IsCTA
		ev.ClickCount = c.ClickCount
	}
	if s := r.ScrollData; s != nil {
		ev.ScrollDepth = s.Depth
		ev.ScrollPercentage = s.Percentage
		ev.MaxScroll = s.MaxDepth
	}
	if m := r.MouseData; m != nil {
		ev.X, ev.Y = m.X, m.Y
		ev.MouseSpeed = m.Speed
	}
	if f := r.FormData; f != nil {
		ev.FormID = f.FormID
		ev.FormName = f.FormName
		ev.FormField = f.Field
		ev.FormAction = f.Action
	}
	if f := r.FunnelData; f != nil {
		ev.FunnelID = f.FunnelID
		ev.StepName = f.StepName
		ev.StepOrder = f.StepOrder
	}
	if t := r.TimeData; t != nil {
		ev.ElapsedSeconds = t.Elapsed
		ev.Engaged = t.Engaged
	}
	return ev
}

// ToSession builds the session snapshot carried by a pageview.
func (r TrackRecord) ToSession() Session {
	d := r.DeviceContext
	return Session{
		SessionID:      r.SessionID,
		FirstSeenAt:    r.Timestamp,
		LastActivityAt: r.Timestamp,
		DeviceType:     d.DeviceType,
		Browser:        d.Browser,
		OS:             d.OS,
		ScreenWidth:    d.ScreenWidth,
		ScreenHeight:   d.ScreenHeight,
		ViewportWidth:  d.ViewportWidth,
		ViewportHeight: d.ViewportHeight,
		Language:       d.Language,
		EntryURL:       r.URL,
		EntryPath:      r.Path,
		EntryTitle:     r.Title,
		Referrer:       d.Referrer,
		UTMSource:      d.UTMSource,
		UTMMedium:      d.UTMMedium,
		UTMCampaign:    d.UTMCampaign,
		UTMTerm:        d.UTMTerm,
		UTMContent:     d.UTMContent,
	}
}
