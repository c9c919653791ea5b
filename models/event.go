// models/event.go
package models

// EventType enumerates the interaction kinds the agent emits.
type EventType string

const (
	EventPageview        EventType = "pageview"
	EventClick           EventType = "click"
	EventCTAClick        EventType = "cta_click"
	EventRageClick       EventType = "rage_click"
	EventDeadClick       EventType = "dead_click"
	EventScroll          EventType = "scroll"
	EventMousemove       EventType = "mousemove"
	EventFormInteraction EventType = "form_interaction"
	EventFormSubmit      EventType = "form_submit"
	EventExitIntent      EventType = "exit_intent"
	EventTimeOnPage      EventType = "time_on_page"
	EventFunnelStep      EventType = "funnel_step"
)

var knownEventTypes = map[EventType]bool{
	EventPageview:        true,
	EventClick:           true,
	EventCTAClick:        true,
	EventRageClick:       true,
	EventDeadClick:       true,
	EventScroll:          true,
	EventMousemove:       true,
	EventFormInteraction: true,
	EventFormSubmit:      true,
	EventExitIntent:      true,
	EventTimeOnPage:      true,
	EventFunnelStep:      true,
}

// Valid reports whether t is one of the enumerated event types.
func (t EventType) Valid() bool {
	return knownEventTypes[t]
}

// Event is one stored interaction row. Rows are append-only; ordering within
// a session comes from Timestamp (epoch millis, client clock), never from
// insertion order.
type Event struct {
	EventID   string    `json:"eventId"`
	SessionID string    `json:"sessionId"`
	EventType EventType `json:"eventType"`
	Timestamp int64     `json:"timestamp"`

	URL   string `json:"url"`
	Path  string `json:"path"`
	Title string `json:"title"`

	// Pointer position for click and mousemove events.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	ElementTag     string `json:"elementTag,omitempty"`
	ElementID      string `json:"elementId,omitempty"`
	ElementClasses string `json:"elementClasses,omitempty"`
	ElementText    string `json:"elementText,omitempty"`
	IsCTA          bool   `json:"isCta"`
	ClickCount     int    `json:"clickCount,omitempty"`

	ScrollDepth      float64 `json:"scrollDepth,omitempty"`
	ScrollPercentage float64 `json:"scrollPercentage,omitempty"`
	MaxScroll        float64 `json:"maxScroll,omitempty"`

	MouseSpeed float64 `json:"mouseSpeed,omitempty"`

	FormID     string `json:"formId,omitempty"`
	FormName   string `json:"formName,omitempty"`
	FormField  string `json:"formField,omitempty"`
	FormAction string `json:"formAction,omitempty"`

	FunnelID  string `json:"funnelId,omitempty"`
	StepName  string `json:"stepName,omitempty"`
	StepOrder int    `json:"stepOrder,omitempty"`

	ElapsedSeconds int  `json:"elapsedSeconds,omitempty"`
	Engaged        bool `json:"engaged"`
}

// StepEvent is the projection of a funnel_step row the sessionizer reads.
type StepEvent struct {
	SessionID string
	StepName  string
	Timestamp int64
}
