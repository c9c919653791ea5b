// Package agent is the in-page event capture client. One Agent instance
// observes one page load: host signals come in as method calls, are
// classified into typed event records and are handed to Delivery.
package agent

import (
	"math"
	"strings"
	"sync"
	"time"

	"funneltrace/api/logger"
	"funneltrace/api/models"
	"funneltrace/api/utils"
)

const (
	sessionStorageKey = "funneltrace_session_id"

	rageClickThreshold  = 3
	rageClickWindow     = time.Second
	scrollDebounce      = 150 * time.Millisecond
	mouseSampleInterval = 500 * time.Millisecond
	engagementWindow    = 30 * time.Second
	maxElementText      = 100
)

type Options struct {
	// FunnelID and StepName attribute every event to a funnel step and
	// trigger one funnel_step event per page load. Both must be set.
	FunnelID  string
	StepName  string
	StepOrder int

	// DisableHeatmap turns off mousemove sampling.
	DisableHeatmap bool

	BatchSize         int
	FlushInterval     time.Duration
	SendTimeout       time.Duration
	HeartbeatInterval time.Duration

	Clock   Clock
	Storage Storage
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Storage == nil {
		o.Storage = NewMemoryStorage()
	}
	return o
}

func (o Options) attributed() bool {
	return o.FunnelID != "" && o.StepName != ""
}

// Element describes a click target.
type Element struct {
	Tag       string
	ID        string
	Classes   string
	Text      string
	InputType string

	HasClickHandler bool
	PointerCursor   bool
}

func (e Element) key() string {
	return strings.ToLower(e.Tag) + "#" + e.ID + "." + e.Classes
}

// ScrollPosition is a snapshot of the document scroll state in pixels.
type ScrollPosition struct {
	ScrollY        float64
	DocumentHeight float64
	ViewportHeight float64
}

// FormField is the control that received focus.
type FormField struct {
	Tag      string
	Name     string
	ID       string
	FormID   string
	FormName string
}

type Form struct {
	ID     string
	Name   string
	Action string
}

type Agent struct {
	mu sync.Mutex

	opts      Options
	clock     Clock
	delivery  *Delivery
	sessionID string
	device    models.DeviceContext

	url   string
	path  string
	title string

	started        bool
	unloaded       bool
	startedAt      time.Time
	lastActivity   time.Time
	funnelStepSent bool
	exitIntentSent bool
	heartbeat      Timer

	rageTarget string
	rageStart  time.Time
	rageCount  int

	scrollTimer   Timer
	pendingScroll ScrollPosition
	maxScroll     float64

	mouseAt   time.Time
	mouseX    float64
	mouseY    float64
	haveMouse bool
}

// New builds an agent for one page load. The session id is read from
// opts.Storage and generated there if absent.
func New(opts Options, env Environment, primary Transport, beacon BestEffortSender) *Agent {
	opts = opts.withDefaults()

	sessionID, ok := opts.Storage.Get(sessionStorageKey)
	if !ok || sessionID == "" {
		sessionID = utils.GenerateSessionID()
		opts.Storage.Set(sessionStorageKey, sessionID)
	}

	a := &Agent{
		opts:      opts,
		clock:     opts.Clock,
		delivery:  newDelivery(opts, primary, beacon),
		sessionID: sessionID,
		device:    deviceContext(env),
		title:     env.Title,
	}
	a.url, a.path = pageContext(env.URL)
	return a
}

func (a *Agent) SessionID() string {
	return a.sessionID
}

// Delivery exposes the agent's queue.
func (a *Agent) Delivery() *Delivery {
	return a.delivery
}

// Start records the pageview and the funnel step, then arms the flush and
// heartbeat timers. Calling it twice has no effect.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.unloaded {
		return
	}
	a.started = true
	a.startedAt = a.clock.Now()
	a.lastActivity = a.startedAt

	a.emitLocked(models.EventPageview, nil)
	if a.opts.attributed() && !a.funnelStepSent {
		a.funnelStepSent = true
		a.emitLocked(models.EventFunnelStep, nil)
	}

	a.delivery.start()
	a.heartbeat = a.clock.AfterFunc(a.opts.HeartbeatInterval, a.beat)

	log := logger.WithSessionID(a.sessionID)
	log.Debug().Str("component", "agent").Str("path", a.path).Msg("agent started")
}

// Click classifies one click at document coordinates x, y.
func (a *Agent) Click(x, y float64, el Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded {
		return
	}

	cta := isCTA(el)
	info := models.ElementInfo{
		Tag:     strings.ToLower(el.Tag),
		ID:      el.ID,
		Classes: el.Classes,
		Text:    truncate(strings.TrimSpace(el.Text), maxElementText),
	}
	click := func(n int) *models.ClickData {
		return &models.ClickData{X: x, Y: y, Element: info, IsCTA: cta, ClickCount: n}
	}

	typ := models.EventClick
	if cta {
		typ = models.EventCTAClick
	}
	a.emitLocked(typ, func(r *models.TrackRecord) { r.ClickData = click(0) })

	now := a.clock.Now()
	key := el.key()
	if key != a.rageTarget || now.Sub(a.rageStart) > rageClickWindow {
		a.rageTarget = key
		a.rageStart = now
		a.rageCount = 0
	}
	a.rageCount++
	if a.rageCount >= rageClickThreshold {
		n := a.rageCount
		a.emitLocked(models.EventRageClick, func(r *models.TrackRecord) { r.ClickData = click(n) })
		a.rageTarget = ""
		a.rageCount = 0
	}

	if isDeadClick(el, cta) {
		a.emitLocked(models.EventDeadClick, func(r *models.TrackRecord) { r.ClickData = click(0) })
	}
}

// Scroll records the latest scroll position; it is evaluated once scrolling
// has been quiet for the debounce period.
func (a *Agent) Scroll(pos ScrollPosition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded {
		return
	}
	a.pendingScroll = pos
	if a.scrollTimer != nil {
		a.scrollTimer.Stop()
	}
	a.scrollTimer = a.clock.AfterFunc(scrollDebounce, a.commitScroll)
}

// commitScroll emits only when the page's running maximum grows.
func (a *Agent) commitScroll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scrollTimer = nil
	if a.unloaded {
		return
	}

	pos := a.pendingScroll
	scrollable := pos.DocumentHeight - pos.ViewportHeight
	if scrollable <= 0 {
		return
	}
	pct := math.Round(math.Min(100, math.Max(0, pos.ScrollY/scrollable*100)))
	if pct <= a.maxScroll {
		return
	}
	a.maxScroll = pct
	a.emitLocked(models.EventScroll, func(r *models.TrackRecord) {
		r.ScrollData = &models.ScrollData{Depth: pos.ScrollY, Percentage: pct, MaxDepth: pct}
	})
}

// MouseMove samples pointer positions at most once per sample interval.
// Speed is pixels per second between consecutive samples.
func (a *Agent) MouseMove(x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded || a.opts.DisableHeatmap {
		return
	}

	now := a.clock.Now()
	if a.haveMouse && now.Sub(a.mouseAt) < mouseSampleInterval {
		return
	}

	var speed float64
	if a.haveMouse {
		if dt := now.Sub(a.mouseAt).Seconds(); dt > 0 {
			speed = math.Hypot(x-a.mouseX, y-a.mouseY) / dt
		}
	}
	a.mouseAt, a.mouseX, a.mouseY, a.haveMouse = now, x, y, true

	a.emitLocked(models.EventMousemove, func(r *models.TrackRecord) {
		r.MouseData = &models.MouseData{X: x, Y: y, Speed: math.Round(speed*100) / 100}
	})
}

// FocusIn records focus on an input, textarea or select.
func (a *Agent) FocusIn(f FormField) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded || !isFormControl(f.Tag) {
		return
	}
	field := f.Name
	if field == "" {
		field = f.ID
	}
	a.emitLocked(models.EventFormInteraction, func(r *models.TrackRecord) {
		r.FormData = &models.FormData{FormID: f.FormID, FormName: f.FormName, Field: field, Action: "focus"}
	})
}

func (a *Agent) FormSubmit(f Form) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded {
		return
	}
	a.emitLocked(models.EventFormSubmit, func(r *models.TrackRecord) {
		r.FormData = &models.FormData{FormID: f.ID, FormName: f.Name, Action: "submit"}
	})
}

// PointerLeave fires exit intent once, when the pointer leaves through the
// top edge of the viewport into no other element.
func (a *Agent) PointerLeave(clientY float64, hasRelatedTarget bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded || a.exitIntentSent || hasRelatedTarget || clientY > 0 {
		return
	}
	a.exitIntentSent = true
	a.emitLocked(models.EventExitIntent, nil)
}

// Navigate switches to a new page context without a reload: a pageview is
// recorded and the scroll maximum starts over.
func (a *Agent) Navigate(rawURL, title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded {
		return
	}
	a.url, a.path = pageContext(rawURL)
	a.title = title
	a.maxScroll = 0
	a.emitLocked(models.EventPageview, nil)
}

// VisibilityHidden flushes the queue when the page is hidden.
func (a *Agent) VisibilityHidden() {
	a.delivery.Flush()
}

// Unload stops all timers and hands the queue to the beacon. The agent
// ignores every signal afterwards.
func (a *Agent) Unload() {
	a.mu.Lock()
	if a.unloaded {
		a.mu.Unlock()
		return
	}
	a.unloaded = true
	for _, t := range []Timer{a.heartbeat, a.scrollTimer} {
		if t != nil {
			t.Stop()
		}
	}
	a.heartbeat, a.scrollTimer = nil, nil
	a.mu.Unlock()

	a.delivery.Unload()
}

// Wait blocks until in-flight deliveries finish.
func (a *Agent) Wait() {
	a.delivery.Wait()
}

func (a *Agent) beat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unloaded {
		return
	}
	now := a.clock.Now()
	elapsed := int(now.Sub(a.startedAt) / time.Second)
	engaged := now.Sub(a.lastActivity) < engagementWindow
	a.emitLocked(models.EventTimeOnPage, func(r *models.TrackRecord) {
		r.TimeData = &models.TimeData{Elapsed: elapsed, Engaged: engaged}
	})
	a.heartbeat = a.clock.AfterFunc(a.opts.HeartbeatInterval, a.beat)
}

// emitLocked stamps the shared context onto a record and queues it. Every
// event except the heartbeat counts as activity.
func (a *Agent) emitLocked(typ models.EventType, fill func(r *models.TrackRecord)) {
	now := a.clock.Now()
	rec := models.TrackRecord{
		SessionID:     a.sessionID,
		Type:          string(typ),
		Timestamp:     now.UnixMilli(),
		URL:           a.url,
		Path:          a.path,
		Title:         a.title,
		DeviceContext: a.device,
	}
	if a.opts.attributed() {
		rec.FunnelData = &models.FunnelData{
			FunnelID:  a.opts.FunnelID,
			StepName:  a.opts.StepName,
			StepOrder: a.opts.StepOrder,
		}
	}
	if fill != nil {
		fill(&rec)
	}
	if typ != models.EventTimeOnPage {
		a.lastActivity = now
	}
	a.delivery.Enqueue(rec)
}

var ctaClassMarkers = []string{"btn", "button", "cta"}

// isCTA reports buttons, links, submit controls and elements styled as one.
func isCTA(el Element) bool {
	switch strings.ToLower(el.Tag) {
	case "button", "a":
		return true
	case "input":
		switch strings.ToLower(el.InputType) {
		case "submit", "button":
			return true
		}
	}
	for _, class := range strings.Fields(strings.ToLower(el.Classes)) {
		for _, marker := range ctaClassMarkers {
			if strings.Contains(class, marker) {
				return true
			}
		}
	}
	return false
}

func isFormControl(tag string) bool {
	switch strings.ToLower(tag) {
	case "input", "textarea", "select":
		return true
	}
	return false
}

// isDeadClick treats an element as interactive when it has a click handler
// or a pointer cursor. Form controls and CTAs are never dead.
func isDeadClick(el Element, cta bool) bool {
	if cta || isFormControl(el.Tag) {
		return false
	}
	return !el.HasClickHandler && !el.PointerCursor
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
