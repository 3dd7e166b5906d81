package watch

import (
	"strings"
	"time"
)

// heartbeatFrames pulse once per UI tick, like the client heartbeat.
var heartbeatFrames = [...]string{"♥", "♡"}

// Ticker shows that the UI loop itself is alive.
type Ticker struct {
	beat int
}

func NewTicker() Ticker { return Ticker{} }

func (t *Ticker) Tick() { t.beat++ }

func (t Ticker) Current() string {
	return heartbeatFrames[t.beat%len(heartbeatFrames)]
}

const (
	spinnerDots = 5
	dotLifetime = 2 * time.Second
)

// Spinner is an activity meter: every lifecycle event fills it and each
// quiet dotLifetime empties one dot.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func NewSpinner() Spinner { return Spinner{} }

func (s *Spinner) OnEvent() {
	s.dots = spinnerDots
	s.lastEvent = time.Now()
}

func (s *Spinner) Decay() {
	if s.dots == 0 {
		return
	}
	remaining := spinnerDots - int(time.Since(s.lastEvent)/dotLifetime)
	if remaining < s.dots {
		s.dots = max(remaining, 0)
	}
}

func (s Spinner) Render(theme Theme) string {
	lit := strings.Repeat("●", s.dots)
	unlit := strings.Repeat("○", spinnerDots-s.dots)
	return theme.TickerActive.Render(lit) + theme.TickerInactive.Render(unlit)
}

func (s Spinner) LastEvent() time.Time { return s.lastEvent }
