package viewport

import (
	"sync"
	"time"

	"onionchat/internal/constants"
)

// Metrics is the scroll geometry reported by the renderer, in pixels.
type Metrics struct {
	ScrollTop    float64 `json:"scroll_top"`
	ScrollHeight float64 `json:"scroll_height"`
	ClientHeight float64 `json:"client_height"`
}

// Marker is a rendered date-band marker: its top offset within the content
// and the day it introduces.
type Marker struct {
	Offset float64   `json:"offset"`
	Day    time.Time `json:"day"`
}

// Label is the floating date-context label.
type Label struct {
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// ScrollResult tells the caller what a scroll event implies.
type ScrollResult struct {
	NearTop  bool
	AtBottom bool
	Label    Label
}

type stopper interface {
	Stop() bool
}

// Config tunes a Tracker. Zero values take the package defaults.
type Config struct {
	TopThreshold    float64
	BottomTolerance float64
	LabelHideDelay  time.Duration
	LabelProbe      float64
	Location        *time.Location

	// OnLabelChange is called from the hide timer when the label disappears.
	OnLabelChange func(Label)

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
}

// Tracker keeps the viewport stable while the timeline changes underneath
// it, and derives the date-context label from scroll position.
type Tracker struct {
	cfg Config

	mu          sync.Mutex
	metrics     Metrics
	label       Label
	hideTimer   stopper
	timerSeq    uint64
	pending     bool
	anchor      float64
	anchored    bool
	wasAtBottom bool
	heightAtMut float64
	stopped     bool
}

func NewTracker(cfg Config) *Tracker {
	if cfg.TopThreshold <= 0 {
		cfg.TopThreshold = constants.DefaultTopThresholdPx
	}
	if cfg.BottomTolerance <= 0 {
		cfg.BottomTolerance = constants.DefaultBottomTolerancePx
	}
	if cfg.LabelHideDelay <= 0 {
		cfg.LabelHideDelay = constants.DefaultLabelHideMs * time.Millisecond
	}
	if cfg.LabelProbe <= 0 {
		cfg.LabelProbe = constants.DefaultLabelProbePx
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.afterFunc == nil {
		cfg.afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }
	}
	// A fresh viewport starts pinned to the bottom.
	return &Tracker{cfg: cfg, wasAtBottom: true}
}

// OnScroll records new scroll geometry and updates the date label. markers
// are the rendered date-band markers, in any order.
func (t *Tracker) OnScroll(m Metrics, markers []Marker) ScrollResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics = m
	res := ScrollResult{
		NearTop:  m.ScrollTop <= t.cfg.TopThreshold,
		AtBottom: t.atBottomLocked(),
	}
	if t.stopped {
		res.Label = t.label
		return res
	}

	if marker, ok := pickMarker(markers, m.ScrollTop+t.cfg.LabelProbe); ok {
		t.label.Text = FormatDayLabel(marker.Day, t.cfg.now(), t.cfg.Location)
	} else {
		t.label.Text = ""
	}

	if !res.AtBottom && t.label.Text != "" {
		t.label.Visible = true
	}
	t.armHideTimerLocked()

	res.Label = t.label
	return res
}

// PrepareMutation is called just before the timeline changes. When
// preserveAnchor is set (older history is about to be prepended) the
// current content height is kept as the scroll anchor.
func (t *Tracker) PrepareMutation(preserveAnchor bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = true
	t.wasAtBottom = t.atBottomLocked()
	t.heightAtMut = t.metrics.ScrollHeight
	if preserveAnchor {
		t.anchor = t.metrics.ScrollHeight
		t.anchored = true
	}
}

// CommitLayout is called once the renderer has laid out the mutated
// timeline, before paint. It returns the scroll offset to apply and whether
// the offset should change at all.
func (t *Tracker) CommitLayout(scrollHeight float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.pending {
		t.metrics.ScrollHeight = scrollHeight
		return t.metrics.ScrollTop, false
	}
	t.pending = false

	var (
		top     float64
		changed bool
	)
	switch {
	case t.anchored:
		top = scrollHeight - t.anchor
		if top < 0 {
			top = 0
		}
		changed = true
		t.anchored = false
	case t.wasAtBottom && scrollHeight > t.heightAtMut:
		top = scrollHeight
		changed = true
	default:
		top = t.metrics.ScrollTop
	}

	t.metrics.ScrollHeight = scrollHeight
	if changed {
		t.metrics.ScrollTop = top
	}
	return top, changed
}

// Label returns the current date label.
func (t *Tracker) Label() Label {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.label
}

// Metrics returns the last known scroll geometry.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// Reset forgets geometry, anchors and the label, e.g. on contact switch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked()
	t.metrics = Metrics{}
	t.label = Label{}
	t.pending = false
	t.anchored = false
	t.wasAtBottom = true
}

// Stop cancels the hide timer. Later scroll events no longer touch the label.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.stopTimerLocked()
}

func (t *Tracker) atBottomLocked() bool {
	m := t.metrics
	return m.ScrollHeight-m.ScrollTop-m.ClientHeight <= t.cfg.BottomTolerance
}

func (t *Tracker) armHideTimerLocked() {
	t.stopTimerLocked()
	t.timerSeq++
	seq := t.timerSeq
	t.hideTimer = t.cfg.afterFunc(t.cfg.LabelHideDelay, func() { t.hide(seq) })
}

func (t *Tracker) stopTimerLocked() {
	if t.hideTimer != nil {
		t.hideTimer.Stop()
		t.hideTimer = nil
	}
}

func (t *Tracker) hide(seq uint64) {
	t.mu.Lock()
	// A newer scroll re-armed the timer, or the tracker was stopped.
	if seq != t.timerSeq || t.stopped || t.hideTimer == nil {
		t.mu.Unlock()
		return
	}
	t.hideTimer = nil
	wasVisible := t.label.Visible
	t.label.Visible = false
	label := t.label
	cb := t.cfg.OnLabelChange
	t.mu.Unlock()

	if wasVisible && cb != nil {
		cb(label)
	}
}

// pickMarker returns the marker closest to, and not below, probe. When every
// marker is below the probe the first one is used.
func pickMarker(markers []Marker, probe float64) (Marker, bool) {
	if len(markers) == 0 {
		return Marker{}, false
	}

	best, found := Marker{}, false
	first := markers[0]
	for _, m := range markers {
		if m.Offset < first.Offset {
			first = m
		}
		if m.Offset <= probe && (!found || m.Offset > best.Offset) {
			best, found = m, true
		}
	}
	if !found {
		return first, true
	}
	return best, true
}
