// Package render drives the matrix rows. Content updates land as
// versioned row pushes; the scheduler tracks which rows are dirty and
// redraws them across two buffer swaps so both halves of the
// double-buffered canvas converge on the same frame.
package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/railboard/railboard/pkg/display"
	"github.com/railboard/railboard/pkg/fontmetrics"
)

// RenderState tracks where the scheduler is in the two-pass redraw.
type RenderState int

const (
	StateIdle RenderState = iota
	StateFirstPass
	StateSecondPass
)

func (s RenderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFirstPass:
		return "first-pass"
	case StateSecondPass:
		return "second-pass"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrStaleVersion rejects a row push older than the content already
// on the row.
var ErrStaleVersion = errors.New("render: stale row version")

// rowContent is one versioned piece of row text. Pushing the version
// already shown is a no-op, pushing an older one is an error.
type rowContent struct {
	text    string
	version int64
	dirty   bool
}

func (r *rowContent) push(text string, version int64) (bool, error) {
	switch {
	case version < r.version:
		return false, fmt.Errorf("%w: got %d, have %d", ErrStaleVersion, version, r.version)
	case version == r.version:
		return false, nil
	}
	r.version = version
	if text != r.text {
		r.text = text
		r.dirty = true
	}
	return r.dirty, nil
}

// scroller moves text in from the right edge and reports completed
// cycles so callers can swap content between passes of long text.
type scroller struct {
	offset int
	cycles int
}

func (s *scroller) advance(canvasWidth, textWidth int) {
	s.offset++
	if s.offset >= canvasWidth+textWidth {
		s.offset = 0
		s.cycles++
	}
}

func (s *scroller) x(canvasWidth int) int {
	return canvasWidth - s.offset
}

func (s *scroller) reset() {
	s.offset = 0
	s.cycles = 0
}

// Options tune the row behaviours that are configuration driven.
// Each alternating row runs on its own timer.
type Options struct {
	// TopToggleInterval is how long the first row shows the estimate
	// before flipping to the coach count and back.
	TopToggleInterval time.Duration
	// ThirdRowInterval is how long each of the 2nd and 3rd departures
	// is shown on the alternating row.
	ThirdRowInterval time.Duration
	// MessageInterval is how long the bottom row shows the location
	// before giving the network message a turn. The narrow variant of
	// the calling points row shares this cadence.
	MessageInterval time.Duration
	// SlideThirdRow slides the alternating departures row in from the
	// right instead of cutting over.
	SlideThirdRow bool
	// CallingAtPrefix is prepended to the calling points row.
	CallingAtPrefix bool
}

// Scheduler owns the five row bands of the matrix and decides, frame
// by frame, what needs drawing.
type Scheduler struct {
	canvas   display.Canvas
	measurer *fontmetrics.Measurer
	opts     Options
	log      zerolog.Logger

	state RenderState

	topDeparture rowContent
	topETD       rowContent
	topCoaches   rowContent
	showCoaches  bool

	callingPoints  rowContent
	serviceMessage rowContent
	showServiceMsg bool
	callingScroll  scroller

	secondDeparture rowContent
	thirdDeparture  rowContent
	showThird       bool
	slideOffset     int

	location    rowContent
	message     rowContent
	showMessage bool
	msgScroll   scroller

	lastTopToggle     time.Time
	lastThirdToggle   time.Time
	lastCallingToggle time.Time
	lastMessageToggle time.Time

	lastSecond int
	fullClear  bool

	lineHeight int
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*Scheduler)

func WithLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = logger
	}
}

// NewScheduler splits the canvas into four content bands plus the
// clock band at the bottom.
func NewScheduler(canvas display.Canvas, measurer *fontmetrics.Measurer, opts Options, schedOpts ...SchedulerOption) *Scheduler {
	if opts.TopToggleInterval <= 0 {
		opts.TopToggleInterval = 3 * time.Second
	}
	if opts.ThirdRowInterval <= 0 {
		opts.ThirdRowInterval = 4 * time.Second
	}
	if opts.MessageInterval <= 0 {
		opts.MessageInterval = 6 * time.Second
	}

	s := &Scheduler{
		canvas:     canvas,
		measurer:   measurer,
		opts:       opts,
		log:        log.Logger,
		lineHeight: canvas.Height() / bandCount,
		lastSecond: -1,
	}
	for _, opt := range schedOpts {
		opt(s)
	}
	return s
}

const bandCount = 5

// State reports the current refresh state, mainly for tests and the
// status endpoint.
func (s *Scheduler) State() RenderState {
	return s.state
}

// triggerRefresh restarts the two-pass redraw. Content that changed
// mid-cycle must reach both buffers, so a trigger during the second
// pass rewinds to the first.
func (s *Scheduler) triggerRefresh() {
	s.state = StateFirstPass
}

// completePass advances the redraw after a buffer swap. Dirty marks
// survive the first pass so the second buffer gets the same redraw,
// and clear only when the cycle finishes.
func (s *Scheduler) completePass() {
	switch s.state {
	case StateFirstPass:
		s.state = StateSecondPass
	case StateSecondPass:
		s.state = StateIdle
		s.fullClear = false
		s.clearDirty()
	}
}

// TriggerFullRedraw clears the whole canvas on both passes of the
// next cycle and redraws every row.
func (s *Scheduler) TriggerFullRedraw() {
	s.fullClear = true
	s.topDeparture.dirty = true
	s.topETD.dirty = true
	s.callingPoints.dirty = true
	s.secondDeparture.dirty = true
	s.thirdDeparture.dirty = true
	s.location.dirty = true
	s.message.dirty = true
	s.triggerRefresh()
}

func (s *Scheduler) clearDirty() {
	s.topDeparture.dirty = false
	s.topETD.dirty = false
	s.topCoaches.dirty = false
	s.callingPoints.dirty = false
	s.serviceMessage.dirty = false
	s.secondDeparture.dirty = false
	s.thirdDeparture.dirty = false
	s.location.dirty = false
	s.message.dirty = false
}

func (s *Scheduler) push(row *rowContent, text string, version int64) error {
	changed, err := row.push(text, version)
	if err != nil {
		return err
	}
	if changed {
		s.triggerRefresh()
	}
	return nil
}

// UpdateTopDeparture sets the left side of the first row, normally
// the scheduled time and destination of the next departure.
func (s *Scheduler) UpdateTopDeparture(text string, version int64) error {
	return s.push(&s.topDeparture, text, version)
}

// UpdateTopStatus sets both sides of the first row's right-aligned
// toggle. With no coach text the estimate is shown permanently.
func (s *Scheduler) UpdateTopStatus(etd, coaches string, version int64) error {
	if err := s.push(&s.topETD, etd, version); err != nil {
		return err
	}
	return s.push(&s.topCoaches, coaches, version)
}

// UpdateCallingPoints sets the route side of the scrolling row. A
// change resets the scroll so the new route starts from the right
// edge.
func (s *Scheduler) UpdateCallingPoints(text string, version int64) error {
	changed, err := s.callingPoints.push(text, version)
	if err != nil {
		return err
	}
	if changed {
		s.callingScroll.reset()
		s.triggerRefresh()
	}
	return nil
}

// UpdateServiceMessage sets the per-service notice that shares the
// scrolling row with the calling points, shown for cancelled or
// heavily delayed services. When the route text is empty the message
// is shown on its own.
func (s *Scheduler) UpdateServiceMessage(text string, version int64) error {
	changed, err := s.serviceMessage.push(text, version)
	if err != nil {
		return err
	}
	if changed {
		if s.callingPoints.text == "" {
			s.showServiceMsg = text != ""
		}
		s.callingScroll.reset()
		s.triggerRefresh()
	}
	return nil
}

// UpdateSecondDeparture sets one side of the alternating row.
func (s *Scheduler) UpdateSecondDeparture(text string, version int64) error {
	return s.push(&s.secondDeparture, text, version)
}

// UpdateThirdDeparture sets the other side of the alternating row.
func (s *Scheduler) UpdateThirdDeparture(text string, version int64) error {
	return s.push(&s.thirdDeparture, text, version)
}

// UpdateLocation sets the service progress text on the bottom content
// row.
func (s *Scheduler) UpdateLocation(text string, version int64) error {
	return s.push(&s.location, text, version)
}

// UpdateMessage sets the network notice that shares the bottom row
// with the location text. A non-empty message scrolls through before
// the location is shown again.
func (s *Scheduler) UpdateMessage(text string, version int64) error {
	changed, err := s.message.push(text, version)
	if err != nil {
		return err
	}
	if changed {
		s.msgScroll.reset()
		s.showMessage = text != ""
		s.triggerRefresh()
	}
	return nil
}

// NeedsRender reports whether the next frame would draw anything:
// a redraw pass in flight, a scroll or slide in motion, or the clock
// second rolling over.
func (s *Scheduler) NeedsRender(now time.Time) bool {
	if s.state != StateIdle {
		return true
	}
	if s.scrollingCallingPoints() || s.scrollingMessage() || s.slideOffset > 0 {
		return true
	}
	return now.Second() != s.lastSecond
}

func (s *Scheduler) scrollingCallingPoints() bool {
	return s.rowTextWidth(s.callingRowText()) > s.canvas.Width()
}

func (s *Scheduler) scrollingMessage() bool {
	return s.showMessage && s.message.text != ""
}

func (s *Scheduler) rowTextWidth(text string) int {
	return s.measurer.TextWidth(text)
}

// callingRowText picks which variant the scrolling row shows this
// frame. When only one of route and service message is present, that
// one wins regardless of the toggle.
func (s *Scheduler) callingRowText() string {
	route := s.callingPoints.text
	if route != "" && s.opts.CallingAtPrefix {
		route = "Calling at: " + route
	}

	switch {
	case s.callingPoints.text == "":
		return s.serviceMessage.text
	case s.serviceMessage.text == "":
		return route
	case s.showServiceMsg:
		return s.serviceMessage.text
	default:
		return route
	}
}

// RenderFrame draws one frame and swaps buffers. It returns whether a
// swap happened, so callers can pace idle loops without burning the
// refresh budget.
func (s *Scheduler) RenderFrame(now time.Time) bool {
	s.advanceToggles(now)

	if !s.NeedsRender(now) {
		return false
	}
	if s.state == StateIdle {
		// Motion or the clock got us here without a content change.
		// Run a full cycle so both buffers pick it up.
		s.triggerRefresh()
	}
	if s.fullClear {
		s.canvas.Clear()
	}

	s.drawTopRow()
	s.drawCallingRow()
	s.drawAlternatingRow()
	s.drawBottomRow()
	s.drawClock(now)
	s.lastSecond = now.Second()

	s.canvas.SwapOnVSync()
	s.completePass()
	return true
}

// advanceToggles flips the time-driven alternations and marks the
// affected rows dirty. Each row keeps its own timer, so a short
// coach toggle never forces the slower rows to flip with it.
func (s *Scheduler) advanceToggles(now time.Time) {
	if s.toggleDue(&s.lastTopToggle, s.opts.TopToggleInterval, now) {
		if s.topCoaches.text != "" {
			s.showCoaches = !s.showCoaches
			s.topETD.dirty = true
			s.triggerRefresh()
		} else if s.showCoaches {
			s.showCoaches = false
			s.topETD.dirty = true
			s.triggerRefresh()
		}
	}

	if s.toggleDue(&s.lastThirdToggle, s.opts.ThirdRowInterval, now) {
		s.showThird = !s.showThird
		if s.opts.SlideThirdRow {
			s.slideOffset = s.canvas.Width()
		}
		s.secondDeparture.dirty = true
		s.triggerRefresh()
	}

	// Wide variants of the scrolling row flip when the text exits the
	// left edge; a narrow static variant would never get there, so
	// flip it on a timer instead.
	if s.toggleDue(&s.lastCallingToggle, s.opts.MessageInterval, now) {
		if s.callingPoints.text != "" && s.serviceMessage.text != "" &&
			s.rowTextWidth(s.callingRowText()) <= s.canvas.Width() {
			s.showServiceMsg = !s.showServiceMsg
			s.callingScroll.reset()
			s.callingPoints.dirty = true
			s.triggerRefresh()
		}
	}

	// The timer only hands the bottom row to the message; the message
	// gives it back as soon as its scroll completes.
	if s.toggleDue(&s.lastMessageToggle, s.opts.MessageInterval, now) {
		if !s.showMessage && s.message.text != "" {
			s.showMessage = true
			s.location.dirty = true
			s.triggerRefresh()
		}
	}
}

// toggleDue arms the timestamp on first sight and reports when the
// interval has elapsed since the last flip.
func (s *Scheduler) toggleDue(last *time.Time, interval time.Duration, now time.Time) bool {
	if last.IsZero() {
		*last = now
		return false
	}
	if now.Sub(*last) < interval {
		return false
	}
	*last = now
	return true
}

func (s *Scheduler) bandTop(band int) int {
	return band * s.lineHeight
}

// clearBand blanks a row's pixel band before redrawing it.
func (s *Scheduler) clearBand(band int) {
	top := s.bandTop(band)
	for y := top; y < top+s.lineHeight; y++ {
		for x := 0; x < s.canvas.Width(); x++ {
			s.canvas.SetPixel(x, y, false)
		}
	}
}

func (s *Scheduler) baseline(band int) int {
	return s.bandTop(band) + s.measurer.Font().Baseline()
}

func (s *Scheduler) drawTopRow() {
	if s.state == StateIdle {
		return
	}
	if !s.topDeparture.dirty && !s.topETD.dirty && !s.topCoaches.dirty {
		return
	}
	s.clearBand(0)
	s.canvas.DrawText(s.measurer, 0, s.baseline(0), s.topDeparture.text)

	status := s.topETD.text
	if s.showCoaches && s.topCoaches.text != "" {
		status = s.topCoaches.text
	}
	x := s.canvas.Width() - s.rowTextWidth(status)
	s.canvas.DrawText(s.measurer, x, s.baseline(0), status)
}

func (s *Scheduler) drawCallingRow() {
	text := s.callingRowText()
	wide := s.rowTextWidth(text) > s.canvas.Width()

	if !wide {
		if s.state == StateIdle {
			return
		}
		s.clearBand(1)
		if text != "" {
			s.canvas.DrawText(s.measurer, 0, s.baseline(1), text)
		}
		return
	}

	s.clearBand(1)
	s.canvas.DrawText(s.measurer, s.callingScroll.x(s.canvas.Width()), s.baseline(1), text)

	before := s.callingScroll.cycles
	s.callingScroll.advance(s.canvas.Width(), s.rowTextWidth(text))
	if s.callingScroll.cycles != before &&
		s.callingPoints.text != "" && s.serviceMessage.text != "" {
		// Full pass done, flip to the other variant from the right
		// edge.
		s.showServiceMsg = !s.showServiceMsg
		s.callingScroll.reset()
		s.triggerRefresh()
	}
}

func (s *Scheduler) drawAlternatingRow() {
	sliding := s.slideOffset > 0
	if s.state == StateIdle && !sliding {
		return
	}
	if !s.secondDeparture.dirty && !s.thirdDeparture.dirty && !sliding && s.state == StateIdle {
		return
	}

	text := s.secondDeparture.text
	if s.showThird {
		text = s.thirdDeparture.text
	}

	s.clearBand(2)
	s.canvas.DrawText(s.measurer, s.slideOffset, s.baseline(2), text)
	if sliding {
		s.slideOffset -= slideStep
		if s.slideOffset < 0 {
			s.slideOffset = 0
		}
	}
}

const slideStep = 4

func (s *Scheduler) drawBottomRow() {
	if s.showMessage {
		text := s.message.text
		s.clearBand(3)
		s.canvas.DrawText(s.measurer, s.msgScroll.x(s.canvas.Width()), s.baseline(3), text)

		before := s.msgScroll.cycles
		s.msgScroll.advance(s.canvas.Width(), s.rowTextWidth(text))
		if s.msgScroll.cycles != before {
			// One full pass shown, hand the row back to the location
			// without waiting for the timer.
			s.showMessage = false
			s.msgScroll.reset()
			s.location.dirty = true
			s.triggerRefresh()
		}
		return
	}

	if s.state == StateIdle {
		return
	}
	s.clearBand(3)
	x := (s.canvas.Width() - s.rowTextWidth(s.location.text)) / 2
	if x < 0 {
		x = 0
	}
	s.canvas.DrawText(s.measurer, x, s.baseline(3), s.location.text)
}

// drawClock redraws the bottom band clock every frame. Clearing just
// its band keeps the rest of the canvas intact between passes.
func (s *Scheduler) drawClock(now time.Time) {
	text := now.Format("15:04:05")
	s.clearBand(4)
	x := (s.canvas.Width() - s.rowTextWidth(text)) / 2
	if x < 0 {
		x = 0
	}
	s.canvas.DrawText(s.measurer, x, s.baseline(4), text)
}
