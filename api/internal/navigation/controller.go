// Package navigation owns one user's session: which screen is shown, what data
// has been collected, and which transitions are allowed.
//
// All state lives on a single loop goroutine (Run). Gateway calls and timers
// run elsewhere and post their results back as events; a generation counter
// bumped on every screen change and every new request lets the loop drop
// results that are no longer relevant.
package navigation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"babmutna-bot/api/internal/location"
	"babmutna-bot/api/internal/lunch"
	"babmutna-bot/api/internal/metrics"
	"babmutna-bot/api/internal/places"
	"babmutna-bot/api/internal/selection"
)

var (
	ErrInvalidTransition = errors.New("transition not allowed from current screen")
	ErrBusy              = errors.New("a recommendation request is already in flight")
	ErrEmptyMenu         = errors.New("cafeteria menu is empty")
	ErrImageUnsupported  = errors.New("image menu input is not supported yet")
	ErrUnknownMenu       = errors.New("menu is not part of the recommendation")
	ErrNothingSelected   = errors.New("nothing selected")
	ErrSpinning          = errors.New("roulette is already spinning")
	ErrNoResult          = errors.New("roulette has no result yet")
	ErrStopped           = errors.New("controller stopped")
)

// User-facing texts.
const (
	MsgRecommendFailed  = "추천을 가져오는데 실패했습니다."
	MsgImageUnsupported = "이미지 업로드 기능은 개발 중입니다. 텍스트로 입력해주세요."
	MsgPlacesFailed     = "주변 식당을 찾지 못했습니다."
	MsgRecipeFailed     = "레시피를 가져오지 못했습니다."
)

const (
	DefaultDeniedGrace = 3 * time.Second
	asyncTimeout       = 60 * time.Second
)

type LocationSource interface {
	RequestLocation(ctx context.Context) location.Result
}

type WeatherGateway interface {
	FetchWeather(ctx context.Context, location string) (lunch.WeatherSnapshot, error)
}

type RecommendationGateway interface {
	GetRecommendation(ctx context.Context, location, menuText string, coords *lunch.Coordinates) (*lunch.RecommendationSet, error)
}

type RecipeGateway interface {
	GetRecipe(ctx context.Context, menuName string, servings int) (lunch.Recipe, error)
}

type PlaceSearcher interface {
	Search(ctx context.Context, q places.Query) ([]lunch.Place, error)
}

// Selection is one confirmed choice, handed to a SelectionRecorder.
type Selection struct {
	SessionID     string
	CafeteriaMenu string
	Menu          string
	Method        Method
	Coords        *lunch.Coordinates
	At            time.Time
}

type SelectionRecorder interface {
	RecordSelection(ctx context.Context, s Selection) error
}

// Renderer is called on the loop goroutine after every state change.
type Renderer interface {
	Render(s Snapshot)
}

type RendererFunc func(Snapshot)

func (f RendererFunc) Render(s Snapshot) { f(s) }

// Deps are the controller's collaborators. Location, Weather and Recommend are
// required; the rest may be nil.
type Deps struct {
	Location  LocationSource
	Weather   WeatherGateway
	Recommend RecommendationGateway
	Recipes   RecipeGateway
	Places    PlaceSearcher
	Recorder  SelectionRecorder
	Renderer  Renderer

	Clock selection.Clock
	Rand  selection.Rand
	Log   *zap.Logger

	SessionID   string
	DeniedGrace time.Duration
	SettleDelay time.Duration
}

type message struct {
	ev    Event
	reply chan error
}

type Controller struct {
	d      Deps
	log    *zap.Logger
	inbox  chan message
	done   chan struct{}
	runCtx context.Context

	// loop-owned state
	screen     Screen
	loc        string
	coords     *lunch.Coordinates
	permission lunch.PermissionState
	weather    *lunch.WeatherSnapshot
	menuInput  *lunch.MenuInput
	loading    bool
	errMsg     string
	notice     string

	gen        uint64
	locReq     uint64
	graceTimer selection.Timer
	dirty      bool
}

func New(d Deps) *Controller {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = selection.RealClock{}
	}
	if d.DeniedGrace <= 0 {
		d.DeniedGrace = DefaultDeniedGrace
	}
	if d.SettleDelay <= 0 {
		d.SettleDelay = selection.DefaultSettleDelay
	}
	return &Controller{
		d:          d,
		log:        d.Log.Named("navigation").With(zap.String("session", d.SessionID)),
		inbox:      make(chan message, 32),
		done:       make(chan struct{}),
		screen:     AcquiringLocation{},
		loc:        lunch.DefaultLocation,
		permission: lunch.PermissionPending,
	}
}

// Run starts location acquisition and processes events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)
	defer c.shutdown()

	c.render()
	c.requestLocation()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.inbox:
			err := c.apply(m.ev)
			if c.dirty {
				c.dirty = false
				c.render()
			}
			if m.reply != nil {
				m.reply <- err
			}
		}
	}
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Dispatch applies a user event and returns why it was rejected, if it was.
// A rejected event leaves the session untouched.
func (c *Controller) Dispatch(ctx context.Context, ev Event) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- message{ev: ev, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	out := make(chan Snapshot, 1)
	if err := c.Dispatch(ctx, snapshotQuery{out: out}); err != nil {
		return Snapshot{}, err
	}
	return <-out, nil
}

func (c *Controller) post(ev Event) {
	select {
	case c.inbox <- message{ev: ev}:
	case <-c.done:
	}
}

func (c *Controller) apply(ev Event) error {
	switch e := ev.(type) {
	case snapshotQuery:
		e.out <- c.snapshot()
		return nil

	case locationResolved:
		c.onLocationResolved(e)
		return nil
	case advanceToInput:
		c.onAdvance(e.req)
		return nil
	case weatherLoaded:
		c.onWeather(e)
		return nil
	case recommendationDone:
		c.onRecommendation(e)
		return nil
	case spinSettled:
		c.onSpinSettled(e)
		return nil
	case placesLoaded:
		c.onPlaces(e)
		return nil
	case recipeLoaded:
		c.onRecipe(e)
		return nil

	case SubmitMenu:
		return c.submitMenu(e.Input)
	case SelectItem:
		return c.selectItem(e.Menu)
	case ConfirmPick:
		return c.confirmPick()
	case OpenRoulette:
		return c.openRoulette()
	case Spin:
		return c.spin()
	case ConfirmRoulette:
		return c.confirmRoulette()
	case Back:
		return c.back()
	case DismissError:
		if c.errMsg != "" || c.notice != "" {
			c.errMsg, c.notice = "", ""
			c.dirty = true
		}
		return nil
	case RequestRecipe:
		return c.requestRecipe(e.Servings)
	}
	return ErrInvalidTransition
}

// setScreen is the only place the screen changes.
func (c *Controller) setScreen(s Screen) {
	if w, ok := c.screen.(*Roulette); ok {
		w.wheel.Stop()
	}
	c.log.Debug("screen", zap.String("from", string(c.screen.Kind())), zap.String("to", string(s.Kind())))
	c.screen = s
	c.notice = ""
	c.gen++
	c.dirty = true
}

// --- location ---

func (c *Controller) requestLocation() {
	c.locReq++
	req := c.locReq
	ctx := c.runCtx
	go func() {
		res := c.d.Location.RequestLocation(ctx)
		c.post(locationResolved{req: req, res: res})
	}()
}

func (c *Controller) onLocationResolved(e locationResolved) {
	if e.req != c.locReq || c.screen.Kind() != KindAcquiringLocation {
		return
	}
	if c.permission == lunch.PermissionPending {
		c.permission = e.res.Permission
	}
	c.coords = e.res.Coords
	c.loc = e.res.Location
	if c.loc == "" {
		c.loc = lunch.DefaultLocation
	}
	c.dirty = true
	metrics.LocationResultsTotal.WithLabelValues(string(e.res.Permission)).Inc()

	c.fetchWeather(c.loc)

	if e.res.Granted() {
		c.onAdvance(e.req)
		return
	}
	// denied: show the notice for a moment, then move on without user input
	req := e.req
	c.graceTimer = c.d.Clock.AfterFunc(c.d.DeniedGrace, func() {
		c.post(advanceToInput{req: req})
	})
}

func (c *Controller) onAdvance(req uint64) {
	if req != c.locReq || c.screen.Kind() != KindAcquiringLocation {
		return
	}
	c.graceTimer = nil
	c.setScreen(CollectingInput{})
}

func (c *Controller) fetchWeather(loc string) {
	ctx := c.runCtx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, asyncTimeout)
		defer cancel()
		w, err := c.d.Weather.FetchWeather(ctx, loc)
		c.post(weatherLoaded{weather: w, err: err})
	}()
}

func (c *Controller) onWeather(e weatherLoaded) {
	if e.err != nil {
		// cosmetic only
		metrics.WeatherFailuresTotal.Inc()
		c.log.Debug("weather fetch failed", zap.Error(e.err))
		return
	}
	w := e.weather
	c.weather = &w
	c.dirty = true
}

// --- input ---

func (c *Controller) submitMenu(in lunch.MenuInput) error {
	if _, ok := c.screen.(CollectingInput); !ok {
		return ErrInvalidTransition
	}
	if c.loading {
		return ErrBusy
	}
	if in.Method == lunch.MethodImage {
		c.notice = MsgImageUnsupported
		c.dirty = true
		return ErrImageUnsupported
	}
	text := strings.TrimSpace(in.Content)
	if in.Method != lunch.MethodText || text == "" {
		return ErrEmptyMenu
	}

	c.menuInput = &lunch.MenuInput{Method: lunch.MethodText, Content: text}
	c.loading = true
	c.errMsg = ""
	c.notice = ""
	c.gen++
	c.dirty = true

	gen, loc, coords, ctx := c.gen, c.loc, c.coords, c.runCtx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, asyncTimeout)
		defer cancel()
		set, err := c.d.Recommend.GetRecommendation(ctx, loc, text, coords)
		c.post(recommendationDone{gen: gen, set: set, err: err})
	}()
	return nil
}

func (c *Controller) onRecommendation(e recommendationDone) {
	if e.gen != c.gen || c.screen.Kind() != KindCollectingInput {
		metrics.RecommendationsTotal.WithLabelValues("stale").Inc()
		c.log.Debug("stale recommendation dropped", zap.Uint64("gen", e.gen), zap.Uint64("current", c.gen))
		return
	}
	c.loading = false
	c.dirty = true
	if e.err == nil && e.set != nil {
		e.err = e.set.Validate()
	}
	if e.err != nil {
		metrics.RecommendationsTotal.WithLabelValues("error").Inc()
		c.log.Warn("recommendation failed", zap.Error(e.err))
		c.errMsg = MsgRecommendFailed
		return
	}
	metrics.RecommendationsTotal.WithLabelValues("ok").Inc()
	c.setScreen(&PresentingResult{Recommendation: e.set, picker: selection.NewPicker(e.set)})
}

// --- result ---

func (c *Controller) selectItem(menu string) error {
	s, ok := c.screen.(*PresentingResult)
	if !ok {
		return ErrInvalidTransition
	}
	prev, had := s.picker.Selected()
	if !s.picker.Select(menu) {
		return ErrUnknownMenu
	}
	if !had || prev.Menu != menu {
		c.dirty = true
	}
	return nil
}

func (c *Controller) confirmPick() error {
	s, ok := c.screen.(*PresentingResult)
	if !ok {
		return ErrInvalidTransition
	}
	menu, ok := s.picker.Confirm()
	if !ok {
		return ErrNothingSelected
	}
	return c.enterRestaurantLookup(s.Recommendation, menu, MethodDirect)
}

func (c *Controller) openRoulette() error {
	s, ok := c.screen.(*PresentingResult)
	if !ok {
		return ErrInvalidTransition
	}
	w := selection.NewWheel(s.Recommendation.Recommendations,
		selection.WithClock(c.d.Clock),
		selection.WithRand(c.d.Rand),
		selection.WithSettleDelay(c.d.SettleDelay))
	c.setScreen(&Roulette{Recommendation: s.Recommendation, wheel: w})
	return nil
}

// --- roulette ---

func (c *Controller) spin() error {
	s, ok := c.screen.(*Roulette)
	if !ok {
		return ErrInvalidTransition
	}
	gen := c.gen
	if !s.wheel.Spin(func(id uint64) { c.post(spinSettled{gen: gen, spinID: id}) }) {
		return ErrSpinning
	}
	metrics.RouletteSpinsTotal.Inc()
	c.dirty = true
	return nil
}

func (c *Controller) onSpinSettled(e spinSettled) {
	s, ok := c.screen.(*Roulette)
	if !ok || e.gen != c.gen {
		return
	}
	if s.wheel.Settle(e.spinID) {
		c.dirty = true
	}
}

func (c *Controller) confirmRoulette() error {
	s, ok := c.screen.(*Roulette)
	if !ok {
		return ErrInvalidTransition
	}
	menu, ok := s.wheel.Confirm()
	if !ok {
		return ErrNoResult
	}
	return c.enterRestaurantLookup(s.Recommendation, menu, MethodRoulette)
}

// --- restaurant lookup ---

func (c *Controller) enterRestaurantLookup(set *lunch.RecommendationSet, menu string, m Method) error {
	rl, ok := newRestaurantLookup(set, menu, m)
	if !ok {
		return ErrInvalidTransition
	}
	rl.PlacesPending = c.d.Places != nil
	c.setScreen(rl)
	metrics.SelectionsTotal.WithLabelValues(string(m)).Inc()

	gen, coords, ctx := c.gen, c.coords, c.runCtx
	if c.d.Places != nil {
		go func() {
			ctx, cancel := context.WithTimeout(ctx, asyncTimeout)
			defer cancel()
			ps, err := c.d.Places.Search(ctx, places.Query{MenuName: menu, Origin: coords})
			c.post(placesLoaded{gen: gen, places: ps, err: err})
		}()
	}
	if c.d.Recorder != nil {
		sel := Selection{
			SessionID:     c.d.SessionID,
			CafeteriaMenu: set.CafeteriaMenu,
			Menu:          menu,
			Method:        m,
			Coords:        coords,
			At:            time.Now(),
		}
		if sel.CafeteriaMenu == "" && c.menuInput != nil {
			sel.CafeteriaMenu = c.menuInput.Content
		}
		go func() {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := c.d.Recorder.RecordSelection(ctx, sel); err != nil {
				c.log.Warn("record selection", zap.Error(err))
			}
		}()
	}
	return nil
}

func (c *Controller) onPlaces(e placesLoaded) {
	s, ok := c.screen.(*RestaurantLookup)
	if !ok || e.gen != c.gen {
		return
	}
	s.PlacesPending = false
	c.dirty = true
	if e.err != nil {
		c.log.Warn("places search failed", zap.Error(e.err))
		c.notice = MsgPlacesFailed
		return
	}
	s.Places = e.places
}

func (c *Controller) requestRecipe(servings int) error {
	s, ok := c.screen.(*RestaurantLookup)
	if !ok || c.d.Recipes == nil {
		return ErrInvalidTransition
	}
	gen, menu, ctx := c.gen, s.SelectedMenu, c.runCtx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, asyncTimeout)
		defer cancel()
		r, err := c.d.Recipes.GetRecipe(ctx, menu, servings)
		c.post(recipeLoaded{gen: gen, recipe: r, err: err})
	}()
	return nil
}

func (c *Controller) onRecipe(e recipeLoaded) {
	s, ok := c.screen.(*RestaurantLookup)
	if !ok || e.gen != c.gen {
		return
	}
	c.dirty = true
	if e.err != nil {
		c.log.Warn("recipe failed", zap.Error(e.err))
		c.notice = MsgRecipeFailed
		return
	}
	r := e.recipe
	s.Recipe = &r
}

// --- back ---

func (c *Controller) back() error {
	switch s := c.screen.(type) {
	case *Roulette:
		c.setScreen(&PresentingResult{Recommendation: s.Recommendation, picker: selection.NewPicker(s.Recommendation)})
	case *RestaurantLookup, *PresentingResult:
		// a fresh input cycle starts with no recommendation or selection
		c.menuInput = nil
		c.setScreen(CollectingInput{})
	default:
		return ErrInvalidTransition
	}
	return nil
}

func (c *Controller) shutdown() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
	}
	if w, ok := c.screen.(*Roulette); ok {
		w.wheel.Stop()
	}
}

func (c *Controller) render() {
	if c.d.Renderer != nil {
		c.d.Renderer.Render(c.snapshot())
	}
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Screen:     c.screen.Kind(),
		Location:   c.loc,
		Coords:     c.coords,
		Permission: c.permission,
		Weather:    c.weather,
		MenuInput:  c.menuInput,
		Loading:    c.loading,
		Error:      c.errMsg,
		Notice:     c.notice,
	}
	switch sc := c.screen.(type) {
	case *PresentingResult:
		s.Recommendation = sc.Recommendation
		if it, ok := sc.picker.Selected(); ok {
			s.Candidate = &it
		}
		s.CanConfirm = sc.picker.CanConfirm()
	case *Roulette:
		s.Recommendation = sc.Recommendation
		s.Spinning = sc.wheel.Spinning()
		if it, ok := sc.wheel.Result(); ok {
			s.RouletteResult = &it
		}
	case *RestaurantLookup:
		s.Recommendation = sc.Recommendation
		s.SelectedMenu = sc.SelectedMenu
		s.Places = sc.Places
		s.PlacesPending = sc.PlacesPending
		s.Recipe = sc.Recipe
	}
	return s
}
