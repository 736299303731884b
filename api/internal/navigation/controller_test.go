package navigation

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"babmutna-bot/api/internal/location"
	"babmutna-bot/api/internal/lunch"
	"babmutna-bot/api/internal/places"
	"babmutna-bot/api/internal/selection"
	"babmutna-bot/api/internal/selection/selectiontest"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeLocation struct{ res location.Result }

func (f fakeLocation) RequestLocation(context.Context) location.Result { return f.res }

var (
	granted = fakeLocation{res: location.Result{
		Permission: lunch.PermissionGranted,
		Coords:     &lunch.Coordinates{Latitude: 37.4979, Longitude: 127.0276},
		Location:   lunch.DefaultLocation,
	}}
	denied = fakeLocation{res: location.Result{Permission: lunch.PermissionDenied, Location: lunch.DefaultLocation}}
)

type fakeWeather struct{ err error }

func (f fakeWeather) FetchWeather(_ context.Context, loc string) (lunch.WeatherSnapshot, error) {
	if f.err != nil {
		return lunch.WeatherSnapshot{}, f.err
	}
	return lunch.WeatherSnapshot{Location: loc, Temperature: 14, SkyCondition: "맑음", Humidity: 40}, nil
}

type recommendCall struct {
	location string
	menu     string
	coords   *lunch.Coordinates
}

type fakeRecommend struct {
	mu      sync.Mutex
	calls   []recommendCall
	respond func(n int, menu string) (*lunch.RecommendationSet, error)
}

func (f *fakeRecommend) GetRecommendation(_ context.Context, loc, menu string, coords *lunch.Coordinates) (*lunch.RecommendationSet, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recommendCall{location: loc, menu: menu, coords: coords})
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(n, menu)
}

func (f *fakeRecommend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func threeItems(menu string, names ...string) *lunch.RecommendationSet {
	if len(names) == 0 {
		names = []string{"수제 제육정식", "오징어볶음", "칼국수"}
	}
	types := []string{lunch.TypeUpgrade, lunch.TypeSimilar, lunch.TypeWeather}
	set := &lunch.RecommendationSet{CafeteriaMenu: menu, WeatherSummary: "맑음"}
	for i, n := range names {
		set.Recommendations = append(set.Recommendations, lunch.RecommendationItem{
			Menu: n, Type: types[i%3], Category: "한식", Reason: "맛있음", PriceRange: "9,000-12,000원",
		})
	}
	return set
}

func okRecommend(names ...string) *fakeRecommend {
	return &fakeRecommend{respond: func(_ int, menu string) (*lunch.RecommendationSet, error) {
		return threeItems(menu, names...), nil
	}}
}

type renderLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *renderLog) Render(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *renderLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

type harness struct {
	c      *Controller
	clock  *selectiontest.Clock
	render *renderLog
}

func start(t *testing.T, d Deps) *harness {
	t.Helper()
	h := &harness{clock: selectiontest.NewClock(), render: &renderLog{}}
	if d.Location == nil {
		d.Location = granted
	}
	if d.Weather == nil {
		d.Weather = fakeWeather{}
	}
	if d.Recommend == nil {
		d.Recommend = okRecommend()
	}
	d.Clock = h.clock
	d.Renderer = h.render
	d.Log = zap.NewNop()
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(3, 4))
	}
	h.c = New(d)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.c.Done()
	})
	return h
}

func (h *harness) snap(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.c.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func (h *harness) waitScreen(t *testing.T, k ScreenKind) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return h.snap(t).Screen == k }, waitFor, tick, "screen %s", k)
	return h.snap(t)
}

func (h *harness) do(t *testing.T, ev Event) error {
	t.Helper()
	return h.c.Dispatch(context.Background(), ev)
}

// reachResult drives the session from start to presenting-result.
func (h *harness) reachResult(t *testing.T, menu string) Snapshot {
	t.Helper()
	h.waitScreen(t, KindCollectingInput)
	require.NoError(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: menu}}))
	return h.waitScreen(t, KindPresentingResult)
}

func TestInitialState(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	h := start(t, Deps{Location: blockingLocation(block)})

	s := h.snap(t)
	assert.Equal(t, KindAcquiringLocation, s.Screen)
	assert.Equal(t, lunch.PermissionPending, s.Permission)
	assert.Equal(t, lunch.DefaultLocation, s.Location)
	assert.Nil(t, s.Recommendation)
	assert.Empty(t, s.SelectedMenu)
}

type blockingLocation chan struct{}

func (b blockingLocation) RequestLocation(ctx context.Context) location.Result {
	select {
	case <-b:
	case <-ctx.Done():
	}
	return location.Result{Permission: lunch.PermissionDenied, Location: lunch.DefaultLocation}
}

func TestLocationGranted_AdvancesAndFetchesWeather(t *testing.T) {
	h := start(t, Deps{})

	s := h.waitScreen(t, KindCollectingInput)
	assert.Equal(t, lunch.PermissionGranted, s.Permission)
	require.NotNil(t, s.Coords)
	assert.Equal(t, lunch.DefaultLocation, s.Location)

	require.Eventually(t, func() bool { return h.snap(t).Weather != nil }, waitFor, tick)
	assert.Equal(t, lunch.DefaultLocation, h.snap(t).Weather.Location)
}

func TestLocationDenied_AdvancesAfterGrace(t *testing.T) {
	h := start(t, Deps{Location: denied})

	require.Eventually(t, func() bool { return h.clock.Pending() == 1 }, waitFor, tick)
	s := h.snap(t)
	assert.Equal(t, KindAcquiringLocation, s.Screen)
	assert.Equal(t, lunch.PermissionDenied, s.Permission)
	assert.Nil(t, s.Coords)

	h.clock.Advance(DefaultDeniedGrace - time.Millisecond)
	assert.Equal(t, KindAcquiringLocation, h.snap(t).Screen)

	h.clock.Advance(time.Millisecond)
	s = h.waitScreen(t, KindCollectingInput)
	assert.Equal(t, lunch.DefaultLocation, s.Location)
	assert.Equal(t, lunch.PermissionDenied, s.Permission)
}

func TestLocation_SingleAdvance(t *testing.T) {
	h := start(t, Deps{})
	h.reachResult(t, "김치찌개")

	// a late duplicate resolution or advance must not drag the session back
	h.c.post(locationResolved{req: 1, res: granted.res})
	h.c.post(advanceToInput{req: 1})
	assert.Equal(t, KindPresentingResult, h.snap(t).Screen)
}

func TestWeatherFailureIsSilent(t *testing.T) {
	h := start(t, Deps{Weather: fakeWeather{err: errors.New("open-meteo down")}})

	h.waitScreen(t, KindCollectingInput)
	s := h.snap(t)
	assert.Nil(t, s.Weather)
	assert.Empty(t, s.Error)
	assert.Empty(t, s.Notice)
}

func TestDirectPickRoundTrip(t *testing.T) {
	rec := okRecommend()
	h := start(t, Deps{Recommend: rec})

	s := h.reachResult(t, "제육볶음, 된장찌개")
	require.Len(t, s.Recommendation.Recommendations, 3)
	assert.Equal(t, "제육볶음, 된장찌개", rec.calls[0].menu)
	assert.Equal(t, lunch.DefaultLocation, rec.calls[0].location)
	require.NotNil(t, rec.calls[0].coords)
	assert.False(t, s.CanConfirm)

	want := s.Recommendation.Recommendations[1].Menu
	require.NoError(t, h.do(t, SelectItem{Menu: want}))
	s = h.snap(t)
	assert.True(t, s.CanConfirm)
	require.NotNil(t, s.Candidate)
	assert.Equal(t, want, s.Candidate.Menu)

	require.NoError(t, h.do(t, ConfirmPick{}))
	s = h.snap(t)
	assert.Equal(t, KindRestaurantLookup, s.Screen)
	assert.Equal(t, want, s.SelectedMenu)
	assert.NotNil(t, s.Recommendation)
}

func TestConfirmWithoutSelectionIsNoop(t *testing.T) {
	h := start(t, Deps{})
	h.reachResult(t, "돈까스")
	before := h.render.count()

	assert.ErrorIs(t, h.do(t, ConfirmPick{}), ErrNothingSelected)
	s := h.snap(t)
	assert.Equal(t, KindPresentingResult, s.Screen)
	assert.Empty(t, s.SelectedMenu)
	assert.Equal(t, before, h.render.count())

	assert.ErrorIs(t, h.do(t, SelectItem{Menu: "없는 메뉴"}), ErrUnknownMenu)
	assert.False(t, h.snap(t).CanConfirm)
}

func TestBackFromRestaurantClearsSelection(t *testing.T) {
	rec := &fakeRecommend{respond: func(n int, menu string) (*lunch.RecommendationSet, error) {
		if n == 1 {
			return threeItems(menu), nil
		}
		return threeItems(menu, "쌀국수", "팟타이", "분짜"), nil
	}}
	h := start(t, Deps{Recommend: rec})
	s := h.reachResult(t, "제육볶음")
	require.NoError(t, h.do(t, SelectItem{Menu: s.Recommendation.Recommendations[0].Menu}))
	require.NoError(t, h.do(t, ConfirmPick{}))

	require.NoError(t, h.do(t, Back{}))
	s = h.snap(t)
	assert.Equal(t, KindCollectingInput, s.Screen)
	assert.Nil(t, s.Recommendation)
	assert.Empty(t, s.SelectedMenu)
	assert.Nil(t, s.Candidate)

	require.NoError(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "닭갈비"}}))
	s = h.waitScreen(t, KindPresentingResult)
	assert.Equal(t, 2, rec.callCount())
	assert.Equal(t, "쌀국수", s.Recommendation.Recommendations[0].Menu)
	assert.Equal(t, "닭갈비", s.Recommendation.CafeteriaMenu)
	assert.False(t, s.CanConfirm, "no candidate carried over")
}

func TestBackFromResultClearsRecommendation(t *testing.T) {
	h := start(t, Deps{})
	h.reachResult(t, "순두부")

	require.NoError(t, h.do(t, Back{}))
	s := h.snap(t)
	assert.Equal(t, KindCollectingInput, s.Screen)
	assert.Nil(t, s.Recommendation)
	assert.Nil(t, s.MenuInput)
}

func TestRecommendationFailure(t *testing.T) {
	rec := &fakeRecommend{respond: func(n int, menu string) (*lunch.RecommendationSet, error) {
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		return threeItems(menu), nil
	}}
	h := start(t, Deps{Recommend: rec})
	h.waitScreen(t, KindCollectingInput)

	require.NoError(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "카레"}}))
	require.Eventually(t, func() bool { return !h.snap(t).Loading }, waitFor, tick)
	s := h.snap(t)
	assert.Equal(t, KindCollectingInput, s.Screen)
	assert.Equal(t, MsgRecommendFailed, s.Error)
	assert.Nil(t, s.Recommendation)

	require.NoError(t, h.do(t, DismissError{}))
	assert.Empty(t, h.snap(t).Error)

	// retry
	require.NoError(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "카레"}}))
	s = h.waitScreen(t, KindPresentingResult)
	assert.Empty(t, s.Error)
}

func TestInvalidRecommendationIsFailure(t *testing.T) {
	rec := &fakeRecommend{respond: func(int, string) (*lunch.RecommendationSet, error) {
		return &lunch.RecommendationSet{}, nil
	}}
	h := start(t, Deps{Recommend: rec})
	h.waitScreen(t, KindCollectingInput)

	require.NoError(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "카레"}}))
	require.Eventually(t, func() bool { return h.snap(t).Error != "" }, waitFor, tick)
	assert.Nil(t, h.snap(t).Recommendation)
}

func TestSubmitValidation(t *testing.T) {
	rec := okRecommend()
	h := start(t, Deps{Recommend: rec})
	h.waitScreen(t, KindCollectingInput)

	assert.ErrorIs(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "  \n "}}), ErrEmptyMenu)

	assert.ErrorIs(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodImage, Content: "file-id"}}), ErrImageUnsupported)
	s := h.snap(t)
	assert.Equal(t, MsgImageUnsupported, s.Notice)
	assert.Equal(t, KindCollectingInput, s.Screen)
	assert.Zero(t, rec.callCount())
}

func TestSubmitWhileLoadingIsIgnored(t *testing.T) {
	release := make(chan struct{})
	rec := &fakeRecommend{respond: func(_ int, menu string) (*lunch.RecommendationSet, error) {
		<-release
		return threeItems(menu), nil
	}}
	h := start(t, Deps{Recommend: rec})
	h.waitScreen(t, KindCollectingInput)

	require.NoError(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "A"}}))
	assert.True(t, h.snap(t).Loading)
	assert.ErrorIs(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "B"}}), ErrBusy)

	close(release)
	s := h.waitScreen(t, KindPresentingResult)
	assert.Equal(t, "A", s.Recommendation.CafeteriaMenu)
	assert.Equal(t, 1, rec.callCount())
}

func TestStaleRecommendationDropped(t *testing.T) {
	h := start(t, Deps{})
	s := h.reachResult(t, "A")
	before := s.Recommendation

	h.c.post(recommendationDone{gen: 0, set: threeItems("stale", "X", "Y", "Z")})
	s = h.snap(t)
	assert.Equal(t, KindPresentingResult, s.Screen)
	assert.Same(t, before, s.Recommendation)

	require.NoError(t, h.do(t, Back{}))
	h.c.post(recommendationDone{gen: 1, set: threeItems("stale", "X", "Y", "Z")})
	s = h.snap(t)
	assert.Equal(t, KindCollectingInput, s.Screen)
	assert.Nil(t, s.Recommendation)
}

func TestRoulette(t *testing.T) {
	h := start(t, Deps{})
	s := h.reachResult(t, "제육볶음")

	require.NoError(t, h.do(t, OpenRoulette{}))
	s = h.snap(t)
	assert.Equal(t, KindRoulette, s.Screen)
	assert.ErrorIs(t, h.do(t, ConfirmRoulette{}), ErrNoResult)

	require.NoError(t, h.do(t, Spin{}))
	s = h.snap(t)
	assert.True(t, s.Spinning)
	assert.Nil(t, s.RouletteResult)

	// re-entrant spin: no new timer, no state change
	renders := h.render.count()
	assert.ErrorIs(t, h.do(t, Spin{}), ErrSpinning)
	assert.Equal(t, 1, h.clock.Pending())
	assert.Equal(t, renders, h.render.count())
	assert.ErrorIs(t, h.do(t, ConfirmRoulette{}), ErrNoResult)

	h.clock.Advance(selection.DefaultSettleDelay)
	require.Eventually(t, func() bool { return h.snap(t).RouletteResult != nil }, waitFor, tick)
	s = h.snap(t)
	assert.False(t, s.Spinning)
	drawn := s.RouletteResult.Menu
	_, _, ok := s.Recommendation.Find(drawn)
	assert.True(t, ok)

	require.NoError(t, h.do(t, ConfirmRoulette{}))
	s = h.snap(t)
	assert.Equal(t, KindRestaurantLookup, s.Screen)
	assert.Equal(t, drawn, s.SelectedMenu)
}

func TestRouletteBackDropsPendingSpin(t *testing.T) {
	h := start(t, Deps{})
	h.reachResult(t, "제육볶음")
	require.NoError(t, h.do(t, OpenRoulette{}))
	require.NoError(t, h.do(t, Spin{}))

	require.NoError(t, h.do(t, Back{}))
	s := h.snap(t)
	assert.Equal(t, KindPresentingResult, s.Screen)
	assert.NotNil(t, s.Recommendation)
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(selection.DefaultSettleDelay)
	require.NoError(t, h.do(t, OpenRoulette{}))
	s = h.snap(t)
	assert.False(t, s.Spinning)
	assert.Nil(t, s.RouletteResult)
}

func TestRouletteSingleItem(t *testing.T) {
	h := start(t, Deps{Recommend: &fakeRecommend{respond: func(_ int, menu string) (*lunch.RecommendationSet, error) {
		return threeItems(menu, "비빔밥"), nil
	}}})
	h.reachResult(t, "비빔밥")
	require.NoError(t, h.do(t, OpenRoulette{}))
	require.NoError(t, h.do(t, Spin{}))
	h.clock.Advance(selection.DefaultSettleDelay)
	require.Eventually(t, func() bool { return h.snap(t).RouletteResult != nil }, waitFor, tick)
	require.NoError(t, h.do(t, ConfirmRoulette{}))
	assert.Equal(t, "비빔밥", h.snap(t).SelectedMenu)
}

func TestInvalidTransitions(t *testing.T) {
	h := start(t, Deps{})
	h.waitScreen(t, KindCollectingInput)

	for _, ev := range []Event{Spin{}, ConfirmRoulette{}, ConfirmPick{}, OpenRoulette{}, Back{}, SelectItem{Menu: "x"}, RequestRecipe{}} {
		assert.ErrorIs(t, h.do(t, ev), ErrInvalidTransition, "%T", ev)
	}
	assert.Equal(t, KindCollectingInput, h.snap(t).Screen)

	h.reachResult(t, "A")
	assert.ErrorIs(t, h.do(t, SubmitMenu{Input: lunch.MenuInput{Method: lunch.MethodText, Content: "B"}}), ErrInvalidTransition)
	assert.ErrorIs(t, h.do(t, Spin{}), ErrInvalidTransition)
}

type mockRecorder struct{ mock.Mock }

func (m *mockRecorder) RecordSelection(ctx context.Context, s Selection) error {
	return m.Called(ctx, s).Error(0)
}

type fakePlaces struct {
	err   error
	query atomic.Pointer[places.Query]
}

func (f *fakePlaces) Search(_ context.Context, q places.Query) ([]lunch.Place, error) {
	f.query.Store(&q)
	if f.err != nil {
		return nil, f.err
	}
	return []lunch.Place{{Name: "명동칼국수", DistanceM: 320}}, nil
}

type fakeRecipes struct{}

func (fakeRecipes) GetRecipe(_ context.Context, menu string, servings int) (lunch.Recipe, error) {
	return lunch.Recipe{MenuName: menu, Servings: servings, Steps: []string{"끓인다"}}, nil
}

func TestRestaurantLookupCollaborators(t *testing.T) {
	rec := &mockRecorder{}
	done := make(chan struct{})
	rec.On("RecordSelection", mock.Anything, mock.MatchedBy(func(s Selection) bool {
		return s.Menu == "칼국수" && s.Method == MethodDirect && s.CafeteriaMenu == "제육볶음" && s.SessionID == "chat-1"
	})).Return(nil).Run(func(mock.Arguments) { close(done) }).Once()

	pl := &fakePlaces{}
	h := start(t, Deps{Places: pl, Recorder: rec, Recipes: fakeRecipes{}, SessionID: "chat-1"})
	h.reachResult(t, "제육볶음")
	require.NoError(t, h.do(t, SelectItem{Menu: "칼국수"}))
	require.NoError(t, h.do(t, ConfirmPick{}))

	assert.True(t, h.snap(t).PlacesPending || len(h.snap(t).Places) == 1)
	require.Eventually(t, func() bool { return len(h.snap(t).Places) == 1 }, waitFor, tick)
	s := h.snap(t)
	assert.False(t, s.PlacesPending)
	assert.Equal(t, "명동칼국수", s.Places[0].Name)
	q := pl.query.Load()
	require.NotNil(t, q)
	assert.Equal(t, "칼국수", q.MenuName)
	require.NotNil(t, q.Origin)

	require.NoError(t, h.do(t, RequestRecipe{Servings: 2}))
	require.Eventually(t, func() bool { return h.snap(t).Recipe != nil }, waitFor, tick)
	assert.Equal(t, 2, h.snap(t).Recipe.Servings)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("selection was not recorded")
	}
	rec.AssertExpectations(t)
}

func TestPlacesFailureIsNotice(t *testing.T) {
	h := start(t, Deps{Places: &fakePlaces{err: places.ErrNotConfigured}})
	s := h.reachResult(t, "제육볶음")
	require.NoError(t, h.do(t, SelectItem{Menu: s.Recommendation.Recommendations[2].Menu}))
	require.NoError(t, h.do(t, ConfirmPick{}))

	require.Eventually(t, func() bool { return h.snap(t).Notice == MsgPlacesFailed }, waitFor, tick)
	s = h.snap(t)
	assert.Equal(t, KindRestaurantLookup, s.Screen)
	assert.Empty(t, s.Error)
	assert.False(t, s.PlacesPending)
}
