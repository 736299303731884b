package navigation

import (
	"babmutna-bot/api/internal/lunch"
	"babmutna-bot/api/internal/selection"
)

type ScreenKind string

const (
	KindAcquiringLocation ScreenKind = "acquiring-location"
	KindCollectingInput   ScreenKind = "collecting-input"
	KindPresentingResult  ScreenKind = "presenting-result"
	KindRoulette          ScreenKind = "roulette"
	KindRestaurantLookup  ScreenKind = "restaurant-lookup"
)

// Screen is one state of the flow. Each variant carries exactly the data that
// is valid while it is shown, so e.g. a RestaurantLookup cannot exist without
// a selected menu.
type Screen interface {
	Kind() ScreenKind
	sealed()
}

type AcquiringLocation struct{}

type CollectingInput struct{}

type PresentingResult struct {
	Recommendation *lunch.RecommendationSet
	picker         *selection.Picker
}

type Roulette struct {
	Recommendation *lunch.RecommendationSet
	wheel          *selection.Wheel
}

type RestaurantLookup struct {
	Recommendation *lunch.RecommendationSet
	SelectedMenu   string
	Method         Method

	Places        []lunch.Place
	PlacesPending bool
	Recipe        *lunch.Recipe
}

func (AcquiringLocation) Kind() ScreenKind { return KindAcquiringLocation }
func (CollectingInput) Kind() ScreenKind   { return KindCollectingInput }
func (*PresentingResult) Kind() ScreenKind { return KindPresentingResult }
func (*Roulette) Kind() ScreenKind         { return KindRoulette }
func (*RestaurantLookup) Kind() ScreenKind { return KindRestaurantLookup }

func (AcquiringLocation) sealed() {}
func (CollectingInput) sealed()   {}
func (*PresentingResult) sealed() {}
func (*Roulette) sealed()         {}
func (*RestaurantLookup) sealed() {}

func newRestaurantLookup(set *lunch.RecommendationSet, menu string, m Method) (*RestaurantLookup, bool) {
	if set == nil || menu == "" {
		return nil, false
	}
	return &RestaurantLookup{Recommendation: set, SelectedMenu: menu, Method: m}, true
}

// Method tells how the menu was chosen.
type Method string

const (
	MethodDirect   Method = "direct"
	MethodRoulette Method = "roulette"
)

// Snapshot is a read-only view of the session handed to renderers.
// Slices and pointers inside must not be modified.
type Snapshot struct {
	Screen     ScreenKind
	Location   string
	Coords     *lunch.Coordinates
	Permission lunch.PermissionState
	Weather    *lunch.WeatherSnapshot
	MenuInput  *lunch.MenuInput
	Loading    bool
	Error      string
	Notice     string

	Recommendation *lunch.RecommendationSet

	// presenting-result
	Candidate  *lunch.RecommendationItem
	CanConfirm bool

	// roulette
	Spinning       bool
	RouletteResult *lunch.RecommendationItem

	// restaurant-lookup
	SelectedMenu  string
	Places        []lunch.Place
	PlacesPending bool
	Recipe        *lunch.Recipe
}
