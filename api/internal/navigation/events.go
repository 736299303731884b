package navigation

import (
	"babmutna-bot/api/internal/location"
	"babmutna-bot/api/internal/lunch"
)

// Event is a user action accepted by Controller.Dispatch. SelectItem names
// the direct-pick candidate by its menu name.
type Event interface{ event() }

type (
	SubmitMenu      struct{ Input lunch.MenuInput }
	SelectItem      struct{ Menu string }
	ConfirmPick     struct{}
	OpenRoulette    struct{}
	Spin            struct{}
	ConfirmRoulette struct{}
	Back            struct{}
	DismissError    struct{}
	RequestRecipe   struct{ Servings int }
)

func (SubmitMenu) event()      {}
func (SelectItem) event()      {}
func (ConfirmPick) event()     {}
func (OpenRoulette) event()    {}
func (Spin) event()            {}
func (ConfirmRoulette) event() {}
func (Back) event()            {}
func (DismissError) event()    {}
func (RequestRecipe) event()   {}

// results posted back to the loop by async work

type locationResolved struct {
	req uint64
	res location.Result
}

type advanceToInput struct{ req uint64 }

type weatherLoaded struct {
	weather lunch.WeatherSnapshot
	err     error
}

type recommendationDone struct {
	gen uint64
	set *lunch.RecommendationSet
	err error
}

type spinSettled struct {
	gen    uint64
	spinID uint64
}

type placesLoaded struct {
	gen    uint64
	places []lunch.Place
	err    error
}

type recipeLoaded struct {
	gen    uint64
	recipe lunch.Recipe
	err    error
}

type snapshotQuery struct{ out chan Snapshot }

func (locationResolved) event()   {}
func (advanceToInput) event()     {}
func (weatherLoaded) event()      {}
func (recommendationDone) event() {}
func (spinSettled) event()        {}
func (placesLoaded) event()       {}
func (recipeLoaded) event()       {}
func (snapshotQuery) event()      {}
