package lunch

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultLocation is used for weather and recommendations; coordinates are never
// reverse-geocoded into a place name.
const DefaultLocation = "서울"

// Seoul City Hall, used as the search origin when the user shared no location.
var DefaultCoords = Coordinates{Latitude: 37.5665, Longitude: 126.9780}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type PermissionState string

const (
	PermissionPending PermissionState = "pending"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// WeatherSnapshot mirrors /api/weather data. Extra backend fields are ignored.
type WeatherSnapshot struct {
	Location      string  `json:"location"`
	Temperature   float64 `json:"temperature"`
	SkyCondition  string  `json:"sky_condition"`
	Humidity      float64 `json:"humidity"`
	Precipitation string  `json:"precipitation,omitempty"`
}

type InputMethod string

const (
	MethodText  InputMethod = "text"
	MethodImage InputMethod = "image"
)

type MenuInput struct {
	Method  InputMethod
	Content string
}

// Recommendation types produced by the recommendation service.
const (
	TypeUpgrade = "상위호환"
	TypeSimilar = "비슷한카테고리"
	TypeWeather = "날씨기반"
)

type Distance struct {
	WalkingMin float64 `json:"walking_min"`
}

type RecommendationItem struct {
	Menu       string    `json:"menu"`
	Type       string    `json:"type"`
	Category   string    `json:"category"`
	Reason     string    `json:"reason"`
	PriceRange string    `json:"price_range"`
	Distance   *Distance `json:"distance,omitempty"`
}

// WeatherInfo is the condensed weather block the backend attaches to a recommendation.
type WeatherInfo struct {
	Location      string  `json:"location"`
	Temperature   float64 `json:"temperature"`
	Condition     string  `json:"condition"`
	Precipitation string  `json:"precipitation,omitempty"`
}

type RecommendationSet struct {
	CafeteriaMenu   string               `json:"cafeteria_menu"`
	Recommendations []RecommendationItem `json:"recommendations"`
	WeatherSummary  string               `json:"weather_summary,omitempty"`
	WeatherInfo     *WeatherInfo         `json:"weather_info,omitempty"`
}

var ErrEmptyRecommendations = errors.New("recommendation set is empty")

// Validate checks the shape the rest of the flow relies on.
func (s *RecommendationSet) Validate() error {
	if s == nil || len(s.Recommendations) == 0 {
		return ErrEmptyRecommendations
	}
	for i, it := range s.Recommendations {
		if strings.TrimSpace(it.Menu) == "" {
			return fmt.Errorf("recommendation %d: empty menu", i)
		}
	}
	return nil
}

// Find returns the first item whose Menu equals menu.
func (s *RecommendationSet) Find(menu string) (RecommendationItem, int, bool) {
	if s == nil {
		return RecommendationItem{}, -1, false
	}
	for i, it := range s.Recommendations {
		if it.Menu == menu {
			return it, i, true
		}
	}
	return RecommendationItem{}, -1, false
}

// Place is a restaurant returned by the places collaborator.
type Place struct {
	Name      string
	Category  string
	Address   string
	Phone     string
	DistanceM int
	URL       string
	Lat       float64
	Lng       float64
}

type Ingredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// Recipe is the /api/recipe payload for a chosen menu.
type Recipe struct {
	MenuName    string       `json:"menu_name"`
	Servings    int          `json:"servings"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []string     `json:"steps"`
	CookingTime string       `json:"cooking_time,omitempty"`
	Difficulty  string       `json:"difficulty,omitempty"`
}
