// Package places looks up restaurants near a point for a chosen menu.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"babmutna-bot/api/internal/lunch"
)

const (
	kakaoKeywordURL  = "https://dapi.kakao.com/v2/local/search/keyword.json"
	categoryFood     = "FD6"
	DefaultRadiusM   = 2000
	defaultPageLimit = 15
)

var ErrNotConfigured = errors.New("places search is not configured")

type Query struct {
	MenuName string
	Origin   *lunch.Coordinates // nil: search around lunch.DefaultCoords
}

type Kakao struct {
	APIKey  string
	RadiusM int
	BaseURL string
	httpc   *http.Client
}

func NewKakao(apiKey string, radiusM int) *Kakao {
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}
	return &Kakao{
		APIKey:  apiKey,
		RadiusM: radiusM,
		BaseURL: kakaoKeywordURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type kakaoResponse struct {
	Documents []struct {
		PlaceName    string `json:"place_name"`
		CategoryName string `json:"category_name"`
		AddressName  string `json:"address_name"`
		RoadAddress  string `json:"road_address_name"`
		Phone        string `json:"phone"`
		Distance     string `json:"distance"`
		PlaceURL     string `json:"place_url"`
		X            string `json:"x"`
		Y            string `json:"y"`
	} `json:"documents"`
}

// Search returns food places matching the menu name, nearest first.
func (k *Kakao) Search(ctx context.Context, q Query) ([]lunch.Place, error) {
	if strings.TrimSpace(k.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	origin := lunch.DefaultCoords
	if q.Origin != nil {
		origin = *q.Origin
	}
	v := url.Values{}
	v.Set("query", q.MenuName)
	v.Set("x", strconv.FormatFloat(origin.Longitude, 'f', 6, 64))
	v.Set("y", strconv.FormatFloat(origin.Latitude, 'f', 6, 64))
	v.Set("radius", strconv.Itoa(k.RadiusM))
	v.Set("category_group_code", categoryFood)
	v.Set("sort", "distance")
	v.Set("size", strconv.Itoa(defaultPageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.BaseURL+"?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "KakaoAK "+k.APIKey)

	resp, err := k.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kakao local %d: %s", resp.StatusCode, string(b))
	}

	var out kakaoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("kakao local decode: %w", err)
	}
	res := make([]lunch.Place, 0, len(out.Documents))
	for _, d := range out.Documents {
		p := lunch.Place{
			Name:     d.PlaceName,
			Category: lastCategory(d.CategoryName),
			Address:  d.RoadAddress,
			Phone:    d.Phone,
			URL:      d.PlaceURL,
		}
		if p.Address == "" {
			p.Address = d.AddressName
		}
		p.DistanceM, _ = strconv.Atoi(d.Distance)
		p.Lng, _ = strconv.ParseFloat(d.X, 64)
		p.Lat, _ = strconv.ParseFloat(d.Y, 64)
		res = append(res, p)
	}
	return res, nil
}

// "음식점 > 한식 > 국수" → "국수"
func lastCategory(s string) string {
	parts := strings.Split(s, ">")
	return strings.TrimSpace(parts[len(parts)-1])
}
