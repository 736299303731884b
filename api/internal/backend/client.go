package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"babmutna-bot/api/internal/lunch"
)

var (
	ErrEmptyMenu    = errors.New("cafeteria menu is empty")
	ErrUnsuccessful = errors.New("backend reported failure")
)

// Client talks to the weather / recommend / recipe API.
type Client struct {
	BaseURL string
	httpc   *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// envelope is {"success": bool, "data": ...}; FastAPI errors come back as {"detail": "..."}.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Detail  string          `json:"detail,omitempty"`
}

func (c *Client) FetchWeather(ctx context.Context, location string) (lunch.WeatherSnapshot, error) {
	q := url.Values{"location": {location}}
	var out lunch.WeatherSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/weather?"+q.Encode(), nil, &out); err != nil {
		return lunch.WeatherSnapshot{}, fmt.Errorf("weather: %w", err)
	}
	return out, nil
}

type recommendRequest struct {
	Location      string             `json:"location"`
	CafeteriaMenu string             `json:"cafeteria_menu"`
	Coords        *lunch.Coordinates `json:"coords,omitempty"`
}

// GetRecommendation asks for alternatives to menuText. The caller validates
// menuText; an empty one is still refused here without a request.
func (c *Client) GetRecommendation(ctx context.Context, location, menuText string, coords *lunch.Coordinates) (*lunch.RecommendationSet, error) {
	menuText = strings.TrimSpace(menuText)
	if menuText == "" {
		return nil, ErrEmptyMenu
	}
	body := recommendRequest{Location: location, CafeteriaMenu: menuText, Coords: coords}
	var out lunch.RecommendationSet
	if err := c.do(ctx, http.MethodPost, "/api/recommend", body, &out); err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	return &out, nil
}

type recipeRequest struct {
	MenuName    string `json:"menu_name"`
	NumServings int    `json:"num_servings"`
}

func (c *Client) GetRecipe(ctx context.Context, menuName string, servings int) (lunch.Recipe, error) {
	if servings < 1 {
		servings = 1
	}
	var out lunch.Recipe
	if err := c.do(ctx, http.MethodPost, "/api/recipe", recipeRequest{MenuName: menuName, NumServings: servings}, &out); err != nil {
		return lunch.Recipe{}, fmt.Errorf("recipe: %w", err)
	}
	if out.MenuName == "" {
		out.MenuName = menuName
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Detail != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, env.Detail)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		return ErrUnsuccessful
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("empty data: %w", ErrUnsuccessful)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
