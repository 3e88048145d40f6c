package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	openWeatherEndpoint = "https://api.openweathermap.org/data/2.5/weather"
	newsAPIEndpoint     = "https://newsapi.org/v2/top-headlines"
)

// allowedNewsCategories is the fixed category set accepted by the news tool.
var allowedNewsCategories = map[string]bool{
	"business":      true,
	"entertainment": true,
	"general":       true,
	"health":        true,
	"science":       true,
	"sports":        true,
	"technology":    true,
}

// DefaultTools returns the static tool table registered into the agent.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:        "get_weather",
			Description: "Fetches the current weather for a city and returns a formatted summary.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"city": {"type": "string", "description": "Name of the city to fetch weather for."},
					"country_code": {"type": "string", "description": "Optional 2-letter ISO 3166 country code."}
				},
				"required": ["city"]
			}`),
			Run: getWeather,
		},
		{
			Name:        "get_latest_news",
			Description: "Fetches the latest news headlines for a country and returns a formatted summary.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"country": {"type": "string", "description": "2-letter ISO 3166-1 country code, e.g. us, gb, de."},
					"query": {"type": "string", "description": "Optional keywords to search for."},
					"category": {"type": "string", "enum": ["business", "entertainment", "general", "health", "science", "sports", "technology"]}
				},
				"required": ["country"]
			}`),
			Run: getLatestNews,
		},
	}
}

type weatherArgs struct {
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
}

type weatherResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func getWeather(ctx context.Context, deps *Dependencies, rawArgs json.RawMessage) (string, error) {
	var args weatherArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("invalid weather arguments: %w", err)
	}
	if args.City == "" {
		return "", fmt.Errorf("weather lookup requires a city")
	}
	if deps.Settings.OpenWeatherAPIKey == "" {
		return "", fmt.Errorf("weather service key not configured")
	}

	query := args.City
	if args.CountryCode != "" {
		query = args.City + "," + args.CountryCode
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("appid", deps.Settings.OpenWeatherAPIKey)
	params.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openWeatherEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := deps.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather service unavailable: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("city %q not found", query)
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("weather service authentication failed")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("weather service unavailable: status %d", resp.StatusCode)
	}

	var data weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("could not process weather data: %w", err)
	}
	if len(data.Weather) == 0 {
		return "", fmt.Errorf("could not process weather data: missing conditions")
	}

	location := fmt.Sprintf("%s, %s", data.Name, data.Sys.Country)
	return fmt.Sprintf(
		"Current weather in %s:\n"+
			"- Condition: %s\n"+
			"- Temperature: %.1f°C (Feels like: %.1f°C)\n"+
			"- Humidity: %d%%\n"+
			"- Wind Speed: %.2f m/s",
		location,
		capitalize(data.Weather[0].Description),
		data.Main.Temp,
		data.Main.FeelsLike,
		data.Main.Humidity,
		data.Wind.Speed,
	), nil
}

type newsArgs struct {
	Country  string `json:"country"`
	Query    string `json:"query"`
	Category string `json:"category"`
}

type newsResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func getLatestNews(ctx context.Context, deps *Dependencies, rawArgs json.RawMessage) (string, error) {
	var args newsArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("invalid news arguments: %w", err)
	}
	if args.Country == "" {
		return "", fmt.Errorf("news lookup requires a country")
	}
	if deps.Settings.NewsAPIKey == "" {
		return "", fmt.Errorf("news service key not configured")
	}

	params := url.Values{}
	params.Set("country", args.Country)
	params.Set("apiKey", deps.Settings.NewsAPIKey)
	params.Set("pageSize", "3")
	description := fmt.Sprintf("top headlines for country '%s'", args.Country)
	if args.Query != "" {
		params.Set("q", args.Query)
		description += fmt.Sprintf(" matching query '%s'", args.Query)
	}
	if args.Category != "" {
		category := strings.ToLower(args.Category)
		if !allowedNewsCategories[category] {
			return "", fmt.Errorf("invalid news category %q", args.Category)
		}
		params.Set("category", category)
		description += fmt.Sprintf(" in category '%s'", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, newsAPIEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := deps.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("news service unavailable: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("news service authentication failed")
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("news service rate limit exceeded")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("news service unavailable: status %d %s", resp.StatusCode, body)
	}

	var data newsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("could not process news data: %w", err)
	}
	if data.Status != "ok" {
		return "", fmt.Errorf("news service error: %s", stringOr(data.Message, "unknown error"))
	}
	if len(data.Articles) == 0 {
		return fmt.Sprintf("No news articles found for %s.", description), nil
	}

	lines := []string{fmt.Sprintf("Found %d news articles (%s):", len(data.Articles), description)}
	for i, article := range data.Articles {
		title := stringOr(article.Title, "No Title")
		source := stringOr(article.Source.Name, "Unknown Source")
		desc := stringOr(article.Description, "No description available.")
		if article.URL != "" {
			lines = append(lines, fmt.Sprintf("%d. %q (%s)\n   Desc: %s\n   URL: %s", i+1, title, source, desc, article.URL))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func stringOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
