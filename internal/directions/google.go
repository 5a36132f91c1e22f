package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bus-relay/internal/geo"
)

const DefaultGoogleBaseURL = "https://maps.googleapis.com/maps/api/directions/json"

// GoogleClient implements Gateway on top of the Google Directions JSON API.
type GoogleClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    Metrics
}

func NewGoogleClient(baseURL, apiKey string, timeout time.Duration, m Metrics) *GoogleClient {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	return &GoogleClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
	}
}

type googleResponse struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message"`
	Routes       []googleRoute `json:"routes"`
}

type googleRoute struct {
	Legs []struct {
		Duration struct {
			Value float64 `json:"value"`
		} `json:"duration"`
		Distance struct {
			Value float64 `json:"value"`
		} `json:"distance"`
	} `json:"legs"`
	OverviewPolyline struct {
		Points string `json:"points"`
	} `json:"overview_polyline"`
}

func (c *GoogleClient) ETA(ctx context.Context, origin, destination geo.Position) (res Result, err error) {
	defer c.observe("eta", &err)
	route, err := c.fetch(ctx, origin, destination, nil)
	if err != nil {
		return Result{}, err
	}
	for _, leg := range route.Legs {
		res.DurationSeconds += leg.Duration.Value
		res.DistanceMeters += leg.Distance.Value
	}
	if route.OverviewPolyline.Points != "" {
		path, err := DecodePolyline(route.OverviewPolyline.Points)
		if err != nil {
			return Result{}, fmt.Errorf("%w: decode polyline: %v", ErrUpstream, err)
		}
		res.Path = path
	}
	return res, nil
}

func (c *GoogleClient) RoutePath(ctx context.Context, stops []geo.Position) (path []geo.Position, err error) {
	defer c.observe("route_path", &err)
	if len(stops) < 2 {
		return nil, ErrInsufficientStops
	}
	route, err := c.fetch(ctx, stops[0], stops[len(stops)-1], stops[1:len(stops)-1])
	if err != nil {
		return nil, err
	}
	path, err = DecodePolyline(route.OverviewPolyline.Points)
	if err != nil {
		return nil, fmt.Errorf("%w: decode polyline: %v", ErrUpstream, err)
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty route path", ErrNoRouteFound)
	}
	return path, nil
}

func (c *GoogleClient) fetch(ctx context.Context, origin, destination geo.Position, waypoints []geo.Position) (*googleRoute, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: api key is not configured", ErrUpstream)
	}
	q := url.Values{}
	q.Set("origin", formatLatLng(origin))
	q.Set("destination", formatLatLng(destination))
	if len(waypoints) > 0 {
		parts := make([]string, len(waypoints))
		for i, w := range waypoints {
			parts[i] = formatLatLng(w)
		}
		q.Set("waypoints", strings.Join(parts, "|"))
	}
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: http status %d", ErrUpstream, resp.StatusCode)
	}
	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if body.Status != "OK" || len(body.Routes) == 0 {
		msg := body.ErrorMessage
		if msg == "" {
			msg = "no routes"
		}
		return nil, fmt.Errorf("%w: status %s: %s", ErrNoRouteFound, body.Status, msg)
	}
	return &body.Routes[0], nil
}

func (c *GoogleClient) observe(op string, err *error) {
	if c.metrics != nil {
		c.metrics.DirectionsRequestObserve(op, *err)
	}
}

func formatLatLng(p geo.Position) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
