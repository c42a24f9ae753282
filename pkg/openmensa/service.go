// Package openmensa is a typed client for the OpenMensa v2 API built on the
// fetch-through cache.
package openmensa

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mensa-client/pkg/client"
	"github.com/Sternrassler/mensa-client/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the public OpenMensa v2 endpoint.
	DefaultBaseURL = "https://openmensa.org/api/v2"

	// DefaultCanteenTTL applies to canteen lists and canteen metadata.
	DefaultCanteenTTL = 24 * time.Hour

	// DefaultMealTTL applies to opening days and meals.
	DefaultMealTTL = time.Hour
)

// Config holds the service configuration.
type Config struct {
	BaseURL    string
	CanteenTTL time.Duration
	MealTTL    time.Duration
}

// DefaultConfig returns the public API configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		CanteenTTL: DefaultCanteenTTL,
		MealTTL:    DefaultMealTTL,
	}
}

// Service fetches OpenMensa resources through a cache client.
type Service struct {
	client *client.Client
	config Config
	logger zerolog.Logger
}

// NewService creates a service. Zero config fields fall back to defaults.
func NewService(c *client.Client, cfg Config) (*Service, error) {
	if c == nil {
		return nil, errors.New("fetch client is required")
	}

	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.CanteenTTL == 0 {
		cfg.CanteenTTL = def.CanteenTTL
	}
	if cfg.MealTTL == 0 {
		cfg.MealTTL = def.MealTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	return &Service{
		client: c,
		config: cfg,
		logger: log.With().Str("component", "openmensa").Logger(),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Canteens lists all canteens.
func (s *Service) Canteens(ctx context.Context) ([]Canteen, error) {
	s.logger.Info().Msg("Fetching all canteens")
	return pagination.Collect[Canteen](ctx, s.client, s.config.BaseURL+"/canteens", s.config.CanteenTTL)
}

// CanteensNear lists canteens within radiusKm of the given coordinates.
func (s *Service) CanteensNear(ctx context.Context, lat, lng, radiusKm float64) ([]Canteen, error) {
	s.logger.Info().
		Float64("lat", lat).
		Float64("lng", lng).
		Float64("radius_km", radiusKm).
		Msg("Fetching canteens nearby")

	q := url.Values{}
	q.Set("near[lat]", formatFloat(lat))
	q.Set("near[lng]", formatFloat(lng))
	q.Set("near[dist]", formatFloat(radiusKm))

	return pagination.Collect[Canteen](ctx, s.client, s.config.BaseURL+"/canteens?"+q.Encode(), s.config.CanteenTTL)
}

// Canteen fetches a single canteen.
func (s *Service) Canteen(ctx context.Context, id int) (Canteen, error) {
	return client.FetchJSON[Canteen](ctx, s.client, fmt.Sprintf("%s/canteens/%d", s.config.BaseURL, id), s.config.CanteenTTL)
}

// Days lists the upcoming opening days of a canteen.
func (s *Service) Days(ctx context.Context, id int) ([]Day, error) {
	return pagination.Collect[Day](ctx, s.client, fmt.Sprintf("%s/canteens/%d/days", s.config.BaseURL, id), s.config.MealTTL)
}

// Meals lists the meals of a canteen on date.
func (s *Service) Meals(ctx context.Context, id int, date Date) ([]Meal, error) {
	return pagination.Collect[Meal](ctx, s.client, fmt.Sprintf("%s/canteens/%d/days/%s/meals", s.config.BaseURL, id, date), s.config.MealTTL)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
