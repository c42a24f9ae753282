package cli

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/mensa-client/pkg/openmensa"
)

func newCanteensCmd(a *app) *cobra.Command {
	var (
		near   string
		radius float64
	)

	cmd := &cobra.Command{
		Use:   "canteens",
		Short: "List OpenMensa canteens",
		Long: `Canteens lists every canteen known to OpenMensa, or only those within
--radius kilometres of --near.

Example:
  mensa canteens
  mensa canteens --near 51.34,12.37 --radius 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dependencies(cmd.Context())
			if err != nil {
				return err
			}

			var canteens []openmensa.Canteen
			if near != "" {
				lat, lng, err := parseCoordinates(near)
				if err != nil {
					return err
				}
				canteens, err = d.mensa.CanteensNear(cmd.Context(), lat, lng, radius)
				if err != nil {
					return err
				}
			} else {
				canteens, err = d.mensa.Canteens(cmd.Context())
				if err != nil {
					return err
				}
			}

			if canteens == nil {
				canteens = []openmensa.Canteen{}
			}
			return writeJSON(cmd.OutOrStdout(), canteens)
		},
	}

	cmd.Flags().StringVar(&near, "near", "", "only canteens near lat,lng")
	cmd.Flags().Float64Var(&radius, "radius", 10, "search radius in km (with --near)")
	return cmd
}

// mealsOutput is printed by the meals command.
type mealsOutput struct {
	Canteen int              `json:"canteen"`
	Date    openmensa.Date   `json:"date"`
	Closed  bool             `json:"closed"`
	Meals   []openmensa.Meal `json:"meals"`
}

func newMealsCmd(a *app) *cobra.Command {
	var (
		id   int
		date string
	)

	cmd := &cobra.Command{
		Use:   "meals",
		Short: "Show the meals of a canteen on a day",
		Long: `Meals prints the menu of canteen --id on --date (default: today).
Days the canteen reports as closed print "closed": true without meals.

Example:
  mensa meals --id 63
  mensa meals --id 63 --date 2024-01-02`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day := openmensa.NewDate(time.Now())
			if date != "" {
				parsed, err := openmensa.ParseDate(date)
				if err != nil {
					return usageError("--date: %v", err)
				}
				day = parsed
			}

			d, err := a.dependencies(cmd.Context())
			if err != nil {
				return err
			}

			out := mealsOutput{Canteen: id, Date: day, Meals: []openmensa.Meal{}}
			meals, err := d.mensa.Handle(id).Meals(cmd.Context(), day)
			switch {
			case errors.Is(err, openmensa.ErrClosed):
				out.Closed = true
			case err != nil:
				return err
			case meals != nil:
				out.Meals = meals
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().IntVar(&id, "id", 0, "canteen id")
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default: today)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// parseCoordinates parses "lat,lng".
func parseCoordinates(s string) (lat, lng float64, err error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, usageError("--near must be lat,lng, got %q", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, usageError("invalid latitude %q", latStr)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, usageError("invalid longitude %q", lngStr)
	}
	return lat, lng, nil
}
