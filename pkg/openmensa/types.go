package openmensa

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the date format used by the API.
const DateLayout = "2006-01-02"

// Canteen is a canteen as listed by /canteens.
type Canteen struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	City        string    `json:"city"`
	Address     string    `json:"address"`
	Coordinates []float64 `json:"coordinates,omitempty"`
}

// Day is an opening day of a canteen.
type Day struct {
	Date   Date `json:"date"`
	Closed bool `json:"closed"`
}

// Meal is a dish served on a day.
type Meal struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Notes    []string `json:"notes"`
	Prices   Prices   `json:"prices"`
}

// Prices per customer group. Unknown prices are nil.
type Prices struct {
	Students  *float64 `json:"students"`
	Employees *float64 `json:"employees"`
	Pupils    *float64 `json:"pupils,omitempty"`
	Others    *float64 `json:"others"`
}

// Date is a calendar day without time or zone.
type Date struct {
	time.Time
}

// NewDate returns the calendar day of t.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
