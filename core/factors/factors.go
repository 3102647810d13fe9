// Package factors turns qualitative external conditions into a multiplicative
// adjustment and the list of factors that contributed to it.
package factors

import (
	"context"

	"github.com/kilianp07/fleetcast/core/model"
)

// Weather conditions.
const (
	WeatherRain  = "rain"
	WeatherSnow  = "snow"
	WeatherFog   = "fog"
	WeatherSunny = "sunny"
)

// Traffic levels.
const (
	TrafficHeavy    = "heavy"
	TrafficModerate = "moderate"
	TrafficLight    = "light"
)

// Event types.
const (
	EventConcert = "concert"
	EventMatch   = "match"
	EventStrike  = "strike"
	EventHoliday = "holiday"
)

type term struct {
	multiplier float64
	factor     model.Factor
}

// The values below are a compatibility contract for stored predictions.
var (
	weatherTable = map[string]term{
		WeatherRain:  {1.3, model.Factor{Name: "Rain", Impact: 0.3, Confidence: 85}},
		WeatherSnow:  {1.8, model.Factor{Name: "Snow", Impact: 0.8, Confidence: 95}},
		WeatherFog:   {1.2, model.Factor{Name: "Fog", Impact: 0.2, Confidence: 75}},
		WeatherSunny: {0.95, model.Factor{Name: "Sunny weather", Impact: -0.05, Confidence: 70}},
	}
	trafficTable = map[string]term{
		TrafficHeavy:    {1.5, model.Factor{Name: "Heavy traffic", Impact: 0.5, Confidence: 90}},
		TrafficModerate: {1.2, model.Factor{Name: "Moderate traffic", Impact: 0.2, Confidence: 80}},
		TrafficLight:    {0.9, model.Factor{Name: "Light traffic", Impact: -0.1, Confidence: 85}},
	}
	eventTable = map[string]term{
		EventConcert: {1.4, model.Factor{Name: "Concert", Impact: 0.4, Confidence: 80}},
		EventMatch:   {1.3, model.Factor{Name: "Sports match", Impact: 0.3, Confidence: 85}},
		EventStrike:  {2.0, model.Factor{Name: "Strike", Impact: 1.0, Confidence: 95}},
		EventHoliday: {0.8, model.Factor{Name: "Public holiday", Impact: -0.2, Confidence: 90}},
	}
)

// Result is the outcome of evaluating a set of conditions.
type Result struct {
	Multiplier float64
	Factors    []model.Factor
}

// Evaluate multiplies one term per recognised weather condition, traffic level
// and event. Unknown or empty inputs contribute nothing.
func Evaluate(c model.ExternalConditions) Result {
	res := Result{Multiplier: 1, Factors: []model.Factor{}}
	apply := func(table map[string]term, key string) {
		if t, ok := table[key]; ok {
			res.Multiplier *= t.multiplier
			res.Factors = append(res.Factors, t.factor)
		}
	}
	apply(weatherTable, c.Weather.Condition)
	apply(trafficTable, c.Traffic.Level)
	for _, ev := range c.Events {
		apply(eventTable, ev.Type)
	}
	return res
}

// Source supplies the external-condition snapshot for a generation tick.
type Source interface {
	Current(ctx context.Context) (model.ExternalConditions, error)
}

// StaticSource always returns the same conditions.
type StaticSource struct {
	Conditions model.ExternalConditions
}

// DefaultConditions is the fixed snapshot used without live feeds.
func DefaultConditions() model.ExternalConditions {
	return model.ExternalConditions{
		Weather: model.Weather{Condition: WeatherSunny, Temperature: 20, Impact: 0.05},
		Traffic: model.Traffic{Level: TrafficModerate, Impact: 0.2},
		Events:  []model.Event{},
	}
}

// NewStaticSource returns a source serving DefaultConditions.
func NewStaticSource() StaticSource { return StaticSource{Conditions: DefaultConditions()} }

// Current returns the configured snapshot.
func (s StaticSource) Current(context.Context) (model.ExternalConditions, error) {
	return s.Conditions, nil
}
