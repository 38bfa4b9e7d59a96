// Package domain holds the core entities, ports and error taxonomy of the
// air-quality pipeline. It depends on nothing but the standard library so
// adapters and services can be swapped freely.
package domain

import (
	"context"
	"time"
)

// Context is an alias so the domain does not import std context everywhere.
// Adapters pass context.Context straight through.
type Context = context.Context

// Tier is the retention class a reading currently lives in.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Tier age policy: readings older than HotMaxAge move hot->warm, older than
// WarmMaxAge move warm->cold. Records are never deleted by policy.
const (
	HotMaxAge  = 30 * 24 * time.Hour
	WarmMaxAge = 365 * 24 * time.Hour
)

// Level is the qualitative pollution band derived from AQI.
type Level string

const (
	LevelGood          Level = "Good"
	LevelModerate      Level = "Moderate"
	LevelSensitive     Level = "Unhealthy for Sensitive Groups"
	LevelUnhealthy     Level = "Unhealthy"
	LevelVeryUnhealthy Level = "Very Unhealthy"
	LevelHazardous     Level = "Hazardous"
)

// LevelForAQI maps an AQI value onto its band. Total and monotone over
// [0,500]; values below 0 clamp to Good and above 500 to Hazardous.
func LevelForAQI(aqi int) Level {
	switch {
	case aqi <= 50:
		return LevelGood
	case aqi <= 100:
		return LevelModerate
	case aqi <= 150:
		return LevelSensitive
	case aqi <= 200:
		return LevelUnhealthy
	case aqi <= 300:
		return LevelVeryUnhealthy
	default:
		return LevelHazardous
	}
}

// Pollutants reported by the upstream provider.
var Pollutants = []string{"p1", "p2", "p3", "p4", "p5", "n2", "s4", "co", "o3", "no2", "so2"}

// Coordinates is a WGS84 point. Lat in [-90,90], Lon in [-180,180].
type Coordinates struct {
	Lat float64
	Lon float64
}

// Valid reports whether the point is inside WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Weather is the meteorological snapshot attached to a reading.
type Weather struct {
	Temperature   float64
	Humidity      int
	Pressure      float64
	WindSpeed     float64
	WindDirection int
}

// ReadingMetadata records how the reading was obtained.
type ReadingMetadata struct {
	APIResponseTimeMs int64
	Cached            bool
	RetryCount        int
}

// Reading is one air-quality measurement. Immutable once written; identity is
// (Location, Timestamp) and duplicates are rejected at write time.
type Reading struct {
	ID            string
	Location      string
	Timestamp     time.Time
	Coordinates   Coordinates
	AQI           int
	MainPollutant string
	Level         Level
	Weather       Weather
	Metadata      ReadingMetadata
	Tier          Tier
}

// Validate checks the write-time invariants of a reading.
func (r Reading) Validate() error {
	if r.Location == "" || r.Timestamp.IsZero() {
		return ErrInvalidArgument
	}
	if r.AQI < 0 || r.AQI > 500 {
		return ErrInvalidArgument
	}
	if !r.Coordinates.Valid() {
		return ErrInvalidArgument
	}
	if r.Weather.Humidity < 0 || r.Weather.Humidity > 100 {
		return ErrInvalidArgument
	}
	return nil
}

// FetchResult is the outcome of one upstream fetch, terminal after retries.
type FetchResult struct {
	OK             bool
	Reading        Reading
	Err            string
	ResponseTimeMs int64
	Retries        int
}
