package domain

import "time"

// HourlyAverage is one slot of the 24-entry per-day breakdown. Missing marks
// hours with no readings.
type HourlyAverage struct {
	Hour        int     `json:"hour"`
	AvgAQI      float64 `json:"avg_aqi"`
	AvgTemp     float64 `json:"avg_temp"`
	AvgHumidity float64 `json:"avg_humidity"`
	AvgPressure float64 `json:"avg_pressure"`
	Count       int     `json:"count"`
	Missing     bool    `json:"missing"`
}

// AQIExtreme captures a min or max with the timestamp it occurred at.
type AQIExtreme struct {
	Value  int       `json:"value"`
	TimeAt time.Time `json:"time"`
}

// DailyAggregation is the per-(location, date) rollup document. Unique on
// (Date, Location); writes are UPSERTs so recomputation is idempotent.
type DailyAggregation struct {
	Date              string          `json:"date"` // YYYY-MM-DD
	Location          string          `json:"location"`
	AvgAQI            float64         `json:"avg_aqi"`
	MaxAQI            AQIExtreme      `json:"max_aqi"`
	MinAQI            AQIExtreme      `json:"min_aqi"`
	DominantPollutant string          `json:"dominant_pollutant"`
	PollutionLevel    Level           `json:"pollution_level"`
	LevelDistribution map[Level]int   `json:"level_distribution"`
	HourlyAverages    []HourlyAverage `json:"hourly_averages"` // always 24 entries
	MissingDataHours  []int           `json:"missing_data_hours"`
	UnhealthyHours    int             `json:"unhealthy_hours"`
	RecordCount       int             `json:"record_count"`
	CalculatedAt      time.Time       `json:"calculated_at"`
}

// TrendLabel classifies the direction of a window of daily aggregates.
type TrendLabel string

const (
	TrendImproving TrendLabel = "improving"
	TrendWorsening TrendLabel = "worsening"
	TrendStable    TrendLabel = "stable"
)

// WeeklySummary rolls a sequence of daily aggregates into one report.
// UnhealthyDays counts days whose average AQI exceeded the unhealthy band.
type WeeklySummary struct {
	Location      string     `json:"location"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	AvgAQI        float64    `json:"avg_aqi"`
	UnhealthyDays int        `json:"unhealthy_days"`
	Trend         TrendLabel `json:"trend"`
	Days          int        `json:"days"`
}
