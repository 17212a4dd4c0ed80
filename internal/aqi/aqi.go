// Package aqi maps particulate concentrations to an approximate US EPA air
// quality index and display colour bands.
package aqi

// Index is an approximate AQI level and its category name.
type Index struct {
	Level    int    `json:"aqi"`
	Category string `json:"category"`
}

type breakpoint struct {
	max      float64
	level    int
	category string
}

// Upper bounds are inclusive.
var pm25Breakpoints = []breakpoint{
	{12, 50, "Good"},
	{35.4, 100, "Moderate"},
	{55.4, 150, "Unhealthy for Sensitive Groups"},
	{150.4, 200, "Unhealthy"},
	{250.4, 300, "Very Unhealthy"},
}

// FromPM25 returns the AQI bucket for a pm2.5 reading in µg/m³.
func FromPM25(pm25 float64) Index {
	for _, b := range pm25Breakpoints {
		if pm25 <= b.max {
			return Index{Level: b.level, Category: b.category}
		}
	}
	return Index{Level: 400, Category: "Hazardous"}
}

// Colour is a display band.
type Colour string

const (
	Green  Colour = "green"
	Yellow Colour = "yellow"
	Orange Colour = "orange"
	Red    Colour = "red"
	Purple Colour = "purple"
)

func band(v float64, limits [4]float64) Colour {
	switch {
	case v <= limits[0]:
		return Green
	case v <= limits[1]:
		return Yellow
	case v <= limits[2]:
		return Orange
	case v <= limits[3]:
		return Red
	}
	return Purple
}

// PM25Colour is the dashboard band for a pm2.5 value.
func PM25Colour(v float64) Colour { return band(v, [4]float64{12, 35, 55, 150}) }

// PM10Colour is the dashboard band for a pm10 value.
func PM10Colour(v float64) Colour { return band(v, [4]float64{54, 154, 254, 354}) }

// BarColour is the three-step colour used by the terminal graph.
func BarColour(v float64) Colour {
	switch {
	case v <= 50:
		return Green
	case v <= 100:
		return Yellow
	}
	return Red
}
