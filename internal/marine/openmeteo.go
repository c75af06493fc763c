package marine

import (
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strconv"

	"go.trai.ch/zerr"

	"github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
)

// KnotsPerMeterPerSecond converts wind speed from m/s to knots.
const KnotsPerMeterPerSecond = 1.94384

// Conditions is the derived marine snapshot for one port.
type Conditions struct {
	Hs          *float64 `json:"hs"`
	WindKt      *float64 `json:"windKt"`
	SwellPeriod *float64 `json:"swellPeriod"`
	IOI         int      `json:"ioi"`
	Source      string   `json:"source,omitempty"`
}

type openMeteoPayload struct {
	Hourly struct {
		WaveHeight      []json.RawMessage `json:"wave_height"`
		WindSpeed10m    []json.RawMessage `json:"wind_speed_10m"`
		SwellWavePeriod []json.RawMessage `json:"swell_wave_period"`
	} `json:"hourly"`
}

// ParseOpenMeteo reads the first hourly sample of an Open-Meteo marine
// response. Wind must have been requested in m/s. A sample that is not a
// number leaves only its own field nil.
func ParseOpenMeteo(body []byte) (Conditions, error) {
	var payload openMeteoPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Conditions{}, zerr.With(errors.Join(ErrMalformedPayload, err), "bytes", len(body))
	}

	hs := first(payload.Hourly.WaveHeight)
	windMs := first(payload.Hourly.WindSpeed10m)
	swell := first(payload.Hourly.SwellWavePeriod)

	var windKt *float64
	if windMs != nil {
		kt := *windMs * KnotsPerMeterPerSecond
		windKt = &kt
	}

	return Conditions{
		Hs:          hs,
		WindKt:      windKt,
		SwellPeriod: swell,
		IOI:         ComputeIOI(hs, windKt, swell),
	}, nil
}

// OpenMeteoTarget builds the forecast request for port against base.
func OpenMeteoTarget(base *url.URL, port Port) guardedfetch.Target {
	u := *base
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(port.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(port.Lon, 'f', -1, 64))
	q.Set("hourly", "wave_height,wind_speed_10m,swell_wave_period")
	q.Set("wind_speed_unit", "ms")
	q.Set("timezone", "auto")
	u.RawQuery = q.Encode()

	return guardedfetch.Target{URL: u.String()}
}

// first returns the first value as a finite float, or nil.
func first(values []json.RawMessage) *float64 {
	if len(values) == 0 {
		return nil
	}
	var f *float64
	if err := json.Unmarshal(values[0], &f); err != nil || f == nil {
		return nil
	}
	if math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	return f
}
