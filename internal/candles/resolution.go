package candles

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownResolution = errors.New("unknown resolution")

// Resolution ties a UI-facing token to the backend's resolution code and
// the equivalent Kite Connect interval name.
type Resolution struct {
	Token    string
	Code     string
	Kite     string
	Duration time.Duration
}

// Intraday reports whether candles of this resolution are shorter than a day.
func (r Resolution) Intraday() bool {
	return r.Duration < 24*time.Hour
}

var resolutions = []Resolution{
	{Token: "1m", Code: "1", Kite: "minute", Duration: time.Minute},
	{Token: "3m", Code: "3", Kite: "3minute", Duration: 3 * time.Minute},
	{Token: "5m", Code: "5", Kite: "5minute", Duration: 5 * time.Minute},
	{Token: "10m", Code: "10", Kite: "10minute", Duration: 10 * time.Minute},
	{Token: "15m", Code: "15", Kite: "15minute", Duration: 15 * time.Minute},
	{Token: "30m", Code: "30", Kite: "30minute", Duration: 30 * time.Minute},
	{Token: "1H", Code: "60", Kite: "60minute", Duration: time.Hour},
	{Token: "1D", Code: "D", Kite: "day", Duration: 24 * time.Hour},
	{Token: "1W", Code: "W", Duration: 7 * 24 * time.Hour},
	{Token: "1M", Code: "M", Duration: 30 * 24 * time.Hour},
}

var aliases = map[string]string{
	"1h":  "1H",
	"60m": "1H",
	"1d":  "1D",
	"D":   "1D",
	"1w":  "1W",
	"W":   "1W",
}

// LookupResolution maps a UI token (or alias) to its Resolution. Tokens are
// case-sensitive because "1m" and "1M" differ.
func LookupResolution(token string) (Resolution, error) {
	if canonical, ok := aliases[token]; ok {
		token = canonical
	}
	for _, r := range resolutions {
		if r.Token == token {
			return r, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownResolution, token)
}

// BackendCode maps a UI token to the backend resolution code.
func BackendCode(token string) (string, error) {
	r, err := LookupResolution(token)
	if err != nil {
		return "", err
	}
	return r.Code, nil
}

// ResolutionForCode is the inverse of BackendCode.
func ResolutionForCode(code string) (Resolution, error) {
	for _, r := range resolutions {
		if r.Code == code {
			return r, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: backend code %q", ErrUnknownResolution, code)
}
