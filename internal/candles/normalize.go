package candles

import (
	"math"
	"sort"
	"time"

	"marketsync/internal/types"
)

// DefaultLabelCount is how many evenly spaced candles carry a label, not
// counting the final candle which is always labelled.
const DefaultLabelCount = 6

// Normalize turns raw candles into a chart-ready series: invalid rows are
// dropped, the series is sorted ascending with duplicate timestamps collapsed
// (the later row wins), Value mirrors Close and labels are thinned.
func Normalize(raw []types.Candle, res Resolution, loc *time.Location, labelCount int) []types.Candle {
	out := make([]types.Candle, 0, len(raw))
	for _, c := range raw {
		if c.Time <= 0 || !finite(c.Open, c.High, c.Low, c.Close) {
			continue
		}
		c.Value = c.Close
		c.Label = ""
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	deduped := out[:0]
	for _, c := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Time == c.Time {
			deduped[n-1] = c
			continue
		}
		deduped = append(deduped, c)
	}

	return ThinLabels(deduped, res, loc, labelCount)
}

// ThinLabels labels every ceil(len/n)-th candle and the last one, leaving all
// other labels empty so chart text does not overlap. The series is modified
// in place and returned.
func ThinLabels(series []types.Candle, res Resolution, loc *time.Location, n int) []types.Candle {
	if len(series) == 0 {
		return series
	}
	if n <= 0 {
		n = DefaultLabelCount
	}
	if loc == nil {
		loc = time.UTC
	}

	step := (len(series) + n - 1) / n
	if step < 1 {
		step = 1
	}

	last := len(series) - 1
	for i := range series {
		if i%step == 0 || i == last {
			series[i].Label = formatLabel(series[i].Time, res, loc)
		} else {
			series[i].Label = ""
		}
	}
	return series
}

func formatLabel(epoch int64, res Resolution, loc *time.Location) string {
	t := time.Unix(epoch, 0).In(loc)
	switch {
	case res.Intraday():
		return t.Format("15:04")
	case res.Duration <= 24*time.Hour:
		return t.Format("02 Jan")
	default:
		return t.Format("Jan 06")
	}
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
