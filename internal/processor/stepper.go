package processor

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/market"
)

// Step frequency names accepted alongside explicit pandas-style codes.
const (
	FreqAuto   = "auto"
	FreqDaily  = "daily"
	FreqHourly = "hourly"
	FreqMinute = "minute"
)

// BuildSteps translates a step frequency into the explicit UTC step times over
// [start, end]. "auto" inspects the loaded bars and takes the mode of the
// inter-bar deltas; unparseable frequencies fall back to daily with a warning.
func BuildSteps(start, end time.Time, freq string, frame *market.Frame) []time.Time {
	interval := resolveInterval(freq, frame)
	var steps []time.Time
	for t := start.UTC(); !t.After(end.UTC()); t = t.Add(interval) {
		steps = append(steps, t)
	}
	return steps
}

func resolveInterval(freq string, frame *market.Frame) time.Duration {
	switch strings.ToLower(strings.TrimSpace(freq)) {
	case FreqAuto, "":
		return autoInterval(frame)
	case FreqDaily:
		return 24 * time.Hour
	case FreqHourly:
		return time.Hour
	case FreqMinute:
		return time.Minute
	}
	if d, ok := parsePandasFreq(freq); ok {
		return d
	}
	log.Warn().Str("step_frequency", freq).Msg("unrecognized step frequency, falling back to daily")
	return 24 * time.Hour
}

// autoInterval snaps the modal inter-bar delta to the nearest supported unit.
func autoInterval(frame *market.Frame) time.Duration {
	delta := frame.ModalDelta()
	switch {
	case delta >= 24*time.Hour:
		return 24 * time.Hour
	case delta >= time.Hour:
		return time.Hour
	case delta >= time.Minute:
		return time.Minute
	case delta > 0:
		return time.Second
	default:
		return 24 * time.Hour
	}
}

// parsePandasFreq handles codes like "D", "4H", "15T", "30S". "T" and "min"
// both mean minutes.
func parsePandasFreq(freq string) (time.Duration, bool) {
	s := strings.TrimSpace(freq)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		parsed, err := strconv.Atoi(s[:i])
		if err != nil || parsed <= 0 {
			return 0, false
		}
		n = parsed
	}
	var unit time.Duration
	switch strings.ToUpper(s[i:]) {
	case "D":
		unit = 24 * time.Hour
	case "H":
		unit = time.Hour
	case "T", "MIN":
		unit = time.Minute
	case "S":
		unit = time.Second
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}
