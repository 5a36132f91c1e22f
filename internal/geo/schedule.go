package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ScheduleStatus buckets the difference between a timetabled and a predicted arrival.
type ScheduleStatus string

const (
	Early  ScheduleStatus = "early"
	OnTime ScheduleStatus = "on_time"
	Late   ScheduleStatus = "late"
)

// scheduleTolerance is the number of whole minutes either side of the
// timetable still considered on time.
const scheduleTolerance = 2

var ErrInvalidScheduledTime = errors.New("invalid scheduled time")

// Deviation is the classified schedule difference. Minutes is the magnitude
// of the rounded difference.
type Deviation struct {
	Status  ScheduleStatus `json:"status"`
	Minutes int            `json:"minutes"`
}

// ParseScheduledTime parses a 12-hour wall-clock time such as "10:00 AM"
// and places it on the date of day, in day's location.
func ParseScheduledTime(s string, day time.Time) (time.Time, error) {
	t, err := time.Parse("3:04 PM", strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidScheduledTime, s)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// ClassifyDeviation compares predicted against the scheduled wall-clock time
// on the predicted arrival's date. No timezone conversion is applied.
func ClassifyDeviation(scheduled string, predicted time.Time) (Deviation, error) {
	sched, err := ParseScheduledTime(scheduled, predicted)
	if err != nil {
		return Deviation{}, err
	}
	diff := int(math.Round(predicted.Sub(sched).Minutes()))
	switch {
	case diff > scheduleTolerance:
		return Deviation{Status: Late, Minutes: diff}, nil
	case diff < -scheduleTolerance:
		return Deviation{Status: Early, Minutes: -diff}, nil
	default:
		return Deviation{Status: OnTime, Minutes: absInt(diff)}, nil
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
