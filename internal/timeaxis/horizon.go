package timeaxis

import (
	"time"

	"github.com/rotisserie/eris"
)

// Horizon is the global forecast window shared by every region.
type Horizon struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// NewHorizon parses the start and end period labels. A start after the end,
// or a window containing no period end, returns ErrEmptyHorizon.
func NewHorizon(start, end string, g Granularity) (Horizon, error) {
	s, err := ParsePeriod(start)
	if err != nil {
		return Horizon{}, eris.Wrap(err, "timeaxis: horizon start")
	}
	e, err := ParsePeriod(end)
	if err != nil {
		return Horizon{}, eris.Wrap(err, "timeaxis: horizon end")
	}

	h := Horizon{Start: s, End: e, Granularity: g}
	if err := h.Validate(); err != nil {
		return Horizon{}, err
	}
	return h, nil
}

// Validate reports ErrEmptyHorizon when the horizon yields no dates.
func (h Horizon) Validate() error {
	if h.Start.After(h.End) {
		return eris.Wrapf(ErrEmptyHorizon, "start %s is after end %s",
			h.Start.Format("2006-01-02"), h.End.Format("2006-01-02"))
	}
	if len(h.Dates()) == 0 {
		return eris.Wrapf(ErrEmptyHorizon, "no %s end between %s and %s", h.Granularity,
			h.Start.Format("2006-01-02"), h.End.Format("2006-01-02"))
	}
	return nil
}

// Dates returns the horizon's calendar sequence.
func (h Horizon) Dates() []time.Time {
	return Range(h.Start, h.End, h.Granularity)
}

// Offsets returns the day offsets of Dates relative to the first date.
func (h Horizon) Offsets() []int {
	dates := h.Dates()
	if len(dates) == 0 {
		return nil
	}
	return Offsets(dates[0], dates)
}
