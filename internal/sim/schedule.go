package sim

// Segment is a piece of the daily temperature program. Within
// [StartMinute, EndMinute) the base temperature moves linearly from From to
// To; a flat segment has From == To.
type Segment struct {
	StartMinute int
	EndMinute   int
	From        float64
	To          float64
	Noise       float64 // uniform noise amplitude, °C
}

// Schedule is an ordered, contiguous list of segments covering the day.
type Schedule []Segment

// DefaultSchedule is the weekday comfort program used for full-day logs.
var DefaultSchedule = Schedule{
	{StartMinute: 0, EndMinute: 7 * 60, From: 16.0, To: 16.0, Noise: 0.3},
	{StartMinute: 7 * 60, EndMinute: 9 * 60, From: 16.0, To: 21.0, Noise: 0.5},
	{StartMinute: 9 * 60, EndMinute: 17 * 60, From: 20.5, To: 20.5, Noise: 0.5},
	{StartMinute: 17 * 60, EndMinute: 22 * 60, From: 20.5, To: 18.0, Noise: 0.4},
	{StartMinute: 22 * 60, EndMinute: 24 * 60, From: 18.0, To: 16.0, Noise: 0.3},
}

// FlatSchedule returns a single all-day segment.
func FlatSchedule(base, noise float64) Schedule {
	return Schedule{{StartMinute: 0, EndMinute: 24 * 60, From: base, To: base, Noise: noise}}
}

// At returns the base temperature and noise amplitude for minute. Minutes
// outside every segment fall back to the nearest end of the schedule.
func (s Schedule) At(minute int) (base, noise float64) {
	if len(s) == 0 {
		return 0, 0
	}
	for _, seg := range s {
		if minute >= seg.StartMinute && minute < seg.EndMinute {
			progress := float64(minute-seg.StartMinute) / float64(seg.EndMinute-seg.StartMinute)
			return seg.From + (seg.To-seg.From)*progress, seg.Noise
		}
	}
	if minute < s[0].StartMinute {
		return s[0].From, s[0].Noise
	}
	last := s[len(s)-1]
	return last.To, last.Noise
}
