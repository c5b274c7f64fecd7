package tlog

// DayStats summarizes the valid samples of a day.
type DayStats struct {
	MinTemp         float64 `json:"min_temp"`
	MaxTemp         float64 `json:"max_temp"`
	AvgTemp         float64 `json:"avg_temp"`
	HeaterOnMinutes int     `json:"heater_on_minutes"`
	ValidSamples    int     `json:"valid_samples"`
}

// Stats computes temperature extremes and heater usage over records with a
// temperature. A day without any valid sample yields zero values.
func Stats(records []Record) DayStats {
	var (
		st     DayStats
		sum    float64
		lo, hi float64
	)
	for _, r := range records {
		t, ok := r.Temperature()
		if !ok {
			continue
		}
		if st.ValidSamples == 0 || t < lo {
			lo = t
		}
		if st.ValidSamples == 0 || t > hi {
			hi = t
		}
		sum += t
		st.ValidSamples++
		if r.RelayOn() {
			st.HeaterOnMinutes++
		}
	}
	if st.ValidSamples > 0 {
		st.MinTemp = lo
		st.MaxTemp = hi
		st.AvgTemp = sum / float64(st.ValidSamples)
	}
	return st
}
