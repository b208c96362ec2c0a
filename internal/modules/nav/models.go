package nav

// Point is one day of the reconstructed NAV series. Bench is 0 when no
// benchmark series exists for the window.
type Point struct {
	Date  string  `json:"date"`
	NAV   float64 `json:"nav"`
	DayPL float64 `json:"day_pl"`
	Ret   float64 `json:"ret"`
	Bench float64 `json:"bench"`
	TWR   float64 `json:"twr"`
}
