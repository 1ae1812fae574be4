package dto

// FiltersData lists the values the event list can be filtered by.
type FiltersData struct {
	Cameras []string `json:"cameras"`
	Objects []string `json:"objects"`
}
