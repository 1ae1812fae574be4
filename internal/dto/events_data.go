// EventsData is a paginated response payload for the event list.
package dto

type EventsData struct {
	Events      []EventInfo `json:"events"`
	StorageDir  string      `json:"storageDir"`
	Length      int         `json:"length"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
	Limit       int         `json:"pageSize"`
}
