package models

import "time"

// Image is a stable-identity corpus entry. Created with
// IngestionComplete=false and flipped to true once every feature batch for
// it has been persisted.
type Image struct {
	ImageID           int64     `json:"imageId"`
	Filename          string    `json:"filename"`
	IngestionComplete bool      `json:"ingestionComplete"`
	CreatedAt         time.Time `json:"createdAt"`
}
