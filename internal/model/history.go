package model

import "time"

// TryOnHistoryEntry records one successful try-on for a user.
type TryOnHistoryEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Kind         JobKind   `json:"kind"`
	HumanImage   string    `json:"humanImage"`
	GarmentImage string    `json:"garmentImage"`
	ResultImage  string    `json:"resultImage"`
	GarmentName  string    `json:"garmentName"`
	GarmentType  string    `json:"garmentType"`
	Timestamp    time.Time `json:"timestamp"`
}
