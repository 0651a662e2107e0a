package model

// GarmentEntry is a garment selected on the try-on page.
type GarmentEntry struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image"`
	BuyLink  string `json:"buyLink,omitempty"`
	Price    string `json:"price,omitempty"`
	Category string `json:"category,omitempty"`
}

// TryOnPageState is the user's working set on the try-on page.
type TryOnPageState struct {
	ModelImage string         `json:"modelImage"`
	Garments   []GarmentEntry `json:"garments"`
	OriginTab  string         `json:"originTab"`
}

// UploadSlot is the last upload for one image role.
type UploadSlot struct {
	Asset   *UploadedAsset `json:"asset,omitempty"`
	Preview string         `json:"preview,omitempty"`
}

// UploadState holds the last human and garment uploads.
type UploadState struct {
	Human   UploadSlot `json:"human"`
	Garment UploadSlot `json:"garment"`
}

// JobResultSnapshot is the persisted reference to a job outcome. It holds ids and
// output references only, never media payloads.
type JobResultSnapshot struct {
	JobID  string    `json:"jobId"`
	Kind   JobKind   `json:"kind"`
	Status JobStatus `json:"status"`
	Output string    `json:"output,omitempty"`
}

// PersistedValue is the outcome of a guarded write. Admitted is false when the
// payload was kept in memory only.
type PersistedValue struct {
	Key      string `json:"key"`
	Payload  string `json:"-"`
	Admitted bool   `json:"admitted"`
}
