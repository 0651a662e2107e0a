package model

// TryOnStartRequest starts a single garment try-on. Images are data URIs or URLs;
// the multipart form variant sends them as the human and garment files instead.
type TryOnStartRequest struct {
	HumanImage   string       `json:"humanImage" form:"humanImage"`
	GarmentImage string       `json:"garmentImage" form:"garmentImage"`
	GarmentName  string       `json:"garmentName" form:"garmentName" validate:"max=200"`
	GarmentType  string       `json:"garmentType" form:"garmentType" validate:"omitempty,oneof=auto_detect upper_body lower_body dresses"`
	UseVision    *bool        `json:"useVision,omitempty" form:"useVision"`
	Params       *TryOnParams `json:"params,omitempty" form:"-"`
}

// LayeredStartRequest layers another garment over an earlier result.
type LayeredStartRequest struct {
	BaseImage    string       `json:"baseImage" form:"baseImage"`
	GarmentImage string       `json:"garmentImage" form:"garmentImage"`
	GarmentName  string       `json:"garmentName" form:"garmentName" validate:"max=200"`
	GarmentType  string       `json:"garmentType" form:"garmentType" validate:"omitempty,oneof=auto_detect upper_body lower_body dresses"`
	UseVision    *bool        `json:"useVision,omitempty" form:"useVision"`
	Params       *TryOnParams `json:"params,omitempty" form:"-"`
}

// VideoStartRequest animates a still image.
type VideoStartRequest struct {
	ImageURL    string `json:"imageUrl" form:"imageUrl"`
	GarmentName string `json:"garmentName" form:"garmentName" validate:"max=200"`
	MotionType  string `json:"motionType" form:"motionType" validate:"omitempty,max=64"`
	Duration    int    `json:"duration" form:"duration" validate:"omitempty,min=1,max=10"`
	FPS         int    `json:"fps" form:"fps" validate:"omitempty,min=1,max=60"`
}

// OrchestratorStateResponse is the state of one orchestrator with the phase
// changes of its current run.
type OrchestratorStateResponse struct {
	State       OrchestratorState `json:"state"`
	Transitions []Transition      `json:"transitions"`
}

// ImageUploadRequest is the JSON variant of a direct upload.
type ImageUploadRequest struct {
	Image string `json:"image" validate:"required"`
}

// UploadResult is returned by the direct upload endpoints.
type UploadResult struct {
	Uploads   *UploadState   `json:"uploads"`
	Persisted PersistedValue `json:"persisted"`
}

// PageResponse is the page state with the outcome of the write that produced it.
type PageResponse struct {
	Page      *TryOnPageState `json:"page"`
	Persisted *PersistedValue `json:"persisted,omitempty"`
}

// PageUpdateRequest replaces the whole page state.
type PageUpdateRequest struct {
	ModelImage string         `json:"modelImage"`
	Garments   []GarmentEntry `json:"garments" validate:"dive"`
	OriginTab  string         `json:"originTab" validate:"omitempty,oneof=single layered"`
}

// ModelImageRequest sets the model photo.
type ModelImageRequest struct {
	Image string `json:"image"`
}

// OriginTabRequest records which tab the user came from.
type OriginTabRequest struct {
	Tab string `json:"tab" validate:"required,oneof=single layered"`
}

// WishlistResponse lists wishlisted product ids in insertion order.
type WishlistResponse struct {
	ProductIDs []int `json:"productIds"`
	Added      *bool `json:"added,omitempty"`
}

// HistoryListResponse lists history entries newest first.
type HistoryListResponse struct {
	Entries []TryOnHistoryEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// SafetyCheckRequest asks whether a garment description may be used.
type SafetyCheckRequest struct {
	GarmentDescription string `json:"garmentDescription" validate:"required,max=2000"`
}
