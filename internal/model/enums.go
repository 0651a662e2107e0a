package model

// JobKind identifies which remote job family a job belongs to.
type JobKind string

const (
	JobKindTryOn        JobKind = "tryon"
	JobKindLayeredTryOn JobKind = "layered_tryon"
	JobKindVideo        JobKind = "video"
)

var ValidJobKinds = []JobKind{JobKindTryOn, JobKindLayeredTryOn, JobKindVideo}

// JobStatus is the normalized status of a remote job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Rank orders statuses so observed progress never moves backwards.
// Both terminal statuses share the highest rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusProcessing:
		return 1
	case JobStatusSucceeded, JobStatusFailed:
		return 2
	default:
		return 0
	}
}

// IsTerminal reports whether no further status change can happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// NormalizeStatus maps the remote service's status vocabulary onto JobStatus.
// Unknown values are treated as pending.
func NormalizeStatus(raw string) JobStatus {
	switch raw {
	case "processing", "running", "in_progress":
		return JobStatusProcessing
	case "succeeded", "success", "completed", "complete":
		return JobStatusSucceeded
	case "failed", "error", "canceled", "cancelled":
		return JobStatusFailed
	default:
		return JobStatusPending
	}
}

// ImageRole selects the upload endpoint for a media item.
type ImageRole string

const (
	ImageRoleHuman   ImageRole = "human"
	ImageRoleGarment ImageRole = "garment"
)

// Phase is the state of a job orchestrator.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseSubmitting Phase = "submitting"
	PhaseProcessing Phase = "processing"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// InFlight reports whether a run is currently executing.
func (p Phase) InFlight() bool {
	return p == PhaseUploading || p == PhaseSubmitting || p == PhaseProcessing
}

// IsTerminal reports whether the run has finished.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Garment types accepted by the try-on models
const (
	GarmentTypeAutoDetect = "auto_detect"
	GarmentTypeUpperBody  = "upper_body"
	GarmentTypeLowerBody  = "lower_body"
	GarmentTypeDresses    = "dresses"
)

// Origin tabs of the try-on page
const (
	OriginTabSingle  = "single"
	OriginTabLayered = "layered"
)
