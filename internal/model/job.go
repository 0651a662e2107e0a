package model

import (
	"encoding/json"
	"time"
)

// Job is a unit of remote asynchronous work. Output is set only when the job
// succeeded, Error only when it failed.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Output    []string  `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PrimaryOutput returns the first output reference, or "" if there is none.
func (j *Job) PrimaryOutput() string {
	if j == nil || len(j.Output) == 0 {
		return ""
	}
	return j.Output[0]
}

// Output is the remote "output" field, which is either a single reference or a list.
type Output []string

func (o *Output) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*o = nil
		} else {
			*o = Output{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*o = Output(many)
	return nil
}

// TryOnParams are the model parameters sent with a try-on submission.
type TryOnParams struct {
	Category string `json:"category"`
	Crop     bool   `json:"crop"`
	ForceDC  bool   `json:"force_dc"`
	MaskOnly bool   `json:"mask_only"`
	Steps    int    `json:"steps"`
	Seed     int    `json:"seed"`
}

// DefaultTryOnParams mirrors the parameters the storefront always sends.
func DefaultTryOnParams() TryOnParams {
	return TryOnParams{
		Category: GarmentTypeUpperBody,
		Steps:    20,
		Seed:     42,
	}
}

// TryOnRequest is the body of POST /tryon.
type TryOnRequest struct {
	HumanImg    string      `json:"human_img"`
	GarmImg     string      `json:"garm_img"`
	GarmentType string      `json:"garment_type"`
	UseVision   bool        `json:"use_vision"`
	Params      TryOnParams `json:"params"`
}

// LayeredTryOnRequest is the body of POST /tryon/layered.
type LayeredTryOnRequest struct {
	ResultImg   string      `json:"result_img"`
	GarmImg     string      `json:"garm_img"`
	GarmentType string      `json:"garment_type"`
	UseVision   bool        `json:"use_vision"`
	Params      TryOnParams `json:"params"`
}

// VideoRequest is the body of POST /video.
type VideoRequest struct {
	ImageURL   string `json:"image_url"`
	MotionType string `json:"motion_type"`
	Duration   int    `json:"duration"`
	FPS        int    `json:"fps"`
}

// Video defaults
const (
	DefaultMotionType    = "subtle_walk"
	DefaultVideoDuration = 3
	DefaultVideoFPS      = 24
)

// JobResponse is the remote representation of a job, shared by submission and
// status endpoints of every kind.
type JobResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Output   Output `json:"output,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ToJob normalizes a remote response into a Job of the given kind.
func (r *JobResponse) ToJob(kind JobKind) *Job {
	job := &Job{
		ID:        r.ID,
		Kind:      kind,
		Status:    NormalizeStatus(r.Status),
		UpdatedAt: time.Now(),
	}
	switch job.Status {
	case JobStatusSucceeded:
		job.Output = []string(r.Output)
		if r.VideoURL != "" {
			job.Output = append([]string{r.VideoURL}, job.Output...)
		}
	case JobStatusFailed:
		job.Error = r.Error
	}
	return job
}

// SafetyCheckResponse is the result of a garment safety check.
type SafetyCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message"`
}
