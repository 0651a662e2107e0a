package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/model"
)

var ErrInvalidRequest = errors.New("invalid request")

// Source is an image given either as raw media or as a reference (data URI or URL).
type Source struct {
	Ref   string
	Media *model.Media
}

func (s Source) empty() bool {
	return s.Media == nil && strings.TrimSpace(s.Ref) == ""
}

// hosted reports whether the source already points at a remote asset.
func (s Source) hosted() bool {
	return s.Media == nil && model.IsRemoteURL(s.Ref)
}

// Request carries everything one run needs. Which fields are used depends on the
// orchestrator's kind.
type Request struct {
	UserID string

	// try-on: Human and Garment
	// layered: Base (earlier result) and Garment
	// video: Base (source image)
	Human   Source
	Garment Source
	Base    Source

	GarmentName string
	GarmentType string
	UseVision   *bool
	Params      *model.TryOnParams

	MotionType string
	Duration   int
	FPS        int
}

// upload is one media item to send before submission
type upload struct {
	slot string
	role model.ImageRole
	src  Source
}

// flow holds the kind specific steps of a run
type flow interface {
	kind() model.JobKind
	validate(req *Request) error
	uploads(req *Request) []upload
	submit(ctx context.Context, jobs client.JobService, req *Request, urls map[string]string) (*model.Job, error)
	historyEntry(req *Request, urls map[string]string, result string) *model.TryOnHistoryEntry
	failMessage() string
}

const (
	slotHuman   = "human"
	slotGarment = "garment"
	slotBase    = "base"
)

func garmentType(req *Request) string {
	if req.GarmentType == "" {
		return model.GarmentTypeAutoDetect
	}
	return req.GarmentType
}

func params(req *Request) model.TryOnParams {
	if req.Params == nil {
		return model.DefaultTryOnParams()
	}
	return *req.Params
}

func useVision(req *Request, def bool) bool {
	if req.UseVision == nil {
		return def
	}
	return *req.UseVision
}

// ref returns the uploaded URL for slot, falling back to the source reference
func ref(urls map[string]string, slot string, src Source) string {
	if u, ok := urls[slot]; ok {
		return u
	}
	return src.Ref
}

type tryOnFlow struct{}

func (tryOnFlow) kind() model.JobKind { return model.JobKindTryOn }

func (tryOnFlow) validate(req *Request) error {
	if req.Human.empty() {
		return fmt.Errorf("%w: human image is required", ErrInvalidRequest)
	}
	if req.Garment.empty() {
		return fmt.Errorf("%w: garment image is required", ErrInvalidRequest)
	}
	return nil
}

// Both images are always re-uploaded, even when given as URLs, so the remote
// service works on freshly hosted copies.
func (tryOnFlow) uploads(req *Request) []upload {
	return []upload{
		{slot: slotHuman, role: model.ImageRoleHuman, src: req.Human},
		{slot: slotGarment, role: model.ImageRoleGarment, src: req.Garment},
	}
}

func (tryOnFlow) submit(ctx context.Context, jobs client.JobService, req *Request, urls map[string]string) (*model.Job, error) {
	return jobs.SubmitTryOn(ctx, &model.TryOnRequest{
		HumanImg:    urls[slotHuman],
		GarmImg:     urls[slotGarment],
		GarmentType: garmentType(req),
		UseVision:   useVision(req, true),
		Params:      params(req),
	})
}

func (tryOnFlow) historyEntry(req *Request, urls map[string]string, result string) *model.TryOnHistoryEntry {
	return &model.TryOnHistoryEntry{
		Kind:         model.JobKindTryOn,
		HumanImage:   urls[slotHuman],
		GarmentImage: urls[slotGarment],
		ResultImage:  result,
		GarmentName:  req.GarmentName,
		GarmentType:  garmentType(req),
	}
}

func (tryOnFlow) failMessage() string { return "Try-on failed" }

type layeredFlow struct{}

func (layeredFlow) kind() model.JobKind { return model.JobKindLayeredTryOn }

func (layeredFlow) validate(req *Request) error {
	if req.Base.empty() {
		return fmt.Errorf("%w: base result image is required", ErrInvalidRequest)
	}
	if req.Garment.empty() {
		return fmt.Errorf("%w: garment image is required", ErrInvalidRequest)
	}
	return nil
}

func (layeredFlow) uploads(req *Request) []upload {
	ups := make([]upload, 0, 2)
	if !req.Base.hosted() {
		ups = append(ups, upload{slot: slotBase, role: model.ImageRoleHuman, src: req.Base})
	}
	return append(ups, upload{slot: slotGarment, role: model.ImageRoleGarment, src: req.Garment})
}

func (layeredFlow) submit(ctx context.Context, jobs client.JobService, req *Request, urls map[string]string) (*model.Job, error) {
	return jobs.SubmitLayeredTryOn(ctx, &model.LayeredTryOnRequest{
		ResultImg:   ref(urls, slotBase, req.Base),
		GarmImg:     urls[slotGarment],
		GarmentType: garmentType(req),
		UseVision:   useVision(req, false),
		Params:      params(req),
	})
}

func (layeredFlow) historyEntry(req *Request, urls map[string]string, result string) *model.TryOnHistoryEntry {
	return &model.TryOnHistoryEntry{
		Kind:         model.JobKindLayeredTryOn,
		HumanImage:   ref(urls, slotBase, req.Base),
		GarmentImage: urls[slotGarment],
		ResultImage:  result,
		GarmentName:  req.GarmentName,
		GarmentType:  garmentType(req),
	}
}

func (layeredFlow) failMessage() string { return "Layered try-on failed" }

type videoFlow struct{}

func (videoFlow) kind() model.JobKind { return model.JobKindVideo }

func (videoFlow) validate(req *Request) error {
	if req.Base.empty() {
		return fmt.Errorf("%w: source image is required", ErrInvalidRequest)
	}
	if req.Duration < 0 || req.FPS < 0 {
		return fmt.Errorf("%w: duration and fps must be positive", ErrInvalidRequest)
	}
	return nil
}

func (videoFlow) uploads(req *Request) []upload {
	if req.Base.hosted() {
		return nil
	}
	return []upload{{slot: slotBase, role: model.ImageRoleHuman, src: req.Base}}
}

func (videoFlow) submit(ctx context.Context, jobs client.JobService, req *Request, urls map[string]string) (*model.Job, error) {
	vr := &model.VideoRequest{
		ImageURL:   ref(urls, slotBase, req.Base),
		MotionType: req.MotionType,
		Duration:   req.Duration,
		FPS:        req.FPS,
	}
	if vr.MotionType == "" {
		vr.MotionType = model.DefaultMotionType
	}
	if vr.Duration == 0 {
		vr.Duration = model.DefaultVideoDuration
	}
	if vr.FPS == 0 {
		vr.FPS = model.DefaultVideoFPS
	}
	return jobs.SubmitVideo(ctx, vr)
}

func (videoFlow) historyEntry(req *Request, urls map[string]string, result string) *model.TryOnHistoryEntry {
	motion := req.MotionType
	if motion == "" {
		motion = model.DefaultMotionType
	}
	return &model.TryOnHistoryEntry{
		Kind:        model.JobKindVideo,
		HumanImage:  ref(urls, slotBase, req.Base),
		ResultImage: result,
		GarmentName: req.GarmentName,
		GarmentType: motion,
	}
}

func (videoFlow) failMessage() string { return "Video generation failed" }

func flowFor(kind model.JobKind) (flow, error) {
	switch kind {
	case model.JobKindTryOn:
		return tryOnFlow{}, nil
	case model.JobKindLayeredTryOn:
		return layeredFlow{}, nil
	case model.JobKindVideo:
		return videoFlow{}, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
}
