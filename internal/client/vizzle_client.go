package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vizzle/studio/internal/config"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
)

// JobService defines the operations of the remote try-on job service
type JobService interface {
	UploadImage(ctx context.Context, media *model.Media, role model.ImageRole) (*model.UploadedAsset, error)
	SubmitTryOn(ctx context.Context, req *model.TryOnRequest) (*model.Job, error)
	SubmitLayeredTryOn(ctx context.Context, req *model.LayeredTryOnRequest) (*model.Job, error)
	SubmitVideo(ctx context.Context, req *model.VideoRequest) (*model.Job, error)
	GetJob(ctx context.Context, kind model.JobKind, jobID string) (*model.Job, error)
	CheckGarmentSafety(ctx context.Context, description string) (*model.SafetyCheckResponse, error)
}

// MediaFetcher resolves a data URI or remote URL into raw media
type MediaFetcher interface {
	FetchMedia(ctx context.Context, src string) (*model.Media, error)
}

const maxFetchBytes = 32 << 20

var tracer = otel.Tracer("github.com/vizzle/studio/internal/client")

// VizzleClient implements JobService and MediaFetcher for the Vizzle backend
type VizzleClient struct {
	httpClient  *http.Client
	mediaClient *http.Client
	media       *mediaGuard
	baseURL     string
	log         *logger.Logger

	stampMu   sync.Mutex
	lastStamp int64
}

// NewVizzleClient creates a new job service client
func NewVizzleClient(cfg *config.VizzleConfig, log *logger.Logger) *VizzleClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	guard := newMediaGuard(cfg.MediaHosts, cfg.AllowPrivateMedia)
	return &VizzleClient{
		httpClient:  &http.Client{Timeout: timeout},
		mediaClient: guard.httpClient(timeout),
		media:       guard,
		baseURL:     cfg.BaseURL,
		log:         log.With("component", "vizzle_client"),
	}
}

// UploadImage uploads media as a human or garment image. Every call sends a
// freshly named multipart part so the remote never serves a cached asset.
func (c *VizzleClient) UploadImage(ctx context.Context, media *model.Media, role model.ImageRole) (*model.UploadedAsset, error) {
	ctx, span := tracer.Start(ctx, "vizzle.upload")
	span.SetAttributes(attribute.String("image.role", string(role)), attribute.Int("image.bytes", len(media.Data)))
	defer span.End()

	fileName := fmt.Sprintf("%s_%d.%s", role, c.nextStamp(), media.Extension())

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	header.Set("Content-Type", media.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, &UploadError{Role: role, Message: MsgUploadFailed, Err: err}
	}
	if _, err := part.Write(media.Data); err != nil {
		return nil, &UploadError{Role: role, Message: MsgUploadFailed, Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &UploadError{Role: role, Message: MsgUploadFailed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/"+string(role)), &body)
	if err != nil {
		return nil, &UploadError{Role: role, Message: MsgUploadFailed, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result model.UploadResponse
	if err := c.doRequest(req, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return nil, &UploadError{Role: role, StatusCode: statusOf(err), Message: messageOf(err, MsgUploadFailed), Err: err}
	}
	if result.URL == "" {
		return nil, &UploadError{Role: role, Message: MsgUploadFailed, Err: errors.New("upload response missing url")}
	}

	c.log.Debug("image uploaded", "role", role, "file", fileName, "public_id", result.PublicID)
	return &model.UploadedAsset{URL: result.URL, PublicID: result.PublicID}, nil
}

// SubmitTryOn creates a try-on job
func (c *VizzleClient) SubmitTryOn(ctx context.Context, req *model.TryOnRequest) (*model.Job, error) {
	return c.submit(ctx, model.JobKindTryOn, "/tryon", req)
}

// SubmitLayeredTryOn creates a layered try-on job on top of an earlier result
func (c *VizzleClient) SubmitLayeredTryOn(ctx context.Context, req *model.LayeredTryOnRequest) (*model.Job, error) {
	return c.submit(ctx, model.JobKindLayeredTryOn, "/tryon/layered", req)
}

// SubmitVideo creates a video generation job
func (c *VizzleClient) SubmitVideo(ctx context.Context, req *model.VideoRequest) (*model.Job, error) {
	return c.submit(ctx, model.JobKindVideo, "/video", req)
}

func (c *VizzleClient) submit(ctx context.Context, kind model.JobKind, endpoint string, payload interface{}) (*model.Job, error) {
	ctx, span := tracer.Start(ctx, "vizzle.submit")
	span.SetAttributes(attribute.String("job.kind", string(kind)))
	defer span.End()

	var result model.JobResponse
	if err := c.post(ctx, endpoint, payload, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, &SubmissionError{Kind: kind, StatusCode: statusOf(err), Message: messageOf(err, MsgRequestFailed), Err: err}
	}
	if result.ID == "" {
		return nil, &SubmissionError{Kind: kind, Message: MsgUnexpectedError, Err: errors.New("submission response missing id")}
	}

	job := result.ToJob(kind)
	span.SetAttributes(attribute.String("job.id", job.ID))
	c.log.Info("job submitted", "kind", kind, "job_id", job.ID, "status", job.Status)
	return job, nil
}

// GetJob queries the current status of a job
func (c *VizzleClient) GetJob(ctx context.Context, kind model.JobKind, jobID string) (*model.Job, error) {
	var endpoint string
	switch kind {
	case model.JobKindTryOn:
		endpoint = "/tryon/"
	case model.JobKindLayeredTryOn:
		endpoint = "/tryon/layered/"
	case model.JobKindVideo:
		endpoint = "/video/"
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	var result model.JobResponse
	if err := c.get(ctx, endpoint+url.PathEscape(jobID), &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		result.ID = jobID
	}
	return result.ToJob(kind), nil
}

// CheckGarmentSafety asks the service whether a garment description is acceptable
func (c *VizzleClient) CheckGarmentSafety(ctx context.Context, description string) (*model.SafetyCheckResponse, error) {
	req := map[string]string{"garment_description": description}
	var result model.SafetyCheckResponse
	if err := c.post(ctx, "/safety/garment", req, &result); err != nil {
		return nil, fmt.Errorf("failed to check garment safety: %w", err)
	}
	return &result, nil
}

// FetchMedia decodes a data URI in-process or downloads a remote image,
// bypassing any intermediate cache. Downloads are limited to public addresses
// and, when configured, to the allowed media hosts.
func (c *VizzleClient) FetchMedia(ctx context.Context, src string) (*model.Media, error) {
	if model.IsDataURI(src) {
		return model.DecodeDataURI(src)
	}
	if !model.IsRemoteURL(src) {
		return nil, fmt.Errorf("unsupported media source")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, withCacheBuster(src, c.nextStamp()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.media.checkURL(req.URL); err != nil {
		return nil, err
	}
	setNoCache(req)

	resp, err := c.mediaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &model.Media{ContentType: contentType, Data: data}, nil
}

// post sends a POST request with JSON body
func (c *VizzleClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(endpoint), bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *VizzleClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(endpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *VizzleClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Accept", "application/json")
	setNoCache(req)

	c.log.Debug("request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed", "method", req.Method, "url", req.URL.String(), "error", err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug("response", "status", resp.StatusCode, "method", req.Method, "url", req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		c.log.Warn("unmarshal error", "method", req.Method, "url", req.URL.String(), "error", err)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// endpoint builds an absolute URL with a cache-busting _t parameter
func (c *VizzleClient) endpoint(path string) string {
	return withCacheBuster(c.baseURL+path, c.nextStamp())
}

// nextStamp returns a strictly increasing unix-millisecond stamp
func (c *VizzleClient) nextStamp() int64 {
	c.stampMu.Lock()
	defer c.stampMu.Unlock()
	now := time.Now().UnixMilli()
	if now <= c.lastStamp {
		now = c.lastStamp + 1
	}
	c.lastStamp = now
	return now
}

func withCacheBuster(rawURL string, stamp int64) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("_t", strconv.FormatInt(stamp, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func setNoCache(req *http.Request) {
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
}

// messageOf returns the user-facing message for a request error. Remote errors
// use the body message or fallback; transport errors use their own text.
func messageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return fallback
	}
	if err != nil {
		return err.Error()
	}
	return fallback
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
