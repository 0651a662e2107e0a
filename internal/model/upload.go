package model

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

// UploadedAsset is a hosted media reference returned by the upload endpoints.
type UploadedAsset struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// UploadResponse is the remote body of POST /upload/{role}.
type UploadResponse struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// Media is raw image content ready for upload.
type Media struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the byte length of the content.
func (m *Media) Size() int64 {
	return int64(len(m.Data))
}

// Extension returns a file extension derived from the content type.
func (m *Media) Extension() string {
	switch m.ContentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}

const dataURIPrefix = "data:"

var ErrInvalidDataURI = errors.New("invalid data URI")

// IsDataURI reports whether s is an inline data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, dataURIPrefix)
}

// IsRemoteURL reports whether s is an http(s) URL.
func IsRemoteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// DecodeDataURI decodes a base64 data URI of the form data:<type>;base64,<payload>.
func DecodeDataURI(s string) (*Media, error) {
	if !IsDataURI(s) {
		return nil, ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, dataURIPrefix), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, ErrInvalidDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidDataURI
	}
	contentType := strings.TrimSuffix(header, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Media{ContentType: contentType, Data: data}, nil
}

// EncodeDataURI renders media as a base64 data URI.
func EncodeDataURI(m *Media) string {
	return dataURIPrefix + m.ContentType + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}
