package model

import (
	"io"
	"os"
)

// VideoFile is a prepared video artifact on local disk.
type VideoFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

func (f VideoFile) IsZero() bool { return f.Path == "" }

func (f VideoFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// TrimSpec is a destination's constraint on its variant. Zero fields mean
// unconstrained.
type TrimSpec struct {
	MaxFilesize int64 `json:"maxFilesize"`
	MinDuration int   `json:"minDuration"`
	MaxDuration int   `json:"maxDuration"`
}

func (t TrimSpec) IsZero() bool {
	return t.MaxFilesize == 0 && t.MinDuration == 0 && t.MaxDuration == 0
}

// HLSBundle is the packaged HLS rendition of the master file.
type HLSBundle struct {
	Manifest        VideoFile   `json:"manifest"`
	VariantManifest VideoFile   `json:"variantManifest"`
	Thumbnail       VideoFile   `json:"thumbnail"`
	Segments        []VideoFile `json:"segments"`
}

// VideoVariant is one per-destination prepared artifact plus its post-upload
// URLs.
type VideoVariant struct {
	Video    VideoFile `json:"video"`
	VideoURL string    `json:"videoUrl"`
	HLSURL   string    `json:"hlsUrl"`
}

// VideoVariantSet is the master converted file plus zero or more
// per-destination trimmed variants. A destination without its own entry falls
// back to Full.
type VideoVariantSet struct {
	Full     VideoVariant            `json:"full"`
	Variants map[string]VideoVariant `json:"variants,omitempty"`
}

// ForDestination resolves the variant for one platform, falling back to the
// master when no trimmed entry exists.
func (s VideoVariantSet) ForDestination(platform string) VideoVariant {
	if v, ok := s.Variants[platform]; ok {
		return v
	}
	return s.Full
}

// PublishInput is everything one destination's adapter needs for a post.
type PublishInput struct {
	Platform    string
	AccessToken string
	Account     Account
	Extra       map[string]string

	Title       string
	Description string
	Tags        []string
	Privacy     string

	Video    VideoFile
	VideoURL string
	HLSURL   string
}
