package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"
)

// Client talks to the external video-preparation service over HTTP. The
// service shares a volume with this process: requests and replies carry file
// paths, never bytes.
type Client struct {
	http transport.Doer
	host string
}

func NewClient(client transport.Doer, host string) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &Client{http: client, host: strings.TrimRight(host, "/")}
}

var _ repository.IVideoPipeline = (*Client)(nil)

type fileDTO struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

func toDTO(f model.VideoFile) fileDTO {
	return fileDTO{Name: f.Name, Path: f.Path, Size: f.Size, MimeType: f.MimeType}
}

func fromDTO(f fileDTO) model.VideoFile {
	return model.VideoFile{Name: f.Name, Path: f.Path, Size: f.Size, MimeType: f.MimeType}
}

func (c *Client) Convert(ctx context.Context, source model.VideoFile, report repository.ProgressFunc) (model.VideoFile, error) {
	if report != nil {
		report(0, "converting")
	}
	var out fileDTO
	if err := transport.PostJSON(ctx, c.http, c.host+"/convert", "", toDTO(source), &out); err != nil {
		return model.VideoFile{}, fmt.Errorf("pipeline convert: %w", err)
	}
	if report != nil {
		report(1, "converted")
	}
	return fromDTO(out), nil
}

func (c *Client) Trim(ctx context.Context, master model.VideoFile, spec model.TrimSpec, report repository.ProgressFunc) (model.VideoFile, error) {
	if spec.IsZero() {
		return master, nil
	}
	if report != nil {
		report(0, "trimming")
	}
	payload := struct {
		File fileDTO        `json:"file"`
		Spec model.TrimSpec `json:"spec"`
	}{File: toDTO(master), Spec: spec}
	var out fileDTO
	if err := transport.PostJSON(ctx, c.http, c.host+"/trim", "", payload, &out); err != nil {
		return model.VideoFile{}, fmt.Errorf("pipeline trim: %w", err)
	}
	if report != nil {
		report(1, "trimmed")
	}
	return fromDTO(out), nil
}

func (c *Client) PackageHLS(ctx context.Context, master model.VideoFile, report repository.ProgressFunc) (*model.HLSBundle, error) {
	if report != nil {
		report(0, "packaging hls")
	}
	var out struct {
		Manifest        fileDTO   `json:"manifest"`
		VariantManifest fileDTO   `json:"variantManifest"`
		Thumbnail       fileDTO   `json:"thumbnail"`
		Segments        []fileDTO `json:"segments"`
	}
	if err := transport.PostJSON(ctx, c.http, c.host+"/hls", "", toDTO(master), &out); err != nil {
		return nil, fmt.Errorf("pipeline hls: %w", err)
	}
	bundle := &model.HLSBundle{
		Manifest:        fromDTO(out.Manifest),
		VariantManifest: fromDTO(out.VariantManifest),
		Thumbnail:       fromDTO(out.Thumbnail),
	}
	for _, s := range out.Segments {
		bundle.Segments = append(bundle.Segments, fromDTO(s))
	}
	if report != nil {
		report(1, "hls packaged")
	}
	return bundle, nil
}
