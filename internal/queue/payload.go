package queue

import (
	"encoding/json"
	"fmt"
)

// StagePayload is the stage-specific data carried by a record. Exactly one of
// RenderPayload, CaptionPayload or DistributionPayload.
type StagePayload interface {
	Stage() Stage
	// Input is what the stage consumes: the content reference for render, the
	// previous stage's output URL otherwise.
	Input() string
	ExternalJobID() string
	ResultURL() string

	withJob(id string) StagePayload
	withResult(url string) StagePayload
}

// RenderPayload tracks avatar video rendering.
type RenderPayload struct {
	ContentRef string `json:"content_ref"`
	JobID      string `json:"job_id,omitempty"`
	VideoURL   string `json:"video_url,omitempty"`
}

func (p RenderPayload) Stage() Stage          { return StageRender }
func (p RenderPayload) Input() string         { return p.ContentRef }
func (p RenderPayload) ExternalJobID() string { return p.JobID }
func (p RenderPayload) ResultURL() string     { return p.VideoURL }

func (p RenderPayload) withJob(id string) StagePayload {
	p.JobID = id
	return p
}

func (p RenderPayload) withResult(url string) StagePayload {
	p.VideoURL = url
	return p
}

// CaptionPayload tracks caption editing of a rendered video.
type CaptionPayload struct {
	SourceURL    string `json:"source_url"`
	JobID        string `json:"job_id,omitempty"`
	CaptionedURL string `json:"captioned_url,omitempty"`
}

func (p CaptionPayload) Stage() Stage          { return StageCaption }
func (p CaptionPayload) Input() string         { return p.SourceURL }
func (p CaptionPayload) ExternalJobID() string { return p.JobID }
func (p CaptionPayload) ResultURL() string     { return p.CaptionedURL }

func (p CaptionPayload) withJob(id string) StagePayload {
	p.JobID = id
	return p
}

func (p CaptionPayload) withResult(url string) StagePayload {
	p.CaptionedURL = url
	return p
}

// DistributionPayload tracks posting the captioned video to social platforms.
type DistributionPayload struct {
	SourceURL string `json:"source_url"`
	JobID     string `json:"job_id,omitempty"`
	PostURL   string `json:"post_url,omitempty"`
}

func (p DistributionPayload) Stage() Stage          { return StageDistribute }
func (p DistributionPayload) Input() string         { return p.SourceURL }
func (p DistributionPayload) ExternalJobID() string { return p.JobID }
func (p DistributionPayload) ResultURL() string     { return p.PostURL }

func (p DistributionPayload) withJob(id string) StagePayload {
	p.JobID = id
	return p
}

func (p DistributionPayload) withResult(url string) StagePayload {
	p.PostURL = url
	return p
}

// NewPayload builds an empty payload for stage consuming input.
func NewPayload(stage Stage, input string) (StagePayload, error) {
	switch stage {
	case StageRender:
		return RenderPayload{ContentRef: input}, nil
	case StageCaption:
		return CaptionPayload{SourceURL: input}, nil
	case StageDistribute:
		return DistributionPayload{SourceURL: input}, nil
	}
	return nil, fmt.Errorf("unknown stage %q", stage)
}

// WithJob returns a copy of p carrying the external job id.
func WithJob(p StagePayload, id string) StagePayload {
	if p == nil {
		return nil
	}
	return p.withJob(id)
}

// WithResult returns a copy of p carrying the stage output URL.
func WithResult(p StagePayload, url string) StagePayload {
	if p == nil {
		return nil
	}
	return p.withResult(url)
}

func encodePayload(p StagePayload) (kind string, raw string, err error) {
	if p == nil {
		return "", "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("encode %s payload: %w", p.Stage(), err)
	}
	return string(p.Stage()), string(data), nil
}

// decodePayload restores the concrete payload for kind. Fields the type does
// not know are dropped.
func decodePayload(kind, raw string) (StagePayload, error) {
	if kind == "" {
		return nil, nil
	}
	if raw == "" {
		raw = "{}"
	}
	var (
		payload StagePayload
		err     error
	)
	switch Stage(kind) {
	case StageRender:
		var p RenderPayload
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	case StageCaption:
		var p CaptionPayload
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	case StageDistribute:
		var p DistributionPayload
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return payload, nil
}
