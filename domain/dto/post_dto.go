package dto

import "crosspost/domain/model"

// Res mirrors the standard response envelope.
type Res struct {
	ResponseCode    string      `json:"response_code"`
	ResponseMessage string      `json:"response_message"`
	Data            interface{} `json:"data,omitempty"`
}

// PostRequest submits one video for fan-out publishing.
type PostRequest struct {
	SourcePath  string   `json:"sourcePath" binding:"required"`
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Privacy     string   `json:"privacy"`
	// Platforms restricts the fan-out; empty means every usable destination.
	Platforms []string `json:"platforms"`
}

// DestinationResult is one destination's terminal outcome.
type DestinationResult struct {
	Platform string `json:"platform"`
	Success  bool   `json:"success"`
	ResultID string `json:"resultId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PostResponse is the settle-all aggregate: present once every dispatched
// destination reached a terminal state.
type PostResponse struct {
	Results []DestinationResult `json:"results"`
}

// DestinationStatus is the reactive per-destination view exposed to the UI.
type DestinationStatus struct {
	Platform               string             `json:"platform"`
	IsEnabled              bool               `json:"isEnabled"`
	IsComplete             bool               `json:"isComplete"`
	IsAuthorized           bool               `json:"isAuthorized"`
	IsUsable               bool               `json:"isUsable"`
	Accounts               []model.Account    `json:"accounts,omitempty"`
	AuthorizationExpiresAt string             `json:"authorizationExpiresAt,omitempty"`
	Error                  string             `json:"error,omitempty"`
	Job                    *model.JobSnapshot `json:"job,omitempty"`
}
