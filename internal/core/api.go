package core

import (
	"time"

	"ossgate/internal/session"
)

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Resource string `json:"resource"`
}

type InitUploadRequest struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

type InitUploadResponse struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// MergeRequest completes a chunked upload. Parts, when present, take
// precedence over the parts recorded on the session.
type MergeRequest struct {
	GUID     string         `json:"guid"`
	Path     string         `json:"path"`
	Filename string         `json:"filename"`
	UploadID string         `json:"uploadId,omitempty"`
	Parts    []session.Part `json:"parts,omitempty"`
}

// SessionStatus reports the progress of a chunked upload.
type SessionStatus struct {
	GUID      string         `json:"guid"`
	Key       string         `json:"key"`
	UploadID  string         `json:"uploadId"`
	Parts     []session.Part `json:"parts"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type DeleteFolderResponse struct {
	Prefix  string `json:"prefix"`
	Deleted int    `json:"deleted"`
}

func newSessionStatus(s *session.Session) SessionStatus {
	return SessionStatus{
		GUID:      s.CorrelationID,
		Key:       s.ObjectKey,
		UploadID:  s.UploadID,
		Parts:     s.SortedParts(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
