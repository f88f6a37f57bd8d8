package model

import (
	"errors"
	"fmt"
)

// Error kinds for the publish pipeline. Handlers and adapters wrap these so
// callers can classify failures with errors.Is.
var (
	ErrCredential           = errors.New("incomplete client credentials")
	ErrAuthorization        = errors.New("authorization expired or invalid")
	ErrUpload               = errors.New("upload failed")
	ErrProcessingFailed     = errors.New("destination reported processing failure")
	ErrProcessingTimeout    = errors.New("timed out waiting for destination processing")
	ErrUnsupportedOperation = errors.New("operation not supported by destination")
	ErrStorageUnavailable   = errors.New("no usable storage backend")
)

// PlatformError wraps a kind with the destination it came from and the
// adapter-reported detail.
type PlatformError struct {
	Platform string
	Kind     error
	Detail   string
}

func (e *PlatformError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Platform, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Platform, e.Kind, e.Detail)
}

func (e *PlatformError) Unwrap() error { return e.Kind }

func NewPlatformError(platform string, kind error, format string, args ...interface{}) *PlatformError {
	return &PlatformError{Platform: platform, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
