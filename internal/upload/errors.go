package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChunk is returned for chunk or merge requests with missing
	// identifiers or out-of-range part numbers.
	ErrInvalidChunk = errors.New("invalid chunk request")

	// ErrKeyMismatch is returned when a request names a different object key
	// than the session it belongs to.
	ErrKeyMismatch = errors.New("object key does not match upload session")
)

// PartUploadError reports a provider failure while uploading one part. The
// provider upload has been aborted and the session evicted by the time it is
// returned.
type PartUploadError struct {
	Key           string
	PartNumber    int
	CorrelationID string
	Err           error
}

func (e *PartUploadError) Error() string {
	return fmt.Sprintf("upload part %d of %q (guid %s): %v", e.PartNumber, e.Key, e.CorrelationID, e.Err)
}

func (e *PartUploadError) Unwrap() error {
	return e.Err
}

// MergeError reports that the provider rejected completing a multipart
// upload. The session, if any, is left intact so the client can retry.
type MergeError struct {
	Key           string
	UploadID      string
	CorrelationID string
	Err           error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %q (upload %s): %v", e.Key, e.UploadID, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}
