package types

import "time"

// ContentObject is a stored artifact identified by a content-derived ID.
// Objects are immutable after registration: the owner and metadata never
// change, and deletion is not part of the model.
type ContentObject struct {
	// ID is the content identifier (a CID string) produced by the storage
	// collaborator. Stable and collision-resistant.
	ID string `json:"id"`

	// Owner is the identity of the uploader.
	Owner string `json:"owner"`

	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploadedAt"`
}
