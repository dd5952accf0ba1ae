package models

import "time"

// Credential is a row in the external credential table. Secrets are stored
// and compared verbatim; the table predates this service and carries no
// password hashing.
type Credential struct {
	Email    string
	Password string
}

// Job instructs a downstream worker to process a stored blob. It is published
// once per accepted upload, immediately after the backend write succeeds.
type Job struct {
	BlobID       string    `json:"blob_id"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type"`
	Username     string    `json:"username"`
	Admin        bool      `json:"admin"`
	DispatchedAt time.Time `json:"dispatched_at"`
}
