package file

import (
	"fmt"
	"time"
)

// Visibility controls who may list a record.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility validates a client-supplied visibility. Only the exact
// values "public" and "private" are accepted; an empty value defaults to public.
func ParseVisibility(raw string) (Visibility, error) {
	switch v := Visibility(raw); v {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityPrivate:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, raw)
	}
}

// ResourceKind tells the blob store how to treat the payload.
type ResourceKind string

const (
	ResourceImage ResourceKind = "image"
	ResourceRaw   ResourceKind = "raw"
)

// Record is the persisted metadata of one uploaded file.
type Record struct {
	ID           string       `json:"id"`
	OriginalName string       `json:"originalname"`
	URL          string       `json:"url"`
	StorageID    string       `json:"public_id"`
	OwnerID      string       `json:"userId"`
	Visibility   Visibility   `json:"visibility"`
	ResourceKind ResourceKind `json:"resource_type"`
	UploadedAt   time.Time    `json:"uploadedAt"`
	SizeBytes    int64        `json:"size"`
	ContentType  string       `json:"contentType"`
	Checksum     string       `json:"checksum"`
}

// Page bounds a listing. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
