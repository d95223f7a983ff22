package media

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies a credited operation and its price.
type OperationKind string

const (
	OperationImage OperationKind = "image"
	OperationVideo OperationKind = "video"
)

const (
	DefaultImageCost    = 100
	DefaultVideoCost    = 500
	DefaultImageTimeout = 90 * time.Second
	DefaultVideoTimeout = 6 * time.Minute

	MinImageIndex = 1
	MaxImageIndex = 6
)

type Style string

const (
	StyleStandard Style = "standard"
	StyleComic    Style = "comic"
	StyleManga    Style = "manga"
	StylePrincess Style = "princess"
)

func (s Style) Valid() bool {
	switch s {
	case StyleStandard, StyleComic, StyleManga, StylePrincess:
		return true
	}
	return false
}

// Config prices operations and bounds how long their collaborators may run.
type Config struct {
	Costs    map[OperationKind]int
	Timeouts map[OperationKind]time.Duration
}

// DefaultConfig returns the production prices and timeouts
func DefaultConfig() Config {
	return Config{
		Costs: map[OperationKind]int{
			OperationImage: DefaultImageCost,
			OperationVideo: DefaultVideoCost,
		},
		Timeouts: map[OperationKind]time.Duration{
			OperationImage: DefaultImageTimeout,
			OperationVideo: DefaultVideoTimeout,
		},
	}
}

// Asset is what a collaborator produced. Success=false is a failure even
// when no error is returned.
type Asset struct {
	Success      bool
	URL          string
	ThumbnailURL string
	FileName     string
	Prompt       string
	Style        Style
	SubmissionID uuid.UUID
	Reason       string
}

// Call invokes the collaborator. ctx carries the operation timeout.
type Call func(ctx context.Context) (*Asset, error)

type ReservationState string

const (
	StateReserved  ReservationState = "reserved"
	StateCommitted ReservationState = "committed"
	StateRefunded  ReservationState = "refunded"
)

// Reservation is credits debited for an operation still in flight.
type Reservation struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	UserID        uuid.UUID        `db:"user_id" json:"user_id"`
	Kind          OperationKind    `db:"operation_kind" json:"operation_kind"`
	Amount        int              `db:"amount" json:"amount"`
	State         ReservationState `db:"state" json:"state"`
	FailureReason *string          `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Artifact is a generated_media row.
type Artifact struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	ReservationID uuid.UUID     `db:"reservation_id" json:"reservation_id"`
	SubmissionID  *uuid.UUID    `db:"submission_id" json:"submission_id,omitempty"`
	UserID        uuid.UUID     `db:"user_id" json:"user_id"`
	MediaType     OperationKind `db:"media_type" json:"media_type"`
	AssetURL      string        `db:"asset_url" json:"asset_url"`
	ThumbnailURL  *string       `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	FileName      string        `db:"file_name" json:"file_name"`
	Prompt        string        `db:"prompt" json:"prompt"`
	Style         string        `db:"style" json:"style"`
	CreditsSpent  int           `db:"credits_spent" json:"credits_spent"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// Result is a committed credited operation.
type Result struct {
	Reservation Reservation `json:"reservation"`
	Artifact    *Artifact   `json:"artifact"`
	Charged     int         `json:"charged"`
	Balance     int         `json:"balance"`
}

// GenerateRequest asks for media illustrating a submission.
type GenerateRequest struct {
	SubmissionID uuid.UUID     `json:"submission_id" validate:"required"`
	Kind         OperationKind `json:"kind" validate:"required"`
	Style        Style         `json:"style" validate:"media_style"`
	ImageIndex   int           `json:"image_index" validate:"gte=0,lte=6"`
}
