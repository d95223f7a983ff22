package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/pkg/imaging"
	"github.com/storyquest/storyquest-api/internal/pkg/storage"
)

// Published locates an uploaded asset.
type Published struct {
	URL          string
	ThumbnailURL string
	FileName     string
}

// Publisher uploads generated assets the collaborator returned inline.
type Publisher struct {
	store  storage.Storage
	images *imaging.Processor
}

// NewPublisher creates an asset publisher. images may be nil to skip thumbnails.
func NewPublisher(store storage.Storage, images *imaging.Processor) *Publisher {
	return &Publisher{store: store, images: images}
}

// Publish stores data under images/{submission}_{token}_{index}.png or
// videos/{submission}_{token}.mp4 and returns its public URLs.
func (p *Publisher) Publish(ctx context.Context, kind OperationKind, submissionID uuid.UUID, index int, data []byte, contentType string) (*Published, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("publish %s: empty asset", kind)
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	if kind == OperationVideo {
		if contentType == "" {
			contentType = "video/mp4"
		}
		key := fmt.Sprintf("videos/%s_%s.mp4", submissionID, token)
		if err := p.store.Put(ctx, key, bytes.NewReader(data), contentType); err != nil {
			return nil, fmt.Errorf("publish video: %w", err)
		}
		return &Published{URL: p.store.GetURL(key), FileName: key[len("videos/"):]}, nil
	}

	original := data
	var thumbnail []byte
	if p.images != nil {
		processed, err := p.images.Process(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("publish image: %w", err)
		}
		original, thumbnail, contentType = processed.Original, processed.Thumbnail, processed.ContentType
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key, thumbKey := imaging.GeneratePaths(submissionID.String(), token, index, imaging.ExtForContentType(contentType))
	if err := p.store.Put(ctx, key, bytes.NewReader(original), contentType); err != nil {
		return nil, fmt.Errorf("publish image: %w", err)
	}

	out := &Published{URL: p.store.GetURL(key), FileName: key[len("images/"):]}
	if len(thumbnail) > 0 {
		if err := p.store.Put(ctx, thumbKey, bytes.NewReader(thumbnail), contentType); err != nil {
			log.Warn().Err(err).Str("key", thumbKey).Msg("failed to store thumbnail")
		} else {
			out.ThumbnailURL = p.store.GetURL(thumbKey)
		}
	}
	return out, nil
}
