package media

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/submission"
	"github.com/storyquest/storyquest-api/internal/pkg/aiagent"
)

// SubmissionReader loads the submission media is generated for.
type SubmissionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*submission.Submission, error)
}

// Generator produces media. Implemented by *aiagent.Client.
type Generator interface {
	GenerateImage(ctx context.Context, req aiagent.ImageRequest) (*aiagent.Generated, error)
	GenerateVideo(ctx context.Context, req aiagent.VideoRequest) (*aiagent.Generated, error)
}

// Service generates illustrations and videos for submissions as credited operations.
type Service struct {
	orch        *Orchestrator
	submissions SubmissionReader
	agent       Generator
	publisher   *Publisher
}

// NewService creates media service
func NewService(orch *Orchestrator, submissions SubmissionReader, agent Generator, publisher *Publisher) *Service {
	return &Service{
		orch:        orch,
		submissions: submissions,
		agent:       agent,
		publisher:   publisher,
	}
}

// Generate charges the user and produces media for one of their scored submissions.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, req GenerateRequest) (*Result, error) {
	if _, ok := s.orch.Cost(req.Kind); !ok {
		return nil, ErrUnknownOperation
	}
	if req.Style == "" {
		req.Style = StyleStandard
	}
	if !req.Style.Valid() {
		return nil, ErrInvalidStyle
	}
	if req.Kind == OperationImage {
		if req.ImageIndex == 0 {
			req.ImageIndex = MinImageIndex
		}
		if req.ImageIndex < MinImageIndex || req.ImageIndex > MaxImageIndex {
			return nil, ErrInvalidImageIndex
		}
	}

	sub, err := s.submissions.GetByID(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, submission.ErrNotOwner
	}
	if !sub.IsScored() {
		return nil, ErrSubmissionNotScored
	}

	return s.orch.Perform(ctx, userID, req.Kind, s.call(sub, req))
}

// ListArtifacts returns the user's generated media, optionally for one submission.
func (s *Service) ListArtifacts(ctx context.Context, userID uuid.UUID, submissionID *uuid.UUID) ([]Artifact, error) {
	return s.orch.repo.ListArtifacts(ctx, userID, submissionID)
}

func (s *Service) call(sub *submission.Submission, req GenerateRequest) Call {
	return func(ctx context.Context) (*Asset, error) {
		var (
			gen *aiagent.Generated
			err error
		)
		switch req.Kind {
		case OperationVideo:
			gen, err = s.agent.GenerateVideo(ctx, aiagent.VideoRequest{
				SubmissionID:   sub.ID.String(),
				UserID:         sub.UserID.String(),
				StudentWriting: sub.Content,
				AgeGroup:       sub.AgeGroup,
				VideoStyle:     string(req.Style),
			})
		default:
			gen, err = s.agent.GenerateImage(ctx, aiagent.ImageRequest{
				SubmissionID:   sub.ID.String(),
				UserID:         sub.UserID.String(),
				StudentWriting: sub.Content,
				AgeGroup:       sub.AgeGroup,
				ImageIndex:     req.ImageIndex,
				ImageStyle:     string(req.Style),
			})
		}
		if err != nil {
			if aiagent.IsTimeout(err) {
				return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return nil, err
		}
		if !gen.Success {
			return &Asset{Success: false, Reason: gen.Error}, nil
		}

		asset := &Asset{
			Success:      true,
			URL:          gen.URL(),
			Prompt:       gen.Prompt,
			Style:        req.Style,
			SubmissionID: sub.ID,
		}
		if asset.URL != "" {
			asset.FileName = path.Base(asset.URL)
			return asset, nil
		}

		data, err := gen.Bytes()
		if err != nil {
			return nil, err
		}
		if s.publisher == nil {
			return nil, fmt.Errorf("inline %s returned but no publisher configured", req.Kind)
		}
		pub, err := s.publisher.Publish(ctx, req.Kind, sub.ID, req.ImageIndex, data, gen.ContentType)
		if err != nil {
			return nil, err
		}
		asset.URL = pub.URL
		asset.ThumbnailURL = pub.ThumbnailURL
		asset.FileName = pub.FileName
		return asset, nil
	}
}
