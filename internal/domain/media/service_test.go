package media_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/media"
	"github.com/storyquest/storyquest-api/internal/domain/submission"
	"github.com/storyquest/storyquest-api/internal/pkg/aiagent"
	"github.com/storyquest/storyquest-api/internal/pkg/imaging"
	"github.com/storyquest/storyquest-api/internal/pkg/storage"
)

type fakeAgent struct {
	image *aiagent.Generated
	video *aiagent.Generated
	err   error

	lastImage aiagent.ImageRequest
	calls     int
}

func (f *fakeAgent) GenerateImage(ctx context.Context, req aiagent.ImageRequest) (*aiagent.Generated, error) {
	f.calls++
	f.lastImage = req
	return f.image, f.err
}

func (f *fakeAgent) GenerateVideo(ctx context.Context, req aiagent.VideoRequest) (*aiagent.Generated, error) {
	f.calls++
	return f.video, f.err
}

type serviceHarness struct {
	*harness
	agent *fakeAgent
	svc   *media.Service
	dir   string
}

func newServiceHarness(t *testing.T, credits int) *serviceHarness {
	t.Helper()
	h := newHarness(t, credits, media.DefaultConfig())

	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir, "http://localhost:8080/uploads")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	agent := &fakeAgent{}
	publisher := media.NewPublisher(store, imaging.NewProcessor(imaging.DefaultConfig()))

	return &serviceHarness{
		harness: h,
		agent:   agent,
		svc:     media.NewService(h.orch, h.store.Submissions(), agent, publisher),
		dir:     dir,
	}
}

func (h *serviceHarness) submission(t *testing.T, owner uuid.UUID, score *int) uuid.UUID {
	t.Helper()
	sub := &submission.Submission{
		UserID:   owner,
		Prompt:   "A dragon who is afraid of the dark",
		Content:  "Once upon a time there was a dragon named Ember.",
		AgeGroup: "7-11",
		Score:    score,
	}
	if err := h.store.Submissions().Create(context.Background(), sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub.ID
}

func scored(v int) *int { return &v }

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestGenerateHostedImage(t *testing.T) {
	h := newServiceHarness(t, 150)
	h.agent.image = &aiagent.Generated{Success: true, ImageURL: "https://agent.test/out/ember.png", Prompt: "a shy dragon"}
	subID := h.submission(t, h.userID, scored(80))

	res, err := h.svc.Generate(context.Background(), h.userID, media.GenerateRequest{
		SubmissionID: subID,
		Kind:         media.OperationImage,
		Style:        media.StyleManga,
		ImageIndex:   3,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Balance != 50 || res.Artifact.AssetURL != "https://agent.test/out/ember.png" || res.Artifact.FileName != "ember.png" {
		t.Fatalf("unexpected result %+v / %+v", res, res.Artifact)
	}
	if res.Artifact.SubmissionID == nil || *res.Artifact.SubmissionID != subID || res.Artifact.Style != "manga" {
		t.Fatalf("unexpected artifact %+v", res.Artifact)
	}
	if h.agent.lastImage.ImageIndex != 3 || h.agent.lastImage.ImageStyle != "manga" || h.agent.lastImage.AgeGroup != "7-11" {
		t.Fatalf("unexpected agent request %+v", h.agent.lastImage)
	}
}

func TestGenerateInlineImageIsPublished(t *testing.T) {
	h := newServiceHarness(t, 100)
	h.agent.image = &aiagent.Generated{Success: true, Data: pngBase64(t), ContentType: "image/png"}
	subID := h.submission(t, h.userID, scored(70))

	res, err := h.svc.Generate(context.Background(), h.userID, media.GenerateRequest{SubmissionID: subID, Kind: media.OperationImage})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	a := res.Artifact
	if !strings.HasPrefix(a.AssetURL, "http://localhost:8080/uploads/images/"+subID.String()+"_") || !strings.HasSuffix(a.AssetURL, "_1.png") {
		t.Fatalf("unexpected asset url %s", a.AssetURL)
	}
	if a.ThumbnailURL == nil || !strings.Contains(*a.ThumbnailURL, "/images/thumbs/") {
		t.Fatalf("expected thumbnail url, got %v", a.ThumbnailURL)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "images", a.FileName)); err != nil {
		t.Fatalf("expected published file: %v", err)
	}
	if res.Balance != 0 {
		t.Fatalf("expected balance 0, got %d", res.Balance)
	}
}

func TestGenerateVideo(t *testing.T) {
	h := newServiceHarness(t, 600)
	h.agent.video = &aiagent.Generated{Success: true, VideoURL: "https://agent.test/out/ember.mp4", Duration: 8}
	subID := h.submission(t, h.userID, scored(90))

	res, err := h.svc.Generate(context.Background(), h.userID, media.GenerateRequest{SubmissionID: subID, Kind: media.OperationVideo})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Charged != 500 || res.Balance != 100 || res.Artifact.MediaType != media.OperationVideo {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGenerateRejections(t *testing.T) {
	h := newServiceHarness(t, 1000)
	mine := h.submission(t, h.userID, scored(80))
	unscored := h.submission(t, h.userID, nil)

	stranger := uuid.New()

	cases := []struct {
		name   string
		userID uuid.UUID
		req    media.GenerateRequest
		want   error
	}{
		{name: "unknown kind", userID: h.userID, req: media.GenerateRequest{SubmissionID: mine, Kind: "hologram"}, want: media.ErrUnknownOperation},
		{name: "bad style", userID: h.userID, req: media.GenerateRequest{SubmissionID: mine, Kind: media.OperationImage, Style: "watercolor"}, want: media.ErrInvalidStyle},
		{name: "bad index", userID: h.userID, req: media.GenerateRequest{SubmissionID: mine, Kind: media.OperationImage, ImageIndex: 7}, want: media.ErrInvalidImageIndex},
		{name: "missing submission", userID: h.userID, req: media.GenerateRequest{SubmissionID: uuid.New(), Kind: media.OperationImage}, want: submission.ErrNotFound},
		{name: "not owner", userID: stranger, req: media.GenerateRequest{SubmissionID: mine, Kind: media.OperationImage}, want: submission.ErrNotOwner},
		{name: "not scored", userID: h.userID, req: media.GenerateRequest{SubmissionID: unscored, Kind: media.OperationImage}, want: media.ErrSubmissionNotScored},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.Generate(context.Background(), tc.userID, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if h.agent.calls != 0 {
		t.Fatalf("agent must not be called, got %d calls", h.agent.calls)
	}
	if got := h.balance(t); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
}

func TestGenerateAgentFailuresRefund(t *testing.T) {
	cases := []struct {
		name     string
		gen      *aiagent.Generated
		err      error
		wantKind string
	}{
		{name: "timeout", err: fmt.Errorf("%w: /generate-image: deadline", aiagent.ErrTimeout), wantKind: media.FailureTimeout},
		{name: "http error", err: &aiagent.StatusError{Endpoint: "/generate-image", Status: 500, Body: "boom"}, wantKind: media.FailureError},
		{name: "agent reports failure", gen: &aiagent.Generated{Success: false, Error: "model overloaded"}, wantKind: media.FailureFailed},
		{name: "corrupt inline data", gen: &aiagent.Generated{Success: true, Data: "%%%"}, wantKind: media.FailureError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newServiceHarness(t, 150)
			h.agent.image, h.agent.err = tc.gen, tc.err
			subID := h.submission(t, h.userID, scored(60))

			_, err := h.svc.Generate(context.Background(), h.userID, media.GenerateRequest{SubmissionID: subID, Kind: media.OperationImage})
			var cerr *media.CollaboratorError
			if !errors.As(err, &cerr) || cerr.Kind != tc.wantKind {
				t.Fatalf("expected %s failure, got %v", tc.wantKind, err)
			}
			if got := h.balance(t); got != 150 {
				t.Fatalf("expected refund to 150, got %d", got)
			}
		})
	}
}

func TestListArtifactsBySubmission(t *testing.T) {
	h := newServiceHarness(t, 300)
	h.agent.image = &aiagent.Generated{Success: true, ImageURL: "https://agent.test/out/a.png"}
	first := h.submission(t, h.userID, scored(80))
	second := h.submission(t, h.userID, scored(85))

	for _, id := range []uuid.UUID{first, second, second} {
		if _, err := h.svc.Generate(context.Background(), h.userID, media.GenerateRequest{SubmissionID: id, Kind: media.OperationImage}); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}

	all, err := h.svc.ListArtifacts(context.Background(), h.userID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	filtered, err := h.svc.ListArtifacts(context.Background(), h.userID, &second)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || len(filtered) != 2 {
		t.Fatalf("expected 3 and 2 artifacts, got %d and %d", len(all), len(filtered))
	}
}
