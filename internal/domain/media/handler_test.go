package media_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storyquest/storyquest-api/internal/domain/media"
	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/aiagent"
	"github.com/storyquest/storyquest-api/internal/pkg/idempotency"
	"github.com/storyquest/storyquest-api/internal/pkg/jwt"
	"github.com/storyquest/storyquest-api/internal/store/memory"
)

type mediaAPIResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type apiHarness struct {
	*serviceHarness
	router http.Handler
	token  string
}

func newAPIHarness(t *testing.T, credits int) *apiHarness {
	t.Helper()
	h := newServiceHarness(t, credits)

	jwtSvc := jwt.NewService("media-handler-secret", time.Hour)
	token, err := jwtSvc.GenerateAccessToken(h.userID, "student")
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	handler := media.NewHandler(h.svc, idempotency.NewMemoryStore(time.Hour))
	r := chi.NewRouter()
	r.Mount("/api/v1/media", handler.Routes(middleware.Auth(jwtSvc)))

	return &apiHarness{serviceHarness: h, router: r, token: token}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeMediaResponse(t *testing.T, rec *httptest.ResponseRecorder) mediaAPIResponse {
	t.Helper()
	var body mediaAPIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestGenerateEndpointReplaysIdempotentRequest(t *testing.T) {
	h := newAPIHarness(t, 150)
	h.agent.image = &aiagent.Generated{Success: true, ImageURL: "https://agent.test/out/a.png"}
	subID := h.submission(t, h.userID, scored(90))

	reqBody := map[string]interface{}{"submission_id": subID, "kind": "image"}
	headers := map[string]string{idempotency.HeaderKey: "gen-1"}

	first := h.do(t, http.MethodPost, "/api/v1/media/generate", reqBody, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	var result media.Result
	if err := json.Unmarshal(decodeMediaResponse(t, first).Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Balance != 50 || result.Charged != 100 {
		t.Fatalf("unexpected result %+v", result)
	}

	second := h.do(t, http.MethodPost, "/api/v1/media/generate", reqBody, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(idempotency.HeaderReplayed) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body differs")
	}
	if h.agent.calls != 1 || h.balance(t) != 50 {
		t.Fatalf("expected one charge, got calls=%d balance=%d", h.agent.calls, h.balance(t))
	}
}

func TestGenerateEndpointErrors(t *testing.T) {
	h := newAPIHarness(t, 50)
	subID := h.submission(t, h.userID, scored(90))
	unscored := h.submission(t, h.userID, nil)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		code   string
	}{
		{"insufficient credits", map[string]interface{}{"submission_id": subID, "kind": "image"}, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"},
		{"unknown kind", map[string]interface{}{"submission_id": subID, "kind": "hologram"}, http.StatusBadRequest, "UNKNOWN_OPERATION"},
		{"bad style", map[string]interface{}{"submission_id": subID, "kind": "image", "style": "cubist"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"missing kind", map[string]interface{}{"submission_id": subID}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"not scored", map[string]interface{}{"submission_id": unscored, "kind": "image"}, http.StatusConflict, "NOT_SCORED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/media/generate", tt.body, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			body := decodeMediaResponse(t, rec)
			if body.Success || body.Error == nil || body.Error.Code != tt.code {
				t.Fatalf("expected error code %s, got %s", tt.code, rec.Body.String())
			}
		})
	}

	if h.agent.calls != 0 || h.balance(t) != 50 {
		t.Fatalf("rejected requests must not charge: calls=%d balance=%d", h.agent.calls, h.balance(t))
	}
}

func TestGenerateEndpointInsufficientDetails(t *testing.T) {
	h := newAPIHarness(t, 30)
	subID := h.submission(t, h.userID, scored(90))

	rec := h.do(t, http.MethodPost, "/api/v1/media/generate", map[string]interface{}{"submission_id": subID, "kind": "video"}, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	body := decodeMediaResponse(t, rec)
	if body.Error.Details["required"] != "500" || body.Error.Details["available"] != "30" {
		t.Fatalf("unexpected details %+v", body.Error.Details)
	}
}

func TestGenerateEndpointCollaboratorFailureRefunds(t *testing.T) {
	h := newAPIHarness(t, 100)
	h.agent.image = &aiagent.Generated{Success: false, Error: "model overloaded"}
	subID := h.submission(t, h.userID, scored(90))

	rec := h.do(t, http.MethodPost, "/api/v1/media/generate", map[string]interface{}{"submission_id": subID, "kind": "image"}, map[string]string{idempotency.HeaderKey: "gen-fail"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if h.balance(t) != 100 {
		t.Fatalf("expected refund, balance=%d", h.balance(t))
	}

	// 5xx releases the key so the retry reaches the agent again
	h.agent.image = &aiagent.Generated{Success: true, ImageURL: "https://agent.test/out/b.png"}
	retry := h.do(t, http.MethodPost, "/api/v1/media/generate", map[string]interface{}{"submission_id": subID, "kind": "image"}, map[string]string{idempotency.HeaderKey: "gen-fail"})
	if retry.Code != http.StatusCreated || h.balance(t) != 0 {
		t.Fatalf("expected retry to succeed, got %d balance=%d", retry.Code, h.balance(t))
	}
}

func TestGenerateEndpointRefundFailureHoldsKey(t *testing.T) {
	h := newAPIHarness(t, 300)
	h.agent.err = errors.New("agent down")
	h.store.SetFault(memory.FaultRefund, errors.New("connection refused"))
	subID := h.submission(t, h.userID, scored(90))

	reqBody := map[string]interface{}{"submission_id": subID, "kind": "image"}
	headers := map[string]string{idempotency.HeaderKey: "gen-stuck"}

	rec := h.do(t, http.MethodPost, "/api/v1/media/generate", reqBody, headers)
	if rec.Code != http.StatusInternalServerError || decodeMediaResponse(t, rec).Error.Code != "REFUND_FAILED" {
		t.Fatalf("expected 500 REFUND_FAILED, got %d: %s", rec.Code, rec.Body.String())
	}

	// credits are still reserved, so the key must not allow a second charge
	h.agent.err = nil
	h.agent.image = &aiagent.Generated{Success: true, ImageURL: "https://agent.test/out/d.png"}
	retry := h.do(t, http.MethodPost, "/api/v1/media/generate", reqBody, headers)
	if retry.Code != http.StatusConflict {
		t.Fatalf("expected 409 on retry, got %d: %s", retry.Code, retry.Body.String())
	}
	if h.agent.calls != 1 || h.balance(t) != 200 {
		t.Fatalf("expected a single charge, got calls=%d balance=%d", h.agent.calls, h.balance(t))
	}
}

func TestListEndpoint(t *testing.T) {
	h := newAPIHarness(t, 200)
	h.agent.image = &aiagent.Generated{Success: true, ImageURL: "https://agent.test/out/c.png"}
	first := h.submission(t, h.userID, scored(90))
	second := h.submission(t, h.userID, scored(70))

	for _, id := range []interface{}{first, second} {
		rec := h.do(t, http.MethodPost, "/api/v1/media/generate", map[string]interface{}{"submission_id": id, "kind": "image"}, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := h.do(t, http.MethodGet, "/api/v1/media/?submission_id="+first.String(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var artifacts []media.Artifact
	if err := json.Unmarshal(decodeMediaResponse(t, rec).Data, &artifacts); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	if len(artifacts) != 1 || *artifacts[0].SubmissionID != first {
		t.Fatalf("unexpected artifacts %+v", artifacts)
	}

	if rec := h.do(t, http.MethodGet, "/api/v1/media/?submission_id=nope", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestEndpointsRequireToken(t *testing.T) {
	h := newAPIHarness(t, 100)
	h.token = ""

	if rec := h.do(t, http.MethodGet, "/api/v1/media/", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
