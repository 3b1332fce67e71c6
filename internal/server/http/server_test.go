package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/igichat/internal/app"
	"github.com/ekisa-team/igichat/internal/inference"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/session"
)

type fakeService struct {
	ready    bool
	catalogs map[model.Domain]*model.Catalog
	chatErr  error
	prompts  []string
	resets   int
	swaps    []string
}

func newFakeService() *fakeService {
	gpt := model.NewCatalog(model.DomainTextGeneration)
	gpt.Append(model.Entry{ModelName: "llama-3.2-3b", GUID: "{L1}", Status: model.StatusAvailableLocally})
	gpt.Append(model.Entry{ModelName: "mistral-7b", GUID: "{L2}", Status: model.StatusRequiresManualDownload})
	gpt.SelectDefault()

	return &fakeService{
		ready: true,
		catalogs: map[model.Domain]*model.Catalog{
			model.DomainTextGeneration:    gpt,
			model.DomainSpeechRecognition: model.NewCatalog(model.DomainSpeechRecognition),
		},
	}
}

func (f *fakeService) Ready() bool { return f.ready }

func (f *fakeService) Snapshot() session.Snapshot {
	return session.Snapshot{Messages: []session.Message{{Role: session.RoleAnswer, Text: "hi"}}}
}

func (f *fakeService) Catalog(d model.Domain) (*model.Catalog, bool) {
	c, ok := f.catalogs[d]
	return c, ok
}

func (f *fakeService) SubmitChat(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return app.ErrEmptyPrompt
	}
	f.prompts = append(f.prompts, prompt)
	return f.chatErr
}

func (f *fakeService) ResetConversation() { f.resets++ }

func (f *fakeService) SwapModel(d model.Domain, index int) error {
	entry, err := f.catalogs[d].Get(index)
	if err != nil {
		return err
	}
	if !entry.Status.Selectable() {
		return model.ErrNotSelectable
	}
	f.swaps = append(f.swaps, fmt.Sprintf("%s/%d", d, index))
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	svc := newFakeService()
	h := NewMux(svc)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	svc.ready = false
	rec := do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no model is ready")
}

func TestStatus(t *testing.T) {
	rec := do(t, NewMux(newFakeService()), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hi", snap.Messages[0].Text)
}

func TestModels(t *testing.T) {
	h := NewMux(newFakeService())

	rec := do(t, h, http.MethodGet, "/models/gpt/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CatalogResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.DomainTextGeneration, resp.Domain)
	assert.Equal(t, 0, resp.Selected)
	assert.Len(t, resp.Models, 2)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/models/tts/", "").Code)
}

func TestSelectModel(t *testing.T) {
	svc := newFakeService()
	h := NewMux(svc)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"selectable", `{"index":0}`, http.StatusAccepted},
		{"needs download", `{"index":1}`, http.StatusConflict},
		{"out of range", `{"index":9}`, http.StatusNotFound},
		{"bad body", `{"idx":0}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/models/text-generation/select", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, []string{"text-generation/0"}, svc.swaps)
}

func TestChat(t *testing.T) {
	svc := newFakeService()
	h := NewMux(svc)

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/chat", `{"prompt":"hello"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/chat", `{"prompt":"  "}`).Code)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"prompt":"hello"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	svc.chatErr = fmt.Errorf("%w: text-generation", inference.ErrBusy)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/chat", `{"prompt":"again"}`).Code)

	svc.chatErr = fmt.Errorf("%w: text-generation", inference.ErrNotReady)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/chat", `{"prompt":"again"}`).Code)

	assert.Equal(t, []string{"hello", "again", "again"}, svc.prompts)
}

func TestReset(t *testing.T) {
	svc := newFakeService()
	rec := do(t, NewMux(svc), http.MethodPost, "/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.resets)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("wrap: %w", model.ErrIndexOutOfRange)))
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(newFakeService())
	do(t, h, http.MethodGet, "/healthz", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `igichat_http_requests_total{method="GET",path="/healthz",status="200"}`)
}
