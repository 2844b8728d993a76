package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/usecase"
	"whatsapp-relay/internal/webhook"
)

type fakeRelay struct {
	cleared []string
	entries map[string]domain.ConversationEntry
	sweep   usecase.SweepResult
}

func (f *fakeRelay) ClearConversation(senderID string) {
	f.cleared = append(f.cleared, senderID)
}

func (f *fakeRelay) Conversation(senderID string) (domain.ConversationEntry, bool) {
	e, ok := f.entries[senderID]
	return e, ok
}

func (f *fakeRelay) SweepNow() usecase.SweepResult {
	return f.sweep
}

type fakeDispatcher struct {
	mu      sync.Mutex
	batches [][]domain.InboundMessage
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msgs []domain.InboundMessage) webhook.DispatchReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, msgs)
	return webhook.DispatchReport{Received: len(msgs)}
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeArchive struct {
	recs   []domain.TranscriptRecord
	err    error
	sender string
	limit  int
}

func (f *fakeArchive) ListTranscripts(_ context.Context, senderID string, limit int) ([]domain.TranscriptRecord, error) {
	f.sender, f.limit = senderID, limit
	return f.recs, f.err
}

var fixedNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, relay *fakeRelay, d *fakeDispatcher) *Handler {
	t.Helper()
	h, err := NewHandler(relay, d, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return h
}

func waitIdle(t *testing.T, h *Handler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &fakeDispatcher{})
	require.Error(t, err)
	_, err = NewHandler(&fakeRelay{}, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &fakeRelay{}, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Health(e.NewContext(req, rec)))

	require.Equal(t, http.StatusOK, rec.Code)
	var out HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, HealthResponse{Status: "ok", Timestamp: "2026-10-18T10:00:00Z", Service: ServiceName}, out)
}

func TestInboundWebhook_DispatchesParsedBatch(t *testing.T) {
	e := echo.New()
	d := &fakeDispatcher{}
	h := newTestHandler(t, &fakeRelay{}, d)

	body := `{"results":[{"from":"385912395365","to":"385916376631","messageId":"m1","message":{"type":"TEXT","text":"hi"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	require.NoError(t, h.InboundWebhook(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())

	waitIdle(t, h)
	require.Len(t, d.batches, 1)
	require.Equal(t, "m1", d.batches[0][0].MessageID)
	require.Equal(t, "hi", d.batches[0][0].Text)
}

func TestInboundWebhook_MalformedBodyStillAcknowledged(t *testing.T) {
	e := echo.New()
	d := &fakeDispatcher{}
	h := newTestHandler(t, &fakeRelay{}, d)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewBufferString(`not-json`))
	rec := httptest.NewRecorder()

	require.NoError(t, h.InboundWebhook(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
	waitIdle(t, h)
	require.Zero(t, d.count())
}

func TestReportsAcknowledged(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &fakeRelay{}, &fakeDispatcher{})

	for _, fn := range []echo.HandlerFunc{h.DeliveryReport, h.SeenReport} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/delivery", bytes.NewBufferString(`{"results":[]}`))
		rec := httptest.NewRecorder()
		require.NoError(t, fn(e.NewContext(req, rec)))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClearConversation(t *testing.T) {
	e := echo.New()
	relay := &fakeRelay{}
	h := newTestHandler(t, relay, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodDelete, "/conversations/385912395365", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("sender")
	c.SetParamValues("385912395365")

	require.NoError(t, h.ClearConversation(c))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"385912395365"}, relay.cleared)
}

func TestClearConversation_BlankSender(t *testing.T) {
	e := echo.New()
	relay := &fakeRelay{}
	h := newTestHandler(t, relay, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodDelete, "/conversations/%20", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("sender")
	c.SetParamValues(" ")

	require.NoError(t, h.ClearConversation(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, relay.cleared)
}

func TestGetConversation(t *testing.T) {
	e := echo.New()
	relay := &fakeRelay{entries: map[string]domain.ConversationEntry{
		"385912395365": {
			SenderID:       "385912395365",
			ConversationID: "conv-1",
			MessageCount:   1,
			History: []domain.Turn{
				{Role: domain.RoleUser, Text: "hi"},
				{Role: domain.RoleAssistant, Text: "hello"},
			},
		},
	}}
	h := newTestHandler(t, relay, &fakeDispatcher{})

	get := func(sender string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/conversations/"+sender, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("sender")
		c.SetParamValues(sender)
		require.NoError(t, h.GetConversation(c))
		return rec
	}

	rec := get("385912395365")
	require.Equal(t, http.StatusOK, rec.Code)
	var out ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, []TurnResponse{{Role: "user", Text: "hi"}, {Role: "assistant", Text: "hello"}}, out.History)

	require.Equal(t, http.StatusNotFound, get("unknown").Code)
}

func TestSweep(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &fakeRelay{sweep: usecase.SweepResult{Conversations: 2, DedupRecords: 5}}, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/admin/sweep", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Sweep(e.NewContext(req, rec)))

	require.Equal(t, http.StatusOK, rec.Code)
	var out SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, SweepResponse{Conversations: 2, DedupRecords: 5, Total: 7}, out)
}

func TestListTranscripts(t *testing.T) {
	e := echo.New()

	list := func(h *Handler, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/conversations/385912395365/transcripts"+query, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("sender")
		c.SetParamValues("385912395365")
		require.NoError(t, h.ListTranscripts(c))
		return rec
	}

	archive := &fakeArchive{}
	h, err := NewHandler(&fakeRelay{}, &fakeDispatcher{}, WithTranscripts(archive))
	require.NoError(t, err)

	rec := list(h, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 20, archive.limit)
	var out TranscriptsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Empty(t, out.Transcripts)
	require.NotNil(t, out.Transcripts)

	require.Equal(t, http.StatusBadRequest, list(h, "?limit=zero").Code)
	require.Equal(t, http.StatusBadRequest, list(h, "?limit=-3").Code)

	archive.err = errors.New("dynamodb down")
	require.Equal(t, http.StatusBadGateway, list(h, "?limit=5").Code)
	require.Equal(t, 5, archive.limit)
}

func TestValidAdminToken(t *testing.T) {
	require.True(t, ValidAdminToken("s3cret", "s3cret"))
	require.False(t, ValidAdminToken("s3cret", "s3cre"))
	require.False(t, ValidAdminToken("s3cret", ""))
	require.False(t, ValidAdminToken("", ""))
}
