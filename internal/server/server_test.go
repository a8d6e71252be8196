package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"argus/internal/core"
	"argus/internal/store"
)

type fakeDeviceStore struct {
	nextID int64
	tokens map[string]int64
	subs   map[int64]map[string]bool
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{
		tokens: make(map[string]int64),
		subs:   make(map[int64]map[string]bool),
	}
}

func (f *fakeDeviceStore) UpsertDevice(ctx context.Context, token string) (int64, error) {
	if id, ok := f.tokens[token]; ok {
		return id, nil
	}
	f.nextID++
	f.tokens[token] = f.nextID
	f.subs[f.nextID] = make(map[string]bool)
	return f.nextID, nil
}

func (f *fakeDeviceStore) Subscribe(ctx context.Context, deviceID int64, topic string, priority core.SubscriptionPriority) error {
	if f.subs[deviceID][topic] {
		return store.ErrAlreadyPresent
	}
	f.subs[deviceID][topic] = true
	return nil
}

func (f *fakeDeviceStore) Unsubscribe(ctx context.Context, deviceID int64, topic string) error {
	delete(f.subs[deviceID], topic)
	return nil
}

func newTestServer() (*Server, *fakeDeviceStore) {
	st := newFakeDeviceStore()
	log := zerolog.New(io.Discard)
	s := New(st, Config{
		Host:          "127.0.0.1",
		Port:          0,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		JWTSigningKey: []byte("test-signing-key"),
		Topics:        []string{"Weather"},
	}, log)
	return s, st
}

func authenticate(t *testing.T, r http.Handler, deviceID string) string {
	t.Helper()
	body, _ := json.Marshal(authenticateRequest{DeviceID: deviceID})
	req := httptest.NewRequest(http.MethodPost, "/authenticate", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("authenticate: expected 200, got %d", rw.Code)
	}
	var resp authenticateResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding authenticate response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}
	return resp.Token
}

func TestHealthReturnsOK(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestAuthenticateIssuesUsableToken(t *testing.T) {
	s, st := newTestServer()
	token := authenticate(t, s.Router(), "device-1")

	if len(st.tokens) != 1 {
		t.Fatalf("expected one registered device, got %d", len(st.tokens))
	}

	body, _ := json.Marshal(topicRequest{Topic: "Alert"})
	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 subscribing with a fresh token, got %d", rw.Code)
	}
}

func TestSubscribeRejectsMissingToken(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(topicRequest{Topic: "Alert"})
	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no bearer token, got %d", rw.Code)
	}
}

func TestSubscribeRejectsUnknownTopic(t *testing.T) {
	s, _ := newTestServer()
	token := authenticate(t, s.Router(), "device-2")

	body, _ := json.Marshal(topicRequest{Topic: "NotARealTopic"})
	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown topic, got %d", rw.Code)
	}
}

func TestSubscribeAcceptsConfiguredTopic(t *testing.T) {
	s, _ := newTestServer()
	token := authenticate(t, s.Router(), "device-3")

	body, _ := json.Marshal(topicRequest{Topic: "Weather"})
	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for a configured topic, got %d", rw.Code)
	}
}

func TestSubscribeTwiceReturnsConflict(t *testing.T) {
	s, _ := newTestServer()
	token := authenticate(t, s.Router(), "device-4")

	body, _ := json.Marshal(topicRequest{Topic: "Alert"})
	for i, want := range []int{http.StatusOK, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rw := httptest.NewRecorder()
		s.Router().ServeHTTP(rw, req)
		if rw.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d", i, want, rw.Code)
		}
	}
}

func TestUnsubscribeRemovesSubscription(t *testing.T) {
	s, st := newTestServer()
	token := authenticate(t, s.Router(), "device-5")

	subBody, _ := json.Marshal(topicRequest{Topic: "Alert"})
	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(subBody))
	req.Header.Set("Authorization", "Bearer "+token)
	s.Router().ServeHTTP(httptest.NewRecorder(), req)

	unsubReq := httptest.NewRequest(http.MethodPost, "/unsubscribe", bytes.NewReader(subBody))
	unsubReq.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, unsubReq)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 unsubscribing, got %d", rw.Code)
	}
	if st.subs[1]["Alert"] {
		t.Fatal("expected the subscription to be removed")
	}
}

func TestSubscribeRejectsTamperedToken(t *testing.T) {
	s, _ := newTestServer()
	token := authenticate(t, s.Router(), "device-6")

	body, _ := json.Marshal(topicRequest{Topic: "Alert"})
	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token+"tampered")
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a tampered token, got %d", rw.Code)
	}
}

func TestStatusWorksWithAndWithoutToken(t *testing.T) {
	s, _ := newTestServer()

	anon := httptest.NewRequest(http.MethodPost, "/status", nil)
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, anon)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for anonymous status, got %d", rw.Code)
	}

	token := authenticate(t, s.Router(), "device-7")
	authed := httptest.NewRequest(http.MethodPost, "/status", nil)
	authed.Header.Set("Authorization", "Bearer "+token)
	rw = httptest.NewRecorder()
	s.Router().ServeHTTP(rw, authed)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for authenticated status, got %d", rw.Code)
	}
}
