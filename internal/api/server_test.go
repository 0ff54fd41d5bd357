package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/emitter"
	"github.com/vietddude/orderwatch/internal/infra/storage/memory"
)

var testChain = domain.ChainInfo{
	ChainID:     1,
	Exchange:    "0xdef1c0ded9bec7f1a1670819833240f027b25eff",
	FlashWallet: "0x22f9dcf4647084d6c31b2765f6910cd85c178c18",
}

type fakeFetcher struct {
	mu     sync.Mutex
	states map[string]domain.OrderState
}

func (f *fakeFetcher) set(salt string, state domain.OrderState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = make(map[string]domain.OrderState)
	}
	f.states[salt] = state
}

func (f *fakeFetcher) FetchState(ctx context.Context, order domain.SignedOrder, priority bool) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.states[order.Salt]; ok {
		return state, nil
	}
	return domain.OrderState{
		Hash:             "0xhash" + order.Salt,
		Status:           domain.OrderStatusFillable,
		FillableAmount:   order.TakerAmount,
		SignatureIsValid: true,
	}, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []*domain.OrderEvent
}

func (s *captureSink) PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func validOrder(salt string) domain.SignedOrder {
	return domain.SignedOrder{
		MakerToken:        "0x6b175474e89094c44da98b954eedeac495271d0f",
		TakerToken:        "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		MakerAmount:       "1000000000000000000",
		TakerAmount:       "2000000000000000000",
		Maker:             "0x1111111111111111111111111111111111111111",
		Salt:              salt,
		ChainID:           1,
		VerifyingContract: testChain.Exchange,
	}
}

func newTestServer(t *testing.T) (*Server, *memory.OrderStorage, *fakeFetcher, *captureSink) {
	t.Helper()
	repo := memory.NewOrderStorage()
	fetcher := &fakeFetcher{}
	sink := &captureSink{}
	s := NewServer(0, testChain, fetcher, repo, emitter.New(sink))
	return s, repo, fetcher, sink
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("undecodable error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

func TestServer_AcceptsValidOrder(t *testing.T) {
	s, repo, _, sink := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/order", validOrder("7"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["orderHash"] != "0xhash7" {
		t.Fatalf("unexpected hash %q", resp["orderHash"])
	}

	order, err := repo.Get(context.Background(), "0xhash7")
	if err != nil {
		t.Fatal(err)
	}
	if order == nil || order.Status != domain.OrderStatusFillable {
		t.Fatalf("order not stored as fillable: %+v", order)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0].Kind != domain.OrderAdded {
		t.Fatalf("expected one added event, got %+v", sink.events)
	}
}

func TestServer_RejectsInvalidOrders(t *testing.T) {
	s, repo, fetcher, _ := newTestServer(t)

	zeroMaker := validOrder("1")
	zeroMaker.MakerAmount = "0"
	rec := do(t, s, http.MethodPost, "/order", zeroMaker)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "ORDER_HAS_INVALID_MAKER_ASSET_AMOUNT" {
		t.Fatalf("unexpected code %q", code)
	}

	wrongChain := validOrder("2")
	wrongChain.ChainID = 3
	rec = do(t, s, http.MethodPost, "/order", wrongChain)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	cancelled := validOrder("3")
	fetcher.set("3", domain.OrderState{
		Hash:             "0xhash3",
		Status:           domain.OrderStatusCancelled,
		SignatureIsValid: true,
	})
	rec = do(t, s, http.MethodPost, "/order", cancelled)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "ORDER_CANCELLED" {
		t.Fatalf("unexpected code %q", code)
	}

	if n, _ := repo.Count(context.Background()); n != 0 {
		t.Fatalf("rejected orders were stored: %d", n)
	}
}

func TestServer_BatchSubmission(t *testing.T) {
	s, repo, _, _ := newTestServer(t)

	bad := validOrder("2")
	bad.Maker = ""
	rec := do(t, s, http.MethodPost, "/orders", []domain.SignedOrder{validOrder("1"), bad})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []struct {
			OrderHash string `json:"orderHash"`
			Error     *struct {
				Code string `json:"code"`
			} `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].OrderHash != "0xhash1" || resp.Results[0].Error != nil {
		t.Fatalf("unexpected first result %+v", resp.Results[0])
	}
	if resp.Results[1].Error == nil {
		t.Fatal("expected second order rejected")
	}

	if n, _ := repo.Count(context.Background()); n != 1 {
		t.Fatalf("expected 1 stored order, got %d", n)
	}
}

func TestServer_GetOrderByHash(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	if rec := do(t, s, http.MethodGet, "/order/0xhash9", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before submission, got %d", rec.Code)
	}

	if rec := do(t, s, http.MethodPost, "/order", validOrder("9")); rec.Code != http.StatusOK {
		t.Fatalf("submission failed: %d", rec.Code)
	}

	rec := do(t, s, http.MethodGet, "/order/0xhash9", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != string(domain.OrderStatusFillable) {
		t.Fatalf("unexpected status %q", resp.Status)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	if rec := do(t, s, http.MethodGet, "/order", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/orders", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
