package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/recordchain/internal/api/handler"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"go.uber.org/zap"
)

func newTestLedger(t *testing.T, path string) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(context.Background(), ledger.NewFileStorage(path), ledger.WithDifficulty(1))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func setupLedgerRouter(t *testing.T, l *ledger.Ledger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handler.NewLedgerHandler(l, nil, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r
}

func get(t *testing.T, r http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestLedgerOverview_200(t *testing.T) {
	l := newTestLedger(t, filepath.Join(t.TempDir(), "chain.json"))
	router := setupLedgerRouter(t, l)

	w, resp := get(t, router, "/api/v1/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if blocks := int(resp["blocks"].(float64)); blocks != 1 { // genesis
		t.Errorf("expected 1 block (genesis), got %d", blocks)
	}
	if d := int(resp["difficulty"].(float64)); d != 1 {
		t.Errorf("expected difficulty 1, got %d", d)
	}
}

func TestLedgerVerify_200(t *testing.T) {
	l := newTestLedger(t, filepath.Join(t.TempDir(), "chain.json"))
	router := setupLedgerRouter(t, l)

	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestLedgerVerify_reportsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	l := newTestLedger(t, path)
	for _, id := range []string{"P1", "P2"} {
		if _, err := l.Append(context.Background(), ledger.Record{"patient_id": id}); err != nil {
			t.Fatal(err)
		}
	}
	raw, _ := os.ReadFile(path)
	tampered := strings.Replace(string(raw), `"P2"`, `"P3"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	router := setupLedgerRouter(t, newTestLedger(t, path))
	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["valid"] != false {
		t.Fatalf("expected valid=false, got %v", resp["valid"])
	}
	if idx := int(resp["first_invalid"].(float64)); idx != 2 {
		t.Errorf("expected first_invalid=2, got %d", idx)
	}
}

func TestLedgerGetBlock_200_genesis(t *testing.T) {
	router := setupLedgerRouter(t, newTestLedger(t, filepath.Join(t.TempDir(), "chain.json")))

	w, resp := get(t, router, "/api/v1/ledger/blocks/0")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["previous_hash"] != ledger.GenesisPrevHash {
		t.Errorf("expected genesis previous_hash, got %v", resp["previous_hash"])
	}
}

func TestLedgerGetBlock_404(t *testing.T) {
	router := setupLedgerRouter(t, newTestLedger(t, filepath.Join(t.TempDir(), "chain.json")))

	w, _ := get(t, router, "/api/v1/ledger/blocks/999")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestLedgerGetBlock_400_invalidIdx(t *testing.T) {
	router := setupLedgerRouter(t, newTestLedger(t, filepath.Join(t.TempDir(), "chain.json")))

	w, _ := get(t, router, "/api/v1/ledger/blocks/abc")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLedgerTailAndSearch(t *testing.T) {
	l := newTestLedger(t, filepath.Join(t.TempDir(), "chain.json"))
	for _, id := range []string{"P1", "P2", "P1", "P3"} {
		if _, err := l.Append(context.Background(), ledger.Record{"patient_id": id}); err != nil {
			t.Fatal(err)
		}
	}
	router := setupLedgerRouter(t, l)

	w, resp := get(t, router, "/api/v1/ledger/tail?n=2")
	if w.Code != http.StatusOK {
		t.Fatalf("tail: expected 200, got %d", w.Code)
	}
	blocks := resp["blocks"].([]any)
	if len(blocks) != 2 || blocks[0].(map[string]any)["index"].(float64) != 3 {
		t.Errorf("tail: unexpected blocks %v", blocks)
	}

	w, resp = get(t, router, "/api/v1/ledger/search?field=patient_id&value=P1")
	if w.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", w.Code)
	}
	if n := int(resp["count"].(float64)); n != 2 {
		t.Errorf("search: expected 2 matches, got %d", n)
	}

	w, _ = get(t, router, "/api/v1/ledger/search")
	if w.Code != http.StatusBadRequest {
		t.Errorf("search without field: expected 400, got %d", w.Code)
	}
	w, _ = get(t, router, "/api/v1/ledger/tail?n=-1")
	if w.Code != http.StatusBadRequest {
		t.Errorf("tail n=-1: expected 400, got %d", w.Code)
	}
}
