package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/recordchain/internal/api/handler"
	"github.com/jmerrifield20/recordchain/internal/auth"
	"github.com/jmerrifield20/recordchain/internal/contentstore"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"github.com/jmerrifield20/recordchain/internal/records"
	"github.com/jmerrifield20/recordchain/pkg/client"
	"go.uber.org/zap"
)

// ── Test server ─────────────────────────────────────────────────────────

func newLedgerServer(t *testing.T) (*httptest.Server, *auth.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l, err := ledger.Open(context.Background(),
		ledger.NewFileStorage(filepath.Join(t.TempDir(), "chain.json")),
		ledger.WithDifficulty(1),
	)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokenIssuer([]byte(strings.Repeat("s", 32)), "test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc := records.NewService(l, contentstore.NewMemoryStore(), zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewLedgerHandler(l, tokens, zap.NewNop()).Register(v1)
	handler.NewRecordHandler(svc, tokens, zap.NewNop()).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func issue(t *testing.T, tokens *auth.TokenIssuer, subject string, role auth.Role) string {
	t.Helper()
	tok, err := tokens.Issue(subject, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestUploadAndQuery(t *testing.T) {
	srv, tokens := newLedgerServer(t)
	ctx := context.Background()

	c, err := client.New(srv.URL, client.WithBearerToken(issue(t, tokens, "dr-house", auth.RoleDoctor)))
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Upload(ctx, client.UploadRequest{
		PatientID: "P1",
		FileType:  "Lab",
		Disease:   "Flu",
		Doctor:    "Dr. House",
		FileOpen:  true,
		Filename:  "scan.png",
		File:      []byte("\x89PNG"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Block.Index != 1 || res.Block.Data["cid"] != res.CID {
		t.Fatalf("unexpected upload result: %+v", res)
	}

	ov, err := c.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Blocks != 2 || ov.Tip != res.Block.Hash {
		t.Errorf("overview = %+v, want 2 blocks with tip %s", ov, res.Block.Hash)
	}

	v, err := c.Verify(ctx)
	if err != nil || !v.Valid {
		t.Errorf("Verify = %+v, %v", v, err)
	}

	rec, err := c.Record(ctx, res.CID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.PatientID != "P1" || rec.FileStatus != records.StatusOpen || rec.UploadedBy != "dr-house" {
		t.Errorf("unexpected record: %+v", rec)
	}

	data, ctype, err := c.File(ctx, res.CID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "\x89PNG" || ctype != "image/png" {
		t.Errorf("File = %q, %q", data, ctype)
	}

	blocks, err := c.PatientRecords(ctx, "P1")
	if err != nil || len(blocks) != 1 {
		t.Errorf("PatientRecords = %d blocks, %v", len(blocks), err)
	}
	blocks, err = c.Search(ctx, "disease", "Flu")
	if err != nil || len(blocks) != 1 {
		t.Errorf("Search = %d blocks, %v", len(blocks), err)
	}
	blocks, err = c.Tail(ctx, 5)
	if err != nil || len(blocks) != 2 {
		t.Errorf("Tail = %d blocks, %v", len(blocks), err)
	}
	genesis, err := c.Block(ctx, 0)
	if err != nil || genesis.PreviousHash != ledger.GenesisPrevHash {
		t.Errorf("Block(0) = %+v, %v", genesis, err)
	}
}

func TestErrors(t *testing.T) {
	srv, tokens := newLedgerServer(t)
	ctx := context.Background()
	up := client.UploadRequest{PatientID: "P1", FileType: "Lab", Disease: "Flu", Doctor: "Dr. House"}

	anon := client.MustNew(srv.URL)
	if _, err := anon.Upload(ctx, up); !errors.Is(err, client.ErrUnauthorized) {
		t.Errorf("anonymous upload: expected ErrUnauthorized, got %v", err)
	}

	patient := client.MustNew(srv.URL, client.WithBearerToken(issue(t, tokens, "P1", auth.RolePatient)))
	if _, err := patient.Upload(ctx, up); !errors.Is(err, client.ErrForbidden) {
		t.Errorf("patient upload: expected ErrForbidden, got %v", err)
	}

	if _, err := anon.Search(ctx, "patient_id", "P1"); !errors.Is(err, client.ErrUnauthorized) {
		t.Errorf("anonymous search: expected ErrUnauthorized, got %v", err)
	}
	if _, err := patient.Tail(ctx, 5); !errors.Is(err, client.ErrForbidden) {
		t.Errorf("patient tail: expected ErrForbidden, got %v", err)
	}

	admin := client.MustNew(srv.URL, client.WithBearerToken(issue(t, tokens, "admin", auth.RoleAdmin)))
	if _, err := admin.Block(ctx, 99); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("missing block: expected ErrNotFound, got %v", err)
	}

	up.Doctor = ""
	_, err := admin.Upload(ctx, up)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing doctor: expected 400 APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "doctor") {
		t.Errorf("error message should name the missing field: %q", apiErr.Message)
	}
}

func TestRecord_cache(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		json.NewEncoder(w).Encode(map[string]any{"patient_id": "P1", "file_type": "Lab"})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithCacheTTL(5*time.Minute))
	ctx := context.Background()

	for range 3 {
		rec, err := c.Record(ctx, "bafkreiexample")
		if err != nil {
			t.Fatal(err)
		}
		if rec.PatientID != "P1" {
			t.Errorf("unexpected record: %+v", rec)
		}
	}
	if callCount != 1 {
		t.Errorf("expected 1 server call with cache, got %d", callCount)
	}
}

func TestNew_invalid(t *testing.T) {
	if _, err := client.New("not a url"); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := client.New("http://localhost:8080", client.WithCacheTTL(0)); err == nil {
		t.Error("expected error for zero cache TTL")
	}
}
