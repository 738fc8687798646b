package records_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/recordchain/internal/contentstore"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"github.com/jmerrifield20/recordchain/internal/records"
	"go.uber.org/zap"
)

var ctx = context.Background()

type downStore struct{}

func (downStore) Put(context.Context, []byte) (string, error) {
	return "", contentstore.ErrStoreUnavailable
}

func (downStore) Get(context.Context, string) ([]byte, error) {
	return nil, contentstore.ErrStoreUnavailable
}

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(ctx, ledger.NewFileStorage(filepath.Join(t.TempDir(), "blockchain.json")),
		ledger.WithDifficulty(1))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func validUpload(patientID string) records.UploadRequest {
	return records.UploadRequest{
		Filename:    "xray.png",
		PatientName: "Jane Roe",
		PatientID:   patientID,
		FileType:    "Imaging",
		Disease:     "Fracture",
		FileOpen:    true,
		Doctor:      "Dr. Who",
		UploadedBy:  "admin",
		File:        []byte{0x89, 'P', 'N', 'G'},
	}
}

func TestUpload_storesAndAppends(t *testing.T) {
	l := newLedger(t)
	store := contentstore.NewMemoryStore()
	svc := records.NewService(l, store, zap.NewNop())

	rc, err := svc.Upload(ctx, validUpload("P1"))
	if err != nil {
		t.Fatal(err)
	}
	if rc.Block.Index != 1 {
		t.Errorf("expected block index 1, got %d", rc.Block.Index)
	}
	if cid, _ := rc.Block.Data.Text(records.FieldCID); cid != rc.CID {
		t.Errorf("block cid %q, receipt cid %q", cid, rc.CID)
	}
	if status, _ := rc.Block.Data.Text(records.FieldFileStatus); status != records.StatusOpen {
		t.Errorf("file status %q, want Open", status)
	}
	if _, ok := rc.Block.Data["file_base64"]; ok {
		t.Error("file bytes leaked into the block")
	}

	meta, err := svc.Resolve(ctx, rc.Block)
	if err != nil {
		t.Fatal(err)
	}
	if meta.PatientID != "P1" || meta.Doctor != "Dr. Who" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.Description != "No description provided." {
		t.Errorf("default description not applied: %q", meta.Description)
	}

	f, err := svc.Attachment(ctx, rc.CID)
	if err != nil {
		t.Fatal(err)
	}
	if f.MIMEType != "image/png" || string(f.Data) != "\x89PNG" {
		t.Errorf("attachment: %s %q", f.MIMEType, f.Data)
	}
}

func TestUpload_missingFields(t *testing.T) {
	l := newLedger(t)
	svc := records.NewService(l, contentstore.NewMemoryStore(), zap.NewNop())

	req := validUpload("P1")
	req.Doctor = ""
	req.Disease = "  "
	_, err := svc.Upload(ctx, req)
	if !errors.Is(err, records.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("ledger changed on invalid upload: %d blocks", l.Len())
	}
}

func TestUpload_storeDownLeavesLedgerUntouched(t *testing.T) {
	l := newLedger(t)
	svc := records.NewService(l, downStore{}, zap.NewNop())

	_, err := svc.Upload(ctx, validUpload("P1"))
	if !errors.Is(err, contentstore.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("ledger changed after store failure: %d blocks", l.Len())
	}
}

func TestUpload_noFileDefaults(t *testing.T) {
	svc := records.NewService(newLedger(t), contentstore.NewMemoryStore(), zap.NewNop())
	req := validUpload("P1")
	req.Filename = ""
	req.File = nil
	req.FileOpen = false

	rc, err := svc.Upload(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	meta, _ := svc.Fetch(ctx, rc.CID)
	if meta.Filename != "N/A" || meta.FileStatus != records.StatusClosed {
		t.Errorf("defaults not applied: %+v", meta)
	}
	if _, err := svc.Attachment(ctx, rc.CID); !errors.Is(err, records.ErrNoFile) {
		t.Errorf("expected ErrNoFile, got %v", err)
	}
}

func TestByPatient_order(t *testing.T) {
	svc := records.NewService(newLedger(t), contentstore.NewMemoryStore(), zap.NewNop())
	for _, id := range []string{"P1", "P2", "P1"} {
		if _, err := svc.Upload(ctx, validUpload(id)); err != nil {
			t.Fatal(err)
		}
	}

	blocks, err := svc.ByPatient(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 || blocks[0].Index != 1 || blocks[1].Index != 3 {
		t.Errorf("unexpected blocks for P1: %+v", blocks)
	}

	recent, _ := svc.Recent(ctx, 2)
	if len(recent) != 2 || recent[1].Index != 3 {
		t.Errorf("unexpected recent blocks: %+v", recent)
	}
}

func TestResolve_genesisHasNoReference(t *testing.T) {
	l := newLedger(t)
	svc := records.NewService(l, contentstore.NewMemoryStore(), zap.NewNop())
	g, _ := l.Get(0)
	if _, err := svc.Resolve(ctx, g); !errors.Is(err, records.ErrNoReference) {
		t.Errorf("expected ErrNoReference, got %v", err)
	}
}

func TestMIMEType(t *testing.T) {
	cases := map[string]string{
		"scan.PDF":   "application/pdf",
		"photo.jpeg": "image/jpeg",
		"labs.csv":   "text/csv",
		"notes":      "application/octet-stream",
		"data.xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}
	for name, want := range cases {
		if got := records.MIMEType(name); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", name, got, want)
		}
	}
}
