// Package records stores medical record uploads: the full document goes to
// the content store and a compact reference is sealed into the ledger.
package records

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/recordchain/internal/contentstore"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"go.uber.org/zap"
)

var (
	// ErrMissingFields is returned when an upload lacks a required field.
	ErrMissingFields = errors.New("missing required fields")

	// ErrNoReference is returned when a block carries no content identifier.
	ErrNoReference = errors.New("block has no content reference")

	// ErrNoFile is returned when a record's metadata has no attachment.
	ErrNoFile = errors.New("record has no attached file")
)

// chain is the ledger surface the service needs. *ledger.Ledger satisfies it.
type chain interface {
	Append(ctx context.Context, data ledger.Record) (ledger.Block, error)
	FindBy(match ledger.Predicate) ([]ledger.Block, error)
	Tail(n int) ([]ledger.Block, error)
}

// Receipt is returned by a successful Upload.
type Receipt struct {
	CID   string       `json:"cid"`
	Block ledger.Block `json:"block"`
}

// Service contains the record upload and retrieval logic.
type Service struct {
	chain  chain
	store  contentstore.Store
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(c chain, store contentstore.Store, logger *zap.Logger) *Service {
	return &Service{chain: c, store: store, now: time.Now, logger: logger}
}

// Upload stores the record document and appends a reference block. If the
// content store fails the ledger is not touched.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Receipt, error) {
	if err := validateUpload(req); err != nil {
		return nil, err
	}

	meta := s.buildMetadata(req)
	doc, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	cid, err := s.store.Put(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("store record document: %w", err)
	}

	ref := ledger.Record{
		FieldPatientName: meta.PatientName,
		FieldPatientID:   meta.PatientID,
		FieldFileType:    meta.FileType,
		FieldDisease:     meta.Disease,
		FieldFileStatus:  meta.FileStatus,
		FieldCID:         cid,
		FieldUploadedBy:  meta.UploadedBy,
		FieldTimestamp:   meta.Timestamp,
	}
	block, err := s.chain.Append(ctx, ref)
	if err != nil {
		// The stored document is content-addressed and harmless to leave behind.
		s.logger.Warn("record stored but not appended",
			zap.String("cid", cid),
			zap.String("patient_id", meta.PatientID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("append record reference: %w", err)
	}

	s.logger.Info("record uploaded",
		zap.String("cid", cid),
		zap.Int("index", block.Index),
		zap.String("uploaded_by", meta.UploadedBy),
	)
	return &Receipt{CID: cid, Block: block}, nil
}

// Fetch loads the metadata document stored under cid.
func (s *Service) Fetch(ctx context.Context, cid string) (*Metadata, error) {
	raw, err := s.store.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", cid, err)
	}
	return &meta, nil
}

// Resolve loads the metadata referenced by block.
func (s *Service) Resolve(ctx context.Context, block ledger.Block) (*Metadata, error) {
	cid, ok := block.Data.Text(FieldCID)
	if !ok || cid == "" {
		return nil, fmt.Errorf("%w: index %d", ErrNoReference, block.Index)
	}
	return s.Fetch(ctx, cid)
}

// Attachment decodes the file embedded in the record stored under cid.
func (s *Service) Attachment(ctx context.Context, cid string) (*File, error) {
	meta, err := s.Fetch(ctx, cid)
	if err != nil {
		return nil, err
	}
	return DecodeAttachment(meta)
}

// DecodeAttachment decodes the file embedded in meta.
func DecodeAttachment(meta *Metadata) (*File, error) {
	encoded := meta.FileBase64
	if encoded == "" {
		encoded = meta.ImageBase64
	}
	if encoded == "" {
		return nil, ErrNoFile
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return &File{Name: meta.Filename, MIMEType: MIMEType(meta.Filename), Data: data}, nil
}

// ByPatient returns the reference blocks for patientID in chain order.
func (s *Service) ByPatient(_ context.Context, patientID string) ([]ledger.Block, error) {
	return s.chain.FindBy(ledger.FieldEquals(FieldPatientID, patientID))
}

// Recent returns the last n blocks.
func (s *Service) Recent(_ context.Context, n int) ([]ledger.Block, error) {
	return s.chain.Tail(n)
}

func (s *Service) buildMetadata(req UploadRequest) Metadata {
	meta := Metadata{
		Filename:        req.Filename,
		PatientID:       req.PatientID,
		FileType:        req.FileType,
		PatientName:     req.PatientName,
		Timestamp:       s.now().Format(MetadataTimeLayout),
		Description:     req.Description,
		Disease:         req.Disease,
		FileStatus:      StatusClosed,
		NextAppointment: req.NextAppointment,
		Doctor:          req.Doctor,
		UploadedBy:      req.UploadedBy,
	}
	if meta.Filename == "" {
		meta.Filename = "N/A"
	}
	if meta.Description == "" {
		meta.Description = "No description provided."
	}
	if req.FileOpen {
		meta.FileStatus = StatusOpen
	}
	if len(req.File) > 0 && req.Filename != "" {
		meta.FileBase64 = base64.StdEncoding.EncodeToString(req.File)
	}
	return meta
}

func validateUpload(req UploadRequest) error {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"patient_id", req.PatientID},
		{"file_type", req.FileType},
		{"uploaded_by", req.UploadedBy},
		{"disease", req.Disease},
		{"doctor", req.Doctor},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	return nil
}
