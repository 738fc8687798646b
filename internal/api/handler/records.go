package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/recordchain/internal/auth"
	"github.com/jmerrifield20/recordchain/internal/contentstore"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"github.com/jmerrifield20/recordchain/internal/records"
	"go.uber.org/zap"
)

// recordSvc is the interface expected by RecordHandler, satisfied by *records.Service.
type recordSvc interface {
	Upload(ctx context.Context, req records.UploadRequest) (*records.Receipt, error)
	Fetch(ctx context.Context, cid string) (*records.Metadata, error)
	ByPatient(ctx context.Context, patientID string) ([]ledger.Block, error)
}

// RecordHandler handles record upload and retrieval routes.
type RecordHandler struct {
	svc    recordSvc
	tokens *auth.TokenIssuer // nil = authentication disabled
	logger *zap.Logger
}

// NewRecordHandler creates a RecordHandler. tokens may be nil to disable
// authentication (development only).
func NewRecordHandler(svc recordSvc, tokens *auth.TokenIssuer, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{svc: svc, tokens: tokens, logger: logger}
}

// requireToken returns the RequireToken middleware when auth is configured,
// or a no-op middleware when tokens is nil.
func (h *RecordHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireToken(h.tokens)
}

func (h *RecordHandler) requireWriter() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireWriter()
}

func (h *RecordHandler) canRead(c *gin.Context, patientID string) bool {
	if h.tokens == nil {
		return true
	}
	return auth.CanRead(auth.ClaimsFromCtx(c), patientID)
}

// Register mounts the record routes on the given router group.
func (h *RecordHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/records", h.requireToken(), h.requireWriter(), h.Upload)
	rg.GET("/records/:cid", h.requireToken(), h.Get)
	rg.GET("/records/:cid/file", h.requireToken(), h.File)
	rg.GET("/patients/:id/records", h.requireToken(), h.ByPatient)
}

// Upload handles POST /records: stores the document and seals a reference block.
func (h *RecordHandler) Upload(c *gin.Context) {
	var req records.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UploadedBy == "" {
		if claims := auth.ClaimsFromCtx(c); claims != nil {
			req.UploadedBy = claims.Subject
		}
	}

	start := time.Now()
	receipt, err := h.svc.Upload(c.Request.Context(), req)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}
	RecordAppend(time.Since(start))

	c.JSON(http.StatusCreated, gin.H{
		"cid":    receipt.CID,
		"block":  receipt.Block,
		"status": "stored",
	})
}

func (h *RecordHandler) writeUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, records.ErrMissingFields), errors.Is(err, ledger.ErrInvalidRecord):
		RecordAppendFailure("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, contentstore.ErrStoreUnavailable):
		RecordAppendFailure("store_unavailable")
		h.logger.Warn("content store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "content store unavailable"})
	case errors.Is(err, ledger.ErrSealingExhausted):
		RecordAppendFailure("sealing_exhausted")
		h.logger.Error("sealing exhausted", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not seal block, retry"})
	case errors.Is(err, ledger.ErrPersistence):
		RecordAppendFailure("persistence")
		h.logger.Error("ledger persistence failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger write failed; record not stored"})
	default:
		RecordAppendFailure("internal")
		h.logger.Error("record upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
	}
}

// Get handles GET /records/:cid: returns the stored metadata document.
func (h *RecordHandler) Get(c *gin.Context) {
	meta, ok := h.fetchReadable(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, meta)
}

// File handles GET /records/:cid/file: returns the decoded attachment.
func (h *RecordHandler) File(c *gin.Context) {
	meta, ok := h.fetchReadable(c)
	if !ok {
		return
	}
	f, err := records.DecodeAttachment(meta)
	if errors.Is(err, records.ErrNoFile) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record has no attached file"})
		return
	}
	if err != nil {
		h.logger.Warn("decode attachment", zap.String("cid", c.Param("cid")), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "attachment is not valid base64"})
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	c.Data(http.StatusOK, f.MIMEType, f.Data)
}

// ByPatient handles GET /patients/:id/records: returns the patient's blocks.
func (h *RecordHandler) ByPatient(c *gin.Context) {
	patientID := c.Param("id")
	if !h.canRead(c, patientID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}
	blocks, err := h.svc.ByPatient(c.Request.Context(), patientID)
	if err != nil {
		h.logger.Error("records ByPatient", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}

func (h *RecordHandler) fetchReadable(c *gin.Context) (*records.Metadata, bool) {
	cid := c.Param("cid")
	meta, err := h.svc.Fetch(c.Request.Context(), cid)
	switch {
	case errors.Is(err, contentstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return nil, false
	case errors.Is(err, contentstore.ErrStoreUnavailable):
		h.logger.Warn("content store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "content store unavailable"})
		return nil, false
	case err != nil:
		h.logger.Error("records Fetch", zap.String("cid", cid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
		return nil, false
	}
	if !h.canRead(c, meta.PatientID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return nil, false
	}
	return meta, true
}
