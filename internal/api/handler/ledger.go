package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/recordchain/internal/auth"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"go.uber.org/zap"
)

const (
	defaultTail = 10
	maxTail     = 1000
)

// LedgerHandler exposes read-only HTTP endpoints for the ledger.
type LedgerHandler struct {
	ledger *ledger.Ledger
	tokens *auth.TokenIssuer // nil = authentication disabled
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. tokens may be nil to disable
// authentication (development only).
func NewLedgerHandler(l *ledger.Ledger, tokens *auth.TokenIssuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, tokens: tokens, logger: logger}
}

// Register mounts the ledger routes on the given router group. The overview
// and integrity check are public; routes that return block data span every
// patient's records and are restricted to writer roles.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
	}

	blocks := l.Group("")
	if h.tokens != nil {
		blocks.Use(auth.RequireToken(h.tokens), auth.RequireWriter())
	}
	{
		blocks.GET("/blocks/:idx", h.GetBlock)
		blocks.GET("/tail", h.Tail)
		blocks.GET("/search", h.Search)
	}
}

// Overview handles GET /ledger: returns the chain length, tip hash, and difficulty.
func (h *LedgerHandler) Overview(c *gin.Context) {
	tip, err := h.ledger.Tip()
	if err != nil {
		h.logger.Error("ledger Tip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks":     h.ledger.Len(),
		"tip":        tip,
		"difficulty": h.ledger.Difficulty(),
	})
}

// Verify handles GET /ledger/verify: walks the full chain and reports integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	err := h.ledger.Validate()
	var invalid *ledger.ChainInvalidError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case errors.As(err, &invalid):
		RecordValidationFailure()
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid":         false,
			"first_invalid": invalid.Index,
			"error":         invalid.Reason,
		})
	default:
		h.logger.Error("ledger Validate", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate ledger"})
	}
}

// GetBlock handles GET /ledger/blocks/:idx: returns a single block.
func (h *LedgerHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	block, err := h.ledger.Get(idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}

	c.JSON(http.StatusOK, block)
}

// Tail handles GET /ledger/tail?n=: returns the last n blocks in chain order.
func (h *LedgerHandler) Tail(c *gin.Context) {
	n := defaultTail
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
			return
		}
		n = min(v, maxTail)
	}

	blocks, err := h.ledger.Tail(n)
	if err != nil {
		h.logger.Error("ledger Tail", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}

// Search handles GET /ledger/search?field=&value=: returns blocks whose data
// field equals value, in chain order.
func (h *LedgerHandler) Search(c *gin.Context) {
	field := c.Query("field")
	if field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field is required"})
		return
	}

	blocks, err := h.ledger.FindBy(ledger.FieldEquals(field, c.Query("value")))
	if err != nil {
		h.logger.Error("ledger FindBy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}
