package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the server rejects or requires a token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the token's role does not allow the call.
	ErrForbidden = errors.New("forbidden")
)

// maxResponseBytes bounds response bodies; record documents carry their
// attachment inline.
const maxResponseBytes = 64 << 20

// APIError is a non-2xx response that does not map to a sentinel.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Block is a sealed ledger block as served by ledgerd.
type Block struct {
	Index        int            `json:"index"`
	Timestamp    string         `json:"timestamp"`
	Data         map[string]any `json:"data"`
	PreviousHash string         `json:"previous_hash"`
	Nonce        uint64         `json:"nonce"`
	Hash         string         `json:"hash"`
}

// Overview is the response of GET /api/v1/ledger.
type Overview struct {
	Blocks     int    `json:"blocks"`
	Tip        string `json:"tip"`
	Difficulty int    `json:"difficulty"`
}

// VerifyResult is the response of GET /api/v1/ledger/verify.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	FirstInvalid int    `json:"first_invalid,omitempty"`
	Error        string `json:"error,omitempty"`
}

// UploadRequest is the payload for Upload. File travels base64-encoded.
type UploadRequest struct {
	Filename        string `json:"filename,omitempty"`
	PatientName     string `json:"patient_name,omitempty"`
	PatientID       string `json:"patient_id"`
	FileType        string `json:"file_type"`
	Description     string `json:"description,omitempty"`
	Disease         string `json:"disease"`
	FileOpen        bool   `json:"file_open"`
	NextAppointment string `json:"next_appointment,omitempty"`
	Doctor          string `json:"doctor"`
	UploadedBy      string `json:"uploaded_by,omitempty"`
	File            []byte `json:"file,omitempty"`
}

// UploadResult holds the content identifier and the sealed reference block.
type UploadResult struct {
	CID    string `json:"cid"`
	Block  Block  `json:"block"`
	Status string `json:"status"`
}

// Record is the metadata document stored for an upload.
type Record struct {
	Filename        string `json:"filename"`
	PatientID       string `json:"patient_id"`
	FileType        string `json:"file_type"`
	PatientName     string `json:"patient_name"`
	Timestamp       string `json:"timestamp"`
	Description     string `json:"description"`
	Disease         string `json:"disease"`
	FileStatus      string `json:"file-status"`
	NextAppointment string `json:"next-appointment"`
	Doctor          string `json:"doctor"`
	UploadedBy      string `json:"uploaded_by"`
	FileBase64      string `json:"file_base64,omitempty"`
}

// Client talks to a ledgerd server.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	cache       *recordCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCacheTTL caches fetched record documents for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL must be positive, got %s", ttl)
		}
		c.cache = newRecordCache(ttl)
		return nil
	}
}

// New creates a Client for the server at base (e.g. "http://localhost:8080").
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Overview returns the chain length, tip hash, and difficulty.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.getJSON(ctx, "/api/v1/ledger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to validate the whole chain.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.getJSON(ctx, "/api/v1/ledger/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Block returns the block at index.
func (c *Client) Block(ctx context.Context, index int) (*Block, error) {
	var out Block
	if err := c.getJSON(ctx, "/api/v1/ledger/blocks/"+strconv.Itoa(index), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tail returns up to n of the most recent blocks in chain order.
func (c *Client) Tail(ctx context.Context, n int) ([]Block, error) {
	return c.blocks(ctx, "/api/v1/ledger/tail", url.Values{"n": {strconv.Itoa(n)}})
}

// Search returns blocks whose record field equals value, in chain order.
func (c *Client) Search(ctx context.Context, field, value string) ([]Block, error) {
	return c.blocks(ctx, "/api/v1/ledger/search", url.Values{"field": {field}, "value": {value}})
}

// PatientRecords returns the reference blocks of a patient.
func (c *Client) PatientRecords(ctx context.Context, patientID string) ([]Block, error) {
	return c.blocks(ctx, "/api/v1/patients/"+url.PathEscape(patientID)+"/records", nil)
}

// Upload stores a record and seals its reference block.
func (c *Client) Upload(ctx context.Context, up UploadRequest) (*UploadResult, error) {
	payload, err := json.Marshal(up)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/records", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var out UploadResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}

// Record returns the metadata document stored under cid.
func (c *Client) Record(ctx context.Context, cid string) (*Record, error) {
	if c.cache != nil {
		if r, ok := c.cache.get(cid); ok {
			return r, nil
		}
	}
	var out Record
	if err := c.getJSON(ctx, "/api/v1/records/"+url.PathEscape(cid), nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(cid, &out)
	}
	return &out, nil
}

// File returns the decoded attachment of the record under cid and its
// content type.
func (c *Client) File(ctx context.Context, cid string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/records/"+url.PathEscape(cid)+"/file", nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, body, err := c.roundTrip(req)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) blocks(ctx context.Context, path string, q url.Values) ([]Block, error) {
	var out struct {
		Blocks []Block `json:"blocks"`
	}
	if err := c.getJSON(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do executes an HTTP request and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	_, body, err := c.roundTrip(req)
	return body, err
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(body))
	case resp.StatusCode == http.StatusForbidden:
		return nil, nil, fmt.Errorf("%w: %s", ErrForbidden, errorMessage(body))
	case resp.StatusCode >= 300:
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return resp, body, nil
}

// errorMessage extracts {"error": "..."} from a response body, falling back
// to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// --- record document cache ---

type cacheEntry struct {
	record    *Record
	expiresAt time.Time
}

type recordCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newRecordCache(ttl time.Duration) *recordCache {
	return &recordCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (rc *recordCache) get(key string) (*Record, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	e, ok := rc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.record, true
}

func (rc *recordCache) set(key string, r *Record) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[key] = &cacheEntry{record: r, expiresAt: time.Now().Add(rc.ttl)}
}
