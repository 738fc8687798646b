package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultIPFSURL is the RPC address of a local IPFS (Kubo) daemon.
const DefaultIPFSURL = "http://127.0.0.1:5001"

// IPFSStore is a Store backed by the RPC API of an IPFS node.
type IPFSStore struct {
	base       string
	httpClient *http.Client
	offline    bool
	logger     *zap.Logger
}

// IPFSOption configures an IPFSStore.
type IPFSOption func(*IPFSStore)

// WithIPFSHTTPClient sets the HTTP client used for RPC calls.
func WithIPFSHTTPClient(hc *http.Client) IPFSOption {
	return func(s *IPFSStore) { s.httpClient = hc }
}

// WithIPFSOffline makes Get consult only the local node's blocks, so unknown
// content fails fast with ErrNotFound instead of searching the network.
func WithIPFSOffline(offline bool) IPFSOption {
	return func(s *IPFSStore) { s.offline = offline }
}

// WithIPFSLogger sets the logger.
func WithIPFSLogger(logger *zap.Logger) IPFSOption {
	return func(s *IPFSStore) { s.logger = logger }
}

// NewIPFSStore creates an IPFSStore talking to the node at baseURL.
func NewIPFSStore(baseURL string, opts ...IPFSOption) *IPFSStore {
	if baseURL == "" {
		baseURL = DefaultIPFSURL
	}
	s := &IPFSStore{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type ipfsAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type ipfsErrorResponse struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

// Put implements Store via /api/v0/add. Content is pinned and addressed with
// a CIDv1.
func (s *IPFSStore) Put(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "payload")
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}

	q := url.Values{}
	q.Set("pin", "true")
	q.Set("cid-version", "1")
	resp, err := s.call(ctx, "add", q, &body, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.statusError("add", resp)
	}

	var out ipfsAddResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode add response: %w", err)
	}
	if _, err := ParseCID(out.Hash); err != nil {
		return "", fmt.Errorf("ipfs returned unusable cid %q", out.Hash)
	}

	s.logger.Debug("ipfs add", zap.String("cid", out.Hash), zap.Int("bytes", len(data)))
	return out.Hash, nil
}

// Get implements Store via /api/v0/cat.
func (s *IPFSStore) Get(ctx context.Context, id string) ([]byte, error) {
	c, err := ParseCID(id)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("arg", c.String())
	if s.offline {
		q.Set("offline", "true")
	}
	resp, err := s.call(ctx, "cat", q, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError("cat", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read cat response: %v", ErrStoreUnavailable, err)
	}
	return data, nil
}

// call POSTs to /api/v0/<cmd>. Transport failures wrap ErrStoreUnavailable.
func (s *IPFSStore) call(ctx context.Context, cmd string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := s.base + "/api/v0/" + cmd + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", cmd, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ipfs %s: %v", ErrStoreUnavailable, cmd, err)
	}
	return resp, nil
}

// statusError maps a non-200 RPC response to ErrNotFound or ErrStoreUnavailable.
func (s *IPFSStore) statusError(cmd string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var e ipfsErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		msg = e.Message
	}

	s.logger.Warn("ipfs rpc error",
		zap.String("cmd", cmd),
		zap.Int("status", resp.StatusCode),
		zap.String("message", msg),
	)

	lower := strings.ToLower(msg)
	if resp.StatusCode == http.StatusNotFound || strings.Contains(lower, "not found") {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("%w: ipfs %s returned %d: %s", ErrStoreUnavailable, cmd, resp.StatusCode, msg)
}
