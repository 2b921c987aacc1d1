package client

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/pkg/api"
)

const (
	requestTimeout = 30 * time.Second
	tokenLifetime  = 2 * time.Minute
)

// HTTPClient implements Client over the server's JSON API. Requests are
// authenticated with short-lived RS256 tokens signed by the account keypair;
// the server verifies them against the public key it stored at registration.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	username   string
	signingKey *rsa.PrivateKey
}

// NewHTTPClient creates a client for the given server base URL. Identity is
// attached later via SetIdentity, once an account exists.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// SetIdentity sets the account the client signs its requests as.
func (c *HTTPClient) SetIdentity(username string, key *rsa.PrivateKey) {
	c.username = username
	c.signingKey = key
}

func (c *HTTPClient) Register(ctx context.Context, username string, publicKeyPEM []byte) error {
	req := api.RegisterRequest{Username: username, PublicKeyPEM: publicKeyPEM}
	var resp api.RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/accounts", req, &resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (c *HTTPClient) FetchMetadataSince(ctx context.Context, cursor int64) ([]models.FileMetadata, int64, error) {
	var resp api.MetadataSinceResponse
	path := fmt.Sprintf("/api/v1/files?since=%d", cursor)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, fmt.Errorf("fetch metadata: %w", err)
	}

	files := make([]models.FileMetadata, 0, len(resp.Files))
	for _, f := range resp.Files {
		files = append(files, metadataFromWire(f))
	}
	return files, resp.ServerTime, nil
}

func (c *HTTPClient) PushMetadata(ctx context.Context, meta models.FileMetadata, oldVersion int64) (PushResult, error) {
	req := api.PushMetadataRequest{File: metadataToWire(meta), OldMetadataVersion: oldVersion}
	var resp api.PushMetadataResponse
	path := "/api/v1/files/" + url.PathEscape(meta.ID)
	if err := c.doRequest(ctx, http.MethodPut, path, req, &resp); err != nil {
		return PushResult{}, fmt.Errorf("push metadata: %w", err)
	}
	return PushResult{
		NewMetadataVersion: resp.NewMetadataVersion,
		NewContentVersion:  resp.NewContentVersion,
	}, nil
}

func (c *HTTPClient) FetchContent(ctx context.Context, id string) (models.EncryptedContent, error) {
	var resp api.ContentResponse
	path := "/api/v1/files/" + url.PathEscape(id) + "/content"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return models.EncryptedContent{}, fmt.Errorf("fetch content: %w", err)
	}
	return models.EncryptedContent{Ciphertext: resp.Ciphertext, Nonce: resp.Nonce}, nil
}

func (c *HTTPClient) PushContent(ctx context.Context, id string, content models.EncryptedContent, oldVersion int64) (int64, error) {
	req := api.PushContentRequest{
		Ciphertext:        content.Ciphertext,
		Nonce:             content.Nonce,
		OldContentVersion: oldVersion,
	}
	var resp api.PushContentResponse
	path := "/api/v1/files/" + url.PathEscape(id) + "/content"
	if err := c.doRequest(ctx, http.MethodPut, path, req, &resp); err != nil {
		return 0, fmt.Errorf("push content: %w", err)
	}
	return resp.NewContentVersion, nil
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// requestToken issues a short-lived RS256 bearer token for one request.
func (c *HTTPClient) requestToken() (string, error) {
	if c.signingKey == nil {
		return "", nil
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   c.username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing request token: %w", err)
	}
	return signed, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.requestToken()
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) statusError(code int, body []byte) error {
	detail := string(body)
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		detail = errResp.Error
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case http.StatusConflict:
		if errResp.Code == api.CodeUsernameTaken {
			return fmt.Errorf("%w", ErrUsernameTaken)
		}
		return fmt.Errorf("%w: %s", ErrVersionConflict, detail)
	default:
		return fmt.Errorf("server error (%d): %s", code, detail)
	}
}

func metadataToWire(m models.FileMetadata) api.FileMetadata {
	wire := api.FileMetadata{
		ID:              m.ID,
		Type:            string(m.Type),
		ParentID:        m.ParentID,
		Name:            m.Name,
		Owner:           m.Owner,
		MetadataVersion: m.MetadataVersion,
		ContentVersion:  m.ContentVersion,
		Deleted:         m.Deleted,
		Signature:       m.Signature,
	}
	if len(m.UserAccessKeys) > 0 {
		wire.UserAccessKeys = make(map[string]api.WrappedKey, len(m.UserAccessKeys))
		for u, k := range m.UserAccessKeys {
			wire.UserAccessKeys[u] = api.WrappedKey{Ciphertext: k.Ciphertext, Nonce: k.Nonce}
		}
	}
	if m.FolderAccessKey != nil {
		wire.FolderAccessKey = &api.WrappedKey{
			Ciphertext: m.FolderAccessKey.Ciphertext,
			Nonce:      m.FolderAccessKey.Nonce,
		}
	}
	return wire
}

func metadataFromWire(w api.FileMetadata) models.FileMetadata {
	m := models.FileMetadata{
		ID:              w.ID,
		Type:            models.FileType(w.Type),
		ParentID:        w.ParentID,
		Name:            w.Name,
		Owner:           w.Owner,
		MetadataVersion: w.MetadataVersion,
		ContentVersion:  w.ContentVersion,
		Deleted:         w.Deleted,
		Signature:       w.Signature,
	}
	if len(w.UserAccessKeys) > 0 {
		m.UserAccessKeys = make(map[string]models.WrappedKey, len(w.UserAccessKeys))
		for u, k := range w.UserAccessKeys {
			m.UserAccessKeys[u] = models.WrappedKey{Ciphertext: k.Ciphertext, Nonce: k.Nonce}
		}
	}
	if w.FolderAccessKey != nil {
		m.FolderAccessKey = &models.WrappedKey{
			Ciphertext: w.FolderAccessKey.Ciphertext,
			Nonce:      w.FolderAccessKey.Nonce,
		}
	}
	return m
}
