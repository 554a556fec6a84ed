// Package ddxf is a Go client for the DDXF market node REST API.
//
// Transactions are built and signed locally with secp256k1 keys, then posted
// either synchronously or through the node's transaction pool.
package ddxf

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"DDXF-Market/internal/events"
	"DDXF-Market/internal/runtime"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with a DDXF node.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	now        func() time.Time
}

// Receipt mirrors the node's transaction receipt.
type Receipt struct {
	Hash      string         `json:"hash"`
	Status    string         `json:"status"`
	Return    hexutil.Bytes  `json:"return,omitempty"`
	Events    []events.Event `json:"events,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt int64          `json:"created_at,omitempty"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
}

// Done reports whether the receipt reached a terminal status.
func (r Receipt) Done() bool {
	return r.Status == "succeeded" || r.Status == "failed"
}

// Decode decodes the RLP return value into out.
func (r Receipt) Decode(out any) error {
	return runtime.DecodeResult(r.Return, out)
}

// Fee is the price of an item.
type Fee struct {
	Amount   string          `json:"amount"`
	Currency string          `json:"currency"`
	Contract *common.Address `json:"contract,omitempty"`
}

// Item is the public view of a published resource.
type Item struct {
	ResourceID   string          `json:"resource_id"`
	Manager      common.Address  `json:"manager"`
	ItemMetaHash common.Hash     `json:"item_meta_hash"`
	Ledger       *common.Address `json:"ledger,omitempty"`
	Accountant   *common.Address `json:"accountant,omitempty"`
	SplitPolicy  *common.Address `json:"split_policy,omitempty"`
	Fee          Fee             `json:"fee"`
	Expiry       uint64          `json:"expiry"`
	Stock        uint64          `json:"stock"`
	Sold         uint64          `json:"sold"`
	TemplateIDs  []string        `json:"template_ids"`
	Frozen       bool            `json:"frozen"`
}

// Quota lists the usage rights a holder owns for one template.
type Quota struct {
	TemplateID string         `json:"template_id"`
	Holder     common.Address `json:"holder"`
	Count      uint32         `json:"count"`
	Agents     []struct {
		Agent common.Address `json:"agent"`
		Count uint32         `json:"count"`
	} `json:"agents"`
}

// Settlement describes a split registration and its escrowed balance.
type Settlement struct {
	Key           string `json:"key"`
	Currency      string `json:"currency"`
	Beneficiaries []struct {
		Address      common.Address `json:"address"`
		Weight       uint32         `json:"weight"`
		HasWithdrawn bool           `json:"has_withdrawn"`
	} `json:"beneficiaries"`
	Escrow string `json:"escrow"`
}

// APIError represents a non-2xx response from the node.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ddxf api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ddxf api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, now: time.Now}, nil
}

// NewTransaction encodes args and signs the transaction with every key.
func (c *Client) NewTransaction(contract common.Address, method string, args any, nonce uint64, keys ...*ecdsa.PrivateKey) (*runtime.Transaction, error) {
	raw, err := runtime.EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	tx := &runtime.Transaction{
		Contract:  contract,
		Method:    method,
		Args:      raw,
		Nonce:     nonce,
		Timestamp: uint64(c.now().Unix()),
	}
	for _, key := range keys {
		if err := tx.Sign(key); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// Submit executes tx synchronously and returns its receipt.
func (c *Client) Submit(ctx context.Context, tx *runtime.Transaction) (Receipt, error) {
	var receipt Receipt
	err := c.post(ctx, "/api/v1/transactions", nil, transactionBody(tx), &receipt)
	return receipt, err
}

// SubmitAsync queues tx in the node's transaction pool.
func (c *Client) SubmitAsync(ctx context.Context, tx *runtime.Transaction) (Receipt, error) {
	var receipt Receipt
	q := url.Values{"async": []string{"true"}}
	err := c.post(ctx, "/api/v1/transactions", q, transactionBody(tx), &receipt)
	return receipt, err
}

// GetReceipt fetches a pooled transaction's receipt.
func (c *Client) GetReceipt(ctx context.Context, hash common.Hash) (Receipt, error) {
	var receipt Receipt
	err := c.get(ctx, "/api/v1/transactions/"+hash.Hex(), nil, &receipt)
	return receipt, err
}

// WaitReceipt polls until the receipt is terminal or ctx ends.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash, interval time.Duration) (Receipt, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := c.GetReceipt(ctx, hash)
		if err != nil {
			return Receipt{}, err
		}
		if receipt.Done() {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Query runs a read-only call and decodes the RLP result into out.
func (c *Client) Query(ctx context.Context, contract common.Address, method string, args any, out any, witnesses ...common.Address) error {
	raw, err := runtime.EncodeArgs(args)
	if err != nil {
		return err
	}
	body := map[string]any{
		"contract":  contract,
		"method":    method,
		"args":      hexutil.Bytes(raw),
		"witnesses": witnesses,
	}
	var resp struct {
		Return hexutil.Bytes `json:"return"`
	}
	if err := c.post(ctx, "/api/v1/query", nil, body, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return runtime.DecodeResult(resp.Return, out)
}

// GetItem returns the published item for resourceID.
func (c *Client) GetItem(ctx context.Context, resourceID string) (Item, error) {
	var item Item
	err := c.get(ctx, "/api/v1/items/"+url.PathEscape(resourceID), nil, &item)
	return item, err
}

// GetQuota returns holder's usage rights for templateID.
func (c *Client) GetQuota(ctx context.Context, templateID string, holder common.Address) (Quota, error) {
	var quota Quota
	err := c.get(ctx, "/api/v1/quotas/"+url.PathEscape(templateID)+"/"+holder.Hex(), nil, &quota)
	return quota, err
}

// GetSettlement returns the split registration stored under key.
func (c *Client) GetSettlement(ctx context.Context, key string) (Settlement, error) {
	var s Settlement
	err := c.get(ctx, "/api/v1/settlements/"+url.PathEscape(key), nil, &s)
	return s, err
}

// ListReceipts lists pooled receipts, optionally filtered by status.
func (c *Client) ListReceipts(ctx context.Context, limit int, statuses ...string) ([]Receipt, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for _, st := range statuses {
		q.Add("status", st)
	}
	var resp struct {
		Receipts []Receipt `json:"receipts"`
	}
	if err := c.get(ctx, "/api/v1/transactions", q, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

func transactionBody(tx *runtime.Transaction) map[string]any {
	sigs := make([]hexutil.Bytes, len(tx.Signatures))
	for i, s := range tx.Signatures {
		sigs[i] = s
	}
	return map[string]any{
		"contract":   tx.Contract,
		"method":     tx.Method,
		"args":       hexutil.Bytes(tx.Args),
		"nonce":      hexutil.Uint64(tx.Nonce),
		"timestamp":  hexutil.Uint64(tx.Timestamp),
		"signatures": sigs,
	}
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.RawPath = path.Join(c.baseURL.EscapedPath(), endpoint)
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, fmt.Errorf("build path: %w", err)
	}
	u.Path = unescaped
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
