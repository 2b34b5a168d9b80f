// Typed HTTP client for the node API, plus a polling watcher for wallets
// and dashboards that want to chase table growth without holding a libp2p
// connection.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to a node's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the node listening at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// HealthResponse mirrors GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
	Transactions int    `json:"transactions"`
	Version      string `json:"version"`
}

// PeersResponse mirrors GET /api/v1/peers.
type PeersResponse struct {
	Topic string   `json:"topic"`
	Peers []string `json:"peers"`
	Count int      `json:"count"`
}

// TransactionResponse mirrors one transaction record.
type TransactionResponse struct {
	Hash      string `json:"hash"`
	Payload   []byte `json:"payload"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
}

// TransactionListResponse mirrors GET /api/v1/transactions.
type TransactionListResponse struct {
	Transactions []string `json:"transactions"`
	Count        int      `json:"count"`
	Total        int      `json:"total"`
	Limit        int      `json:"limit"`
}

// PeerTransactionsResponse mirrors GET /api/v1/peer/{id}/transactions.
type PeerTransactionsResponse struct {
	Peer         string                `json:"peer"`
	Transactions []TransactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
	Total        int                   `json:"total"`
}

// BroadcastResponse mirrors POST /api/v1/broadcast.
type BroadcastResponse struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

// Health fetches the node's health summary.
func (c *Client) Health() (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get("/api/v1/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the node's full status map.
func (c *Client) Status() (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.get("/api/v1/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Peers fetches the confirmed mesh peers.
func (c *Client) Peers() (*PeersResponse, error) {
	var out PeersResponse
	if err := c.get("/api/v1/peers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions fetches up to limit transaction digests.
func (c *Client) Transactions(limit int) (*TransactionListResponse, error) {
	var out TransactionListResponse
	if err := c.get(fmt.Sprintf("/api/v1/transactions?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transaction fetches one record by its hex digest.
func (c *Client) Transaction(hashHex string) (*TransactionResponse, error) {
	var out TransactionResponse
	if err := c.get("/api/v1/transaction/"+hashHex, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PeerTransactions fetches the ordered history attributed to one sender.
func (c *Client) PeerTransactions(id string) (*PeerTransactionsResponse, error) {
	var out PeerTransactionsResponse
	if err := c.get("/api/v1/peer/"+id+"/transactions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Broadcast submits a payload through the node.
func (c *Client) Broadcast(payload []byte) (*BroadcastResponse, error) {
	body, err := json.Marshal(BroadcastRequest{Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %v", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/api/v1/broadcast", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	var out BroadcastResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}
	return &out, nil
}

// TableWatcher polls a node for table growth. After growth it polls
// aggressively for a short window, the way a wallet chases a transaction
// it just submitted, then falls back to the normal interval.
type TableWatcher struct {
	client   *Client
	interval time.Duration

	lastCount      int
	aggressiveTill time.Time

	ctx    context.Context
	cancel context.CancelFunc

	onGrowth func(total int)
	onError  func(error)
}

const aggressiveWindow = 20 * time.Second

// NewTableWatcher creates a watcher polling every interval.
func NewTableWatcher(client *Client, interval time.Duration) *TableWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &TableWatcher{
		client:   client,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnGrowth registers the callback fired when the table gains records.
func (w *TableWatcher) OnGrowth(fn func(total int)) { w.onGrowth = fn }

// OnError registers the callback fired when a poll fails.
func (w *TableWatcher) OnError(fn func(error)) { w.onError = fn }

// Start begins polling in the background.
func (w *TableWatcher) Start() {
	go w.loop()
}

// Stop ends the polling loop.
func (w *TableWatcher) Stop() {
	w.cancel()
}

func (w *TableWatcher) loop() {
	for {
		wait := w.interval
		if time.Now().Before(w.aggressiveTill) && w.interval > 2*time.Second {
			wait = 2 * time.Second
		}
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(wait):
			w.poll()
		}
	}
}

func (w *TableWatcher) poll() {
	health, err := w.client.Health()
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	if health.Transactions > w.lastCount {
		w.lastCount = health.Transactions
		w.aggressiveTill = time.Now().Add(aggressiveWindow)
		if w.onGrowth != nil {
			w.onGrowth(health.Transactions)
		}
		return
	}
	w.lastCount = health.Transactions
}
