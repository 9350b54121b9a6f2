package netopt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// defaultProbeTimeout bounds one probe round trip.
const defaultProbeTimeout = 5 * time.Second

// HTTPProber measures the link by pinging the cloud endpoint. Latency and
// jitter come from the round trip itself; bandwidth and loss come from the
// server's answer, which knows the link better than a single HTTP call can.
type HTTPProber struct {
	baseURL string
	client  *http.Client

	mu          sync.Mutex
	lastLatency float64
}

// NewHTTPProber creates a prober against the cloud base URL. A nil client
// falls back to a default with a probe timeout.
func NewHTTPProber(baseURL string, client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	return &HTTPProber{baseURL: baseURL, client: client}
}

// pingResponse is the cloud's answer to a probe.
type pingResponse struct {
	BandwidthKbps float64 `json:"bandwidth_kbps"`
	PacketLoss    float64 `json:"packet_loss"`
}

// Probe implements Prober. A failed round trip returns an error; the monitor
// treats that as an offline measurement.
func (p *HTTPProber) Probe(ctx context.Context) (Metrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/ping", nil)
	if err != nil {
		return Metrics{}, fmt.Errorf("build probe request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return Metrics{}, fmt.Errorf("probe %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()
	latency := float64(time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return Metrics{}, fmt.Errorf("probe %s: unexpected status %d", p.baseURL, resp.StatusCode)
	}

	var ping pingResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ping); err != nil {
		return Metrics{}, fmt.Errorf("decode probe response: %w", err)
	}

	p.mu.Lock()
	jitter := 0.0
	if p.lastLatency > 0 {
		jitter = latency - p.lastLatency
		if jitter < 0 {
			jitter = -jitter
		}
	}
	p.lastLatency = latency
	p.mu.Unlock()

	return Metrics{
		BandwidthKbps: ping.BandwidthKbps,
		LatencyMs:     latency,
		PacketLoss:    ping.PacketLoss,
		JitterMs:      jitter,
		Timestamp:     time.Now(),
	}, nil
}

// HTTPUplink sends sync operations to the cloud as JSON. The server applies
// the operation when its stored version matches the operation's BaseVersion
// and answers with its current version token; on mismatch it refuses the
// write and returns its state in the ack instead.
type HTTPUplink struct {
	baseURL string
	client  *http.Client
}

// NewHTTPUplink creates an uplink against the cloud base URL. A nil client
// falls back to http.DefaultClient.
func NewHTTPUplink(baseURL string, client *http.Client) *HTTPUplink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUplink{baseURL: baseURL, client: client}
}

// uplinkRequest is the wire form of one sync operation.
type uplinkRequest struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Priority    int            `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	BaseVersion int64          `json:"base_version"`
	Timestamp   time.Time      `json:"timestamp"`
}

// uplinkResponse is the wire form of the ack.
type uplinkResponse struct {
	Version       int64          `json:"version"`
	Conflict      bool           `json:"conflict"`
	ServerPayload map[string]any `json:"server_payload,omitempty"`
}

// Send implements Uplink.
func (u *HTTPUplink) Send(ctx context.Context, op *Operation) (UplinkAck, error) {
	body, err := json.Marshal(uplinkRequest{
		ID:          op.ID,
		Type:        op.Type,
		Priority:    int(op.Priority),
		Payload:     op.Payload,
		BaseVersion: op.BaseVersion,
		Timestamp:   op.Timestamp,
	})
	if err != nil {
		return UplinkAck{}, fmt.Errorf("encode operation %s: %w", op.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/v1/sync", bytes.NewReader(body))
	if err != nil {
		return UplinkAck{}, fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return UplinkAck{}, fmt.Errorf("send operation %s: %w", op.ID, err)
	}
	defer resp.Body.Close()

	// 409 carries a conflict ack body; anything else non-2xx is a transport
	// failure that goes through retry bookkeeping.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return UplinkAck{}, fmt.Errorf("sync operation %s: unexpected status %d", op.ID, resp.StatusCode)
	}

	var ack uplinkResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ack); err != nil {
		return UplinkAck{}, fmt.Errorf("decode ack for %s: %w", op.ID, err)
	}

	return UplinkAck{
		Version:       ack.Version,
		Conflict:      ack.Conflict || resp.StatusCode == http.StatusConflict,
		ServerPayload: ack.ServerPayload,
	}, nil
}
