package netopt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProber_MeasuresLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ping" {
			t.Errorf("path = %q, want /v1/ping", r.URL.Path)
		}
		json.NewEncoder(w).Encode(pingResponse{BandwidthKbps: 2000, PacketLoss: 0.01})
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL, srv.Client())
	m, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if m.BandwidthKbps != 2000 {
		t.Errorf("BandwidthKbps = %v, want 2000", m.BandwidthKbps)
	}
	if m.PacketLoss != 0.01 {
		t.Errorf("PacketLoss = %v, want 0.01", m.PacketLoss)
	}
	if m.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, want >= 0", m.LatencyMs)
	}
	if Classify(m) == ConditionOffline {
		t.Error("reachable server classified offline")
	}
}

func TestHTTPProber_DownServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewHTTPProber(srv.URL, nil)
	if _, err := p.Probe(context.Background()); err == nil {
		t.Fatal("Probe against closed server = nil, want error")
	}
}

func TestHTTPProber_BadStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL, srv.Client())
	if _, err := p.Probe(context.Background()); err == nil {
		t.Fatal("Probe with 502 = nil, want error")
	}
}

func TestHTTPUplink_SendsOperationAndDecodesAck(t *testing.T) {
	var got uplinkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sync" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s, want POST /v1/sync", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(uplinkResponse{Version: 7})
	}))
	defer srv.Close()

	u := NewHTTPUplink(srv.URL, srv.Client())
	ack, err := u.Send(context.Background(), &Operation{
		ID:          "op-1",
		Type:        "transcription",
		Priority:    PriorityHigh,
		Payload:     map[string]any{"text": "hello"},
		BaseVersion: 6,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ack.Version != 7 || ack.Conflict {
		t.Errorf("ack = %+v, want version 7 without conflict", ack)
	}
	if got.ID != "op-1" || got.BaseVersion != 6 {
		t.Errorf("wire request = %+v, want op-1 at base version 6", got)
	}
}

func TestHTTPUplink_ConflictStatusCarriesAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(uplinkResponse{
			Version:       9,
			ServerPayload: map[string]any{"text": "server copy"},
		})
	}))
	defer srv.Close()

	u := NewHTTPUplink(srv.URL, srv.Client())
	ack, err := u.Send(context.Background(), &Operation{ID: "op-2", BaseVersion: 3})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !ack.Conflict || ack.Version != 9 {
		t.Errorf("ack = %+v, want conflict at version 9", ack)
	}
	if ack.ServerPayload["text"] != "server copy" {
		t.Errorf("ServerPayload = %v, want server copy", ack.ServerPayload)
	}
}

func TestHTTPUplink_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := NewHTTPUplink(srv.URL, srv.Client())
	if _, err := u.Send(context.Background(), &Operation{ID: "op-3"}); err == nil {
		t.Fatal("Send with 500 = nil, want error")
	}
}
