package health

import (
	"balance-keeper/internal/models"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

func TestLivenessHandler(t *testing.T) {
	status := NewStatus()
	rec := httptest.NewRecorder()

	status.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("LivenessHandler() status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name      string
		ready     bool
		seenBlock bool
		want      int
	}{
		{"not started", false, false, http.StatusServiceUnavailable},
		{"ready without block", true, false, http.StatusServiceUnavailable},
		{"block but not running", false, true, http.StatusServiceUnavailable},
		{"ready", true, true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := NewStatus()
			status.SetReady(tt.ready)
			if tt.seenBlock {
				_ = status.OnNewBlock(context.Background(), models.BlockHeader{Number: 42, Hash: common.HexToHash("0xabc")})
			}

			rec := httptest.NewRecorder()
			status.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.want {
				t.Errorf("ReadinessHandler() status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestReadinessHandler_Body(t *testing.T) {
	status := NewStatus()
	status.SetReady(true)
	status.RecordRestart()
	_ = status.OnNewBlock(context.Background(), models.BlockHeader{Number: 42, Hash: common.HexToHash("0xabc")})

	rec := httptest.NewRecorder()
	status.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		Status    string      `json:"status"`
		LastBlock BlockStatus `json:"last_block"`
		Restarts  int64       `json:"restarts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "Ready" {
		t.Errorf("status = %q, want Ready", body.Status)
	}
	if body.LastBlock.Number != 42 {
		t.Errorf("last_block.number = %d, want 42", body.LastBlock.Number)
	}
	if body.Restarts != 1 {
		t.Errorf("restarts = %d, want 1", body.Restarts)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	logger := zerolog.New(nil)
	status := NewStatus()
	srv := NewServer("127.0.0.1:0", status.Handler(), &logger)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestStatus_Handler(t *testing.T) {
	server := httptest.NewServer(NewStatus().Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("GET /healthz = %d %q, want 200 OK", resp.StatusCode, body)
	}
}
