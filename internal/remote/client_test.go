package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testPaths = Paths{
	Automation: "/config_automacao",
	Status:     "/status_sistema",
	Manual:     "/controle_manual",
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, testPaths, time.Second, 100)
}

func TestClient_AutomationConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/config_automacao" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID header")
		}
		w.Write([]byte(`{"irrigacao":true,"iluminacao":false,"ventilacao":true}`))
	})

	cfg, err := c.AutomationConfig(context.Background())
	if err != nil {
		t.Fatalf("AutomationConfig() error = %v", err)
	}
	want := AutomationConfig{Irrigation: true, Lighting: false, Ventilation: true}
	if *cfg != want {
		t.Errorf("AutomationConfig() = %+v, want %+v", *cfg, want)
	}
}

func TestClient_SystemStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"intensidade_luz":120,"velocidade_ventoinha":0,"nivel_reservatorio_cm":27.5,"outro":1}`))
	})

	status, err := c.SystemStatus(context.Background())
	if err != nil {
		t.Fatalf("SystemStatus() error = %v", err)
	}
	if status.LightLevel != 120 || status.FanSpeed != 0 || status.ReservoirLevelCm != 27.5 {
		t.Errorf("SystemStatus() = %+v", *status)
	}
}

func TestClient_Writes(t *testing.T) {
	tests := []struct {
		name     string
		call     func(c *Client) error
		wantPath string
		wantBody map[string]any
	}{
		{
			name:     "set_automation",
			call:     func(c *Client) error { return c.SetAutomation(context.Background(), SystemIrrigation, false) },
			wantPath: "/config_automacao",
			wantBody: map[string]any{"sistema": "irrigacao", "ativo": false},
		},
		{
			name:     "manual_control",
			call:     func(c *Client) error { return c.ManualControl(context.Background(), SystemLighting, true) },
			wantPath: "/controle_manual",
			wantBody: map[string]any{"sistema": "iluminacao", "ligar": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			var gotBody map[string]any
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q", ct)
				}
				json.NewDecoder(r.Body).Decode(&gotBody)
				w.WriteHeader(http.StatusOK)
			})

			if err := tt.call(c); err != nil {
				t.Fatalf("write error = %v", err)
			}
			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			for k, v := range tt.wantBody {
				if gotBody[k] != v {
					t.Errorf("body[%q] = %v, want %v", k, gotBody[k], v)
				}
			}
		})
	}
}

func TestClient_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device busy", http.StatusServiceUnavailable)
	})

	err := c.SetAutomation(context.Background(), SystemVentilation, true)
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("error = %v, want ErrRemoteRejected", err)
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		t.Error("rejection must not be classified as network failure")
	}
}

func TestClient_MalformedBodyIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	if _, err := c.AutomationConfig(context.Background()); !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("error = %v, want ErrRemoteRejected", err)
	}
}

func TestClient_NetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, testPaths, time.Second, 100)
	err := c.ManualControl(context.Background(), SystemIrrigation, true)
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("error = %v, want ErrNetworkUnavailable", err)
	}
}
