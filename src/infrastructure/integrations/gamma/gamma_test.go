package gamma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStartGenerationRequest(t *testing.T) {
	var captured struct {
		path    string
		apiKey  string
		request generateRequest
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.apiKey = r.Header.Get("X-API-KEY")
		if err := json.NewDecoder(r.Body).Decode(&captured.request); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gen-1","status":"pending"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", nil)
	result, err := client.StartGeneration(context.Background(), "# Title\nline\n## Section\nmore")
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}

	if captured.path != "/generations" {
		t.Errorf("path = %q, want /generations", captured.path)
	}
	if captured.apiKey != "secret-key" {
		t.Errorf("X-API-KEY = %q", captured.apiKey)
	}
	if captured.request.TextMode != "preserve" || captured.request.Format != "document" {
		t.Errorf("request = %+v, want preserve/document", captured.request)
	}
	if captured.request.ExportAs != "pdf" {
		t.Errorf("ExportAs = %q, want pdf", captured.request.ExportAs)
	}
	if !strings.Contains(captured.request.InputText, "\n---\n# Title") {
		t.Errorf("headings not promoted to card breaks: %q", captured.request.InputText)
	}
	if !strings.Contains(captured.request.InputText, "\n---\n## Section") {
		t.Errorf("subheadings not promoted to card breaks: %q", captured.request.InputText)
	}

	if result.GenerationID != "gen-1" || result.Status != "pending" {
		t.Errorf("result = %+v", result)
	}
}

func TestPollStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus string
		wantExport string
	}{
		{
			name:       "completed with export url",
			body:       `{"id":"gen-1","status":"completed","gammaUrl":"https://gamma.app/docs/x","exportUrls":{"pdf":"https://cdn.gamma.app/x.pdf"}}`,
			wantStatus: "completed",
			wantExport: "https://cdn.gamma.app/x.pdf",
		},
		{
			name:       "missing status defaults to pending",
			body:       `{"id":"gen-1"}`,
			wantStatus: "pending",
		},
		{
			name:       "failed carries error",
			body:       `{"id":"gen-1","status":"failed","error":"render error"}`,
			wantStatus: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/generations/gen-1" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "secret-key", nil)
			result, err := client.PollStatus(context.Background(), "gen-1")
			if err != nil {
				t.Fatalf("PollStatus() error = %v", err)
			}
			if result.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", result.Status, tt.wantStatus)
			}
			if result.ExportURL != tt.wantExport {
				t.Errorf("ExportURL = %q, want %q", result.ExportURL, tt.wantExport)
			}
		})
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := NewClient("http://localhost:0", "", nil)
	if _, err := client.StartGeneration(context.Background(), "# x"); err == nil {
		t.Error("StartGeneration() with no api key should fail")
	}
	if _, err := client.PollStatus(context.Background(), "gen-1"); err == nil {
		t.Error("PollStatus() with no api key should fail")
	}
}

func TestAPIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"invalid key"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key", nil)
	_, err := client.PollStatus(context.Background(), "gen-1")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("PollStatus() error = %v, want 403 api error", err)
	}
}
