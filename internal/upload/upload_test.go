package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
)

var fixedNow = func() time.Time { return time.UnixMilli(1_700_000_000_123) }

func newHandler(t *testing.T, cfg Config) (*Handler, *metrics.Metrics) {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Now == nil {
		cfg.Now = fixedNow
	}
	m := metrics.New()
	h, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, m
}

type filePart struct {
	field, name, body string
}

func multipartBody(t *testing.T, fields [][2]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = io.WriteString(w, f.body)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func post(h http.Handler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, Route, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestUploadStoresFileAndEchoesFields(t *testing.T) {
	h, m := newHandler(t, Config{})
	body, ct := multipartBody(t,
		[][2]string{{"roomId", "r1"}, {"tag", "a"}, {"tag", "b"}},
		filePart{field: "audio", name: "clip.webm", body: "RIFFdata"},
	)

	rec := post(h, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != msgUploaded {
		t.Fatalf("message=%q", resp.Message)
	}
	if want := "1700000000123-clip.webm"; resp.Filename != want {
		t.Fatalf("filename=%q, want %q", resp.Filename, want)
	}
	if resp.Filepath != filepath.Join(h.Dir(), resp.Filename) {
		t.Fatalf("filepath=%q", resp.Filepath)
	}
	got, err := os.ReadFile(resp.Filepath)
	if err != nil || string(got) != "RIFFdata" {
		t.Fatalf("stored=%q,%v", got, err)
	}
	if resp.Fields["roomId"] != "r1" {
		t.Fatalf("fields=%v", resp.Fields)
	}
	tags, ok := resp.Fields["tag"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("tag field=%#v, want [a b]", resp.Fields["tag"])
	}
	if got := m.Get(metrics.UploadsAccepted); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.UploadsAccepted, got)
	}
}

func TestUploadStripsDirectoriesFromFileName(t *testing.T) {
	h, _ := newHandler(t, Config{})
	body, ct := multipartBody(t, nil, filePart{field: "audio", name: "../../etc/passwd", body: "x"})

	rec := post(h, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d (body=%s)", rec.Code, rec.Body)
	}
	if names := dirEntries(t, h.Dir()); len(names) != 1 || names[0] != "1700000000123-passwd" {
		t.Fatalf("dir=%v", names)
	}
}

func TestUploadRejections(t *testing.T) {
	for _, tc := range []struct {
		name       string
		cfg        Config
		body       func(t *testing.T) (io.Reader, string)
		wantStatus int
		wantMsg    string
	}{
		{
			name: "fields only",
			body: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, [][2]string{{"roomId", "r1"}})
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    msgNoFile,
		},
		{
			name: "not multipart",
			body: func(*testing.T) (io.Reader, string) {
				return strings.NewReader(`{"audio":"x"}`), "application/json"
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    msgNoFile,
		},
		{
			name: "other file field",
			body: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, nil, filePart{field: "video", name: "v.mp4", body: "x"})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "second file",
			body: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, nil,
					filePart{field: "audio", name: "a.webm", body: "a"},
					filePart{field: "audio", name: "b.webm", body: "b"},
				)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "too large",
			cfg:  Config{MaxBytes: 512},
			body: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, nil, filePart{field: "audio", name: "a.webm", body: strings.Repeat("x", 4096)})
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantMsg:    msgTooLarge,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, m := newHandler(t, tc.cfg)
			body, ct := tc.body(t)

			rec := post(h, body, ct)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d, want %d (body=%s)", rec.Code, tc.wantStatus, rec.Body)
			}
			var resp map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp) != 1 || resp["message"] == "" {
				t.Fatalf("body=%v, want only a message", resp)
			}
			if tc.wantMsg != "" && resp["message"] != tc.wantMsg {
				t.Fatalf("message=%q, want %q", resp["message"], tc.wantMsg)
			}
			if names := dirEntries(t, h.Dir()); len(names) != 0 {
				t.Fatalf("rejected upload left files behind: %v", names)
			}
			if got := m.Get(metrics.UploadsRejected); got != 1 {
				t.Fatalf("%s=%d, want 1", metrics.UploadsRejected, got)
			}
		})
	}
}

func TestNewCreatesDirectoryAndUsesFieldName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	h, _ := newHandler(t, Config{Dir: dir, FieldName: "recording"})
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("upload dir not created: %v", err)
	}

	body, ct := multipartBody(t, nil, filePart{field: "recording", name: "r.ogg", body: "x"})
	if rec := post(h, body, ct); rec.Code != http.StatusOK {
		t.Fatalf("status=%d (body=%s)", rec.Code, rec.Body)
	}
}

func TestUploadThroughHTTPServer(t *testing.T) {
	cfg := config.Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		Mode:            config.ModeDev,
		AllowedOrigins:  []string{"https://app.example.com"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{})
	h, _ := newHandler(t, Config{})
	h.Register(srv)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	url := "http://" + ln.Addr().String() + Route

	preflight, _ := http.NewRequest(http.MethodOptions, url, nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(preflight)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("preflight status=%d allow-origin=%q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	body, ct := multipartBody(t, nil, filePart{field: "audio", name: "a.webm", body: "x"})
	req, _ := http.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin status=%d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	body, ct = multipartBody(t, nil, filePart{field: "audio", name: "a.webm", body: "x"})
	resp, err = http.Post(url, ct, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
