// Package upload implements the audio upload service: a single multipart
// file field stored on local disk.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
)

const (
	Route = "/upload-audio"

	msgUploaded = "Audio file uploaded successfully."
	msgNoFile   = "No file was uploaded."
	msgTooLarge = "Upload exceeds the size limit."

	maxFieldBytes = 64 << 10
)

var (
	errNoFile  = errors.New("no file")
	errBadForm = errors.New("bad form")
)

type Config struct {
	Dir       string
	FieldName string
	MaxBytes  int64
	// Now stamps stored file names; nil means time.Now.
	Now func() time.Time
}

func ConfigFrom(cfg config.Config) Config {
	return Config{Dir: cfg.UploadDir, FieldName: cfg.UploadFieldName, MaxBytes: cfg.UploadMaxBytes}
}

// Response is the 200 body. Fields holds the non-file form values: a string
// for a single value, an array for repeated keys.
type Response struct {
	Message  string         `json:"message"`
	Filename string         `json:"filename"`
	Filepath string         `json:"filepath"`
	Fields   map[string]any `json:"fields"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type Handler struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates the upload directory if needed.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Handler, error) {
	if cfg.Dir == "" {
		cfg.Dir = config.DefaultUploadDir
	}
	if cfg.FieldName == "" {
		cfg.FieldName = config.DefaultUploadFieldName
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = config.DefaultUploadMaxBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if _, err := os.Stat(cfg.Dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
		logger.Info("created upload directory", "dir", cfg.Dir)
	} else if err != nil {
		return nil, fmt.Errorf("stat upload dir: %w", err)
	}
	return &Handler{cfg: cfg, log: logger, metrics: m}, nil
}

// Register mounts POST /upload-audio (and its CORS preflight) on srv.
func (h *Handler) Register(srv *httpserver.Server) {
	srv.HandleCORS(http.MethodPost, Route, h.ServeHTTP)
}

func (h *Handler) Dir() string { return h.cfg.Dir }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBytes)

	resp, err := h.receive(r)
	if err != nil {
		h.metrics.Inc(metrics.UploadsRejected)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.log.Warn("upload rejected: too large", "limit", h.cfg.MaxBytes)
			httpserver.WriteJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Message: msgTooLarge})
		case errors.Is(err, errNoFile):
			h.log.Info("upload rejected: no file")
			httpserver.WriteJSON(w, http.StatusBadRequest, errorResponse{Message: msgNoFile})
		case errors.Is(err, errBadForm):
			h.log.Info("upload rejected", "err", err)
			httpserver.WriteJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		default:
			h.log.Error("upload failed", "err", err)
			httpserver.WriteJSON(w, http.StatusInternalServerError, errorResponse{Message: "upload failed"})
		}
		return
	}

	h.metrics.Inc(metrics.UploadsAccepted)
	h.log.Info("file uploaded", "filename", resp.Filename, "path", resp.Filepath, "fields", len(resp.Fields))
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

// receive streams the multipart body, storing the file part and collecting
// the rest as form fields. A stored file is removed if the request fails
// afterwards.
func (h *Handler) receive(r *http.Request) (resp Response, err error) {
	mr, err := r.MultipartReader()
	if err != nil {
		// Not multipart at all: nothing was uploaded.
		return Response{}, errNoFile
	}

	var stored string
	defer func() {
		if err != nil && stored != "" {
			_ = os.Remove(stored)
		}
	}()

	values := make(map[string][]string)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, err
		}

		if part.FileName() == "" {
			v, err := readField(part)
			if err != nil {
				return Response{}, err
			}
			values[part.FormName()] = append(values[part.FormName()], v)
			continue
		}

		if part.FormName() != h.cfg.FieldName || stored != "" {
			return Response{}, fmt.Errorf("%w: unexpected file field %q", errBadForm, part.FormName())
		}
		name, path, err := h.store(part)
		if err != nil {
			return Response{}, err
		}
		stored = path
		resp.Filename = name
		resp.Filepath = path
	}

	if stored == "" {
		return Response{}, errNoFile
	}
	resp.Message = msgUploaded
	resp.Fields = flattenFields(values)
	return resp, nil
}

func (h *Handler) store(part *multipart.Part) (name, path string, err error) {
	base := filepath.Base(part.FileName())
	if base == "." || base == string(filepath.Separator) || strings.HasPrefix(base, "..") {
		return "", "", errNoFile
	}
	name = fmt.Sprintf("%d-%s", h.cfg.Now().UnixMilli(), base)
	path = filepath.Join(h.cfg.Dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, part); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", "", err
	}
	return name, path, nil
}

func readField(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFieldBytes {
		return "", fmt.Errorf("%w: form field %q too large", errBadForm, part.FormName())
	}
	return string(b), nil
}

func flattenFields(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = vs
		}
	}
	return out
}
