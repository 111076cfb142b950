// Package web serves the capture widget on localhost: the live preview as
// MJPEG, the controls as plain HTML forms and the latest artifacts.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/app"
	"github.com/petems/capture-tray/internal/artifact"
	"github.com/petems/capture-tray/internal/capture"
	"github.com/petems/capture-tray/internal/media"
	"github.com/petems/capture-tray/internal/preview"
)

const (
	defaultFrameInterval = 100 * time.Millisecond
	shutdownTimeout      = 2 * time.Second
)

// Widget is what the page drives. *app.App implements it.
type Widget interface {
	View() app.View
	Preview() *preview.Preview
	CaptureImage(ctx context.Context) (*artifact.Artifact, error)
	SaveImage(ctx context.Context) (*artifact.Artifact, error)
	ToggleVideoRecording(ctx context.Context) error
	SaveVideo(ctx context.Context) (*artifact.Artifact, error)
	ToggleAudioRecording(ctx context.Context) error
	SwitchCamera(ctx context.Context) (media.FacingMode, error)
}

type Options struct {
	Addr string
	// Width and Height size the preview element.
	Width         int
	Height        int
	FrameInterval time.Duration
	Logger        zerolog.Logger
}

type Server struct {
	widget Widget
	opts   Options
	log    zerolog.Logger
	mux    *http.ServeMux

	mu   sync.Mutex
	addr string
}

func New(w Widget, opts Options) *Server {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaultFrameInterval
	}
	s := &Server{widget: w, opts: opts, log: opts.Logger, addr: opts.Addr}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{$}", s.handlePage)
	s.mux.HandleFunc("GET /state.json", s.handleState)
	s.mux.HandleFunc("GET /preview.mjpeg", s.handlePreview)
	s.mux.HandleFunc("GET /artifacts/{kind}", s.handleArtifact)
	s.mux.HandleFunc("POST /actions/{action}", s.handleAction)
}

// Handler serves every route behind localGuard.
func (s *Server) Handler() http.Handler {
	return localGuard(s.mux)
}

// localGuard rejects requests that did not come from a page served by this
// server. The Host check stops DNS rebinding; the Origin and Sec-Fetch-Site
// checks stop other sites from posting forms to the actions.
func localGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAllowedHost(r.Host) {
			http.Error(w, "invalid Host header", http.StatusForbidden)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" && !isSameOrigin(origin, r.Host) {
			http.Error(w, "forbidden: invalid origin", http.StatusForbidden)
			return
		}
		if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
			http.Error(w, "forbidden: cross-site request", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedHost accepts localhost, 127.0.0.1 and [::1] on any port, and an
// empty Host from HTTP/1.0 clients.
func isAllowedHost(host string) bool {
	if host == "" {
		return true
	}
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	hostname = strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// isSameOrigin reports whether origin names the host the request was sent to.
// Browsers send "null" from sandboxed frames and file: pages.
func isSameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// URL returns the page address. After ListenAndServe has bound, it reflects
// the actual port.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "http://" + s.addr + "/"
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
	}()

	s.log.Info().Str("url", s.URL()).Msg("Preview page listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type pageData struct {
	View     app.View
	Width    int
	Height   int
	ImageURL template.URL
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	v := s.widget.View()
	data := pageData{View: v, Width: s.opts.Width, Height: s.opts.Height}
	if v.Image != nil {
		// data: URLs are filtered by html/template unless marked safe.
		data.ImageURL = template.URL(v.Image.DataURL())
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to render page")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

type stateResponse struct {
	Granted          bool   `json:"granted"`
	Message          string `json:"message,omitempty"`
	State            string `json:"state"`
	Kind             string `json:"kind,omitempty"`
	Facing           string `json:"facing"`
	Live             bool   `json:"live"`
	Chunks           int    `json:"chunks"`
	SaveVideoVisible bool   `json:"save_video_visible"`
	IncludeAudio     bool   `json:"include_audio"`
	OutputDir        string `json:"output_dir"`
	Image            string `json:"image,omitempty"`
	Video            string `json:"video,omitempty"`
	Audio            string `json:"audio,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	v := s.widget.View()
	resp := stateResponse{
		Granted:          v.ControlsVisible(),
		Message:          v.Message(),
		State:            v.State.String(),
		Facing:           string(v.Facing),
		Live:             v.Live,
		Chunks:           v.Chunks,
		SaveVideoVisible: v.SaveVideoVisible,
		IncludeAudio:     v.IncludeAudio,
		OutputDir:        v.OutputDir,
		Image:            artifactPath(v.Image),
		Video:            artifactPath(v.Video),
		Audio:            artifactPath(v.Audio),
	}
	if v.State == capture.StateRecording {
		resp.Kind = v.Kind.String()
	}
	jsonResponse(w, http.StatusOK, resp)
}

func artifactPath(a *artifact.Artifact) string {
	if a == nil {
		return ""
	}
	return a.Path
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !s.widget.View().ControlsVisible() {
		http.Error(w, "camera not available", http.StatusServiceUnavailable)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	flusher, _ := w.(http.Flusher)

	err := s.widget.Preview().Frames(r.Context(), s.opts.FrameInterval, func(frame []byte) error {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {media.MimeImageJPEG},
			"Content-Length": {strconv.Itoa(len(frame))},
		})
		if err != nil {
			return err
		}
		if _, err := part.Write(frame); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug().Err(err).Msg("Preview stream ended")
	}
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	v := s.widget.View()
	var a *artifact.Artifact
	switch r.PathValue("kind") {
	case "image":
		a = v.Image
	case "video":
		a = v.Video
	case "audio":
		a = v.Audio
	default:
		http.NotFound(w, r)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", a.Name))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, a.Name, time.Time{}, bytes.NewReader(a.Data))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := r.PathValue("action")

	var err error
	switch action {
	case "capture-image":
		_, err = s.widget.CaptureImage(ctx)
	case "save-image":
		_, err = s.widget.SaveImage(ctx)
	case "toggle-video":
		err = s.widget.ToggleVideoRecording(ctx)
	case "save-video":
		_, err = s.widget.SaveVideo(ctx)
	case "toggle-audio":
		err = s.widget.ToggleAudioRecording(ctx)
	case "switch-camera":
		_, err = s.widget.SwitchCamera(ctx)
	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("Action failed")
	}
	if r.Header.Get("Accept") == "application/json" {
		status := http.StatusOK
		resp := map[string]string{"action": action}
		if err != nil {
			status = actionStatus(err)
			resp["error"] = err.Error()
		}
		jsonResponse(w, status, resp)
		return
	}
	// The page shows the outcome through the error slot.
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, media.ErrCapabilityMissing), errors.Is(err, media.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, media.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, media.ErrStreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}
