package server

import (
	"fmt"
	"net/http"
	"time"
)

// Previewer supplies the latest preview frame as JPEG.
type Previewer interface {
	PreviewJPEG() ([]byte, error)
}

// DefaultFrameInterval paces the MJPEG stream at about 15 FPS.
const DefaultFrameInterval = 66 * time.Millisecond

// StreamHandler serves the live preview as MJPEG.
type StreamHandler struct {
	preview  Previewer
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler for p.
func NewStreamHandler(p Previewer) *StreamHandler {
	return &StreamHandler{preview: p, interval: DefaultFrameInterval}
}

// ServeHTTP streams MJPEG frames until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if jpeg, err := h.preview.PreviewJPEG(); err == nil {
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
			if _, err := w.Write(jpeg); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
