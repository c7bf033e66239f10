package video

import (
	"context"
	"io"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// Source produces frames. Open may be retried; Read is called only from
// the capture goroutine; Close is idempotent.
type Source interface {
	Open(ctx context.Context) error
	Read() (*Frame, error)
	Close() error
	String() string
}

// Kind classifies a source reference.
type Kind string

const (
	KindDevice Kind = "device"
	KindRTSP   Kind = "rtsp"
	KindURL    Kind = "url"
	KindFile   Kind = "file"
	KindImage  Kind = "image"
	KindPipe   Kind = "pipe"
)

// Ref is a parsed source reference.
type Ref struct {
	Kind   Kind
	Raw    string
	Device int
}

// Live reports whether the source produces frames in real time. Finite
// sources can be paced instead of dropping frames.
func (r Ref) Live() bool {
	return r.Kind == KindDevice || r.Kind == KindRTSP || r.Kind == KindURL
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
}

// ParseRef classifies ref: a device index, a stream URL, an image or
// video path, or the JSON-lines pipe ("", "-", "stdin", "pipe").
func ParseRef(ref string) Ref {
	ref = strings.TrimSpace(ref)
	switch strings.ToLower(ref) {
	case "", "-", "stdin", "pipe":
		return Ref{Kind: KindPipe, Raw: ref}
	}
	if idx, err := strconv.Atoi(ref); err == nil && idx >= 0 {
		return Ref{Kind: KindDevice, Raw: ref, Device: idx}
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "rtsps://"):
		return Ref{Kind: KindRTSP, Raw: ref}
	case strings.Contains(lower, "://"):
		return Ref{Kind: KindURL, Raw: ref}
	case imageExts[strings.ToLower(filepath.Ext(ref))]:
		return Ref{Kind: KindImage, Raw: ref}
	}
	return Ref{Kind: KindFile, Raw: ref}
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	Username string
	Password string
	// ProbeRTSP verifies an RTSP stream delivers packets before handing
	// it to the decoder.
	ProbeRTSP    bool
	ProbeTimeout time.Duration
	// Stdin feeds the pipe source.
	Stdin io.Reader
}

// NewSource builds the Source for ref.
func NewSource(ref Ref, opts SourceOptions, log *logger.Logger) Source {
	switch ref.Kind {
	case KindPipe:
		return NewPipeSource(opts.Stdin, log)
	case KindImage:
		return NewImageSource(ref.Raw)
	default:
		if ref.Kind == KindRTSP || ref.Kind == KindURL {
			ref.Raw = withCredentials(ref.Raw, opts.Username, opts.Password)
		}
		src := NewCaptureSource(ref, log)
		if ref.Kind == KindRTSP && opts.ProbeRTSP {
			src.probe = &RTSPProbe{Timeout: opts.ProbeTimeout}
		}
		return src
	}
}

// withCredentials adds user info to raw unless it already carries some.
func withCredentials(raw, username, password string) string {
	if username == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User != nil {
		return raw
	}
	u.User = url.UserPassword(username, password)
	return u.String()
}
