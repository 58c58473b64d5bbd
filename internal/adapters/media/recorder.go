package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/rs/zerolog/log"
)

// Recorder writes one VP8 stream into an IVF file. It is a relay sink.
type Recorder struct {
	path   string
	writer *ivfwriter.IVFWriter
}

func NewRecorder(dir, name string, codec webrtc.RTPCodecParameters) (*Recorder, error) {
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8) {
		return nil, fmt.Errorf("recorder: unsupported codec %s", codec.MimeType)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name+".ivf")
	w, err := ivfwriter.New(path)
	if err != nil {
		return nil, fmt.Errorf("recorder %s: %w", path, err)
	}
	log.Info().Str("module", "adapters.media").Str("file", path).Msg("recording")
	return &Recorder{path: path, writer: w}, nil
}

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) WriteRTP(pkt *rtp.Packet) error { return r.writer.WriteRTP(pkt) }

func (r *Recorder) Close() error {
	log.Info().Str("module", "adapters.media").Str("file", r.path).Msg("recording closed")
	return r.writer.Close()
}
