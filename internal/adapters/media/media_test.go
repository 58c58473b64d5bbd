package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// writeIVF builds a VP8 IVF file with the given frames and a 1ms timebase.
func writeIVF(t *testing.T, frames ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 640)
	binary.LittleEndian.PutUint16(header[14:], 480)
	binary.LittleEndian.PutUint32(header[16:], 1000)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(frames)))
	buf.Write(header)
	for i, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(f)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		buf.Write(fh)
		buf.Write(f)
	}
	path := filepath.Join(t.TempDir(), "in.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestPlayer(t *testing.T) {
	track, err := NewVP8Track("camera")
	require.NoError(t, err)
	p := &Player{Path: writeIVF(t, []byte{0x10, 0x02, 0x00}, []byte{0x11, 0x02, 0x00}), Track: track}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	require.Equal(t, uint64(2), p.Frames())
}

func TestPlayerStopsOnCancel(t *testing.T) {
	track, err := NewVP8Track("camera")
	require.NoError(t, err)
	p := &Player{Path: writeIVF(t, []byte{0x10, 0x02, 0x00}), Track: track, Loop: true}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	require.Positive(t, p.Frames())
}

func TestPlayerMissingFile(t *testing.T) {
	track, err := NewVP8Track("camera")
	require.NoError(t, err)
	p := &Player{Path: filepath.Join(t.TempDir(), "none.ivf"), Track: track}
	require.Error(t, p.Run(context.Background()))
}

func TestRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	vp8 := webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}}

	r, err := NewRecorder(dir, "p2", vp8)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "p2.ivf"), r.Path())

	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, Marker: true, PayloadType: 101, SequenceNumber: 1, Timestamp: 3000, SSRC: 1111},
		Payload: []byte{0x10, 0x00, 0x9d, 0x01, 0x2a},
	}
	require.NoError(t, r.WriteRTP(pkt))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 32)
	require.Equal(t, "DKIF", string(data[:4]))

	_, err = NewRecorder(dir, "audio", webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}})
	require.Error(t, err)
}
