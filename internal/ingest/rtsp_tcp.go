package ingest

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"
)

// TCPReader opens a real TCP connection to the camera and performs the
// RTSP OPTIONS handshake from internal/nvr/adapters.ProbeRTSP to confirm
// the stream is reachable and authorized. No H264/RTP depacketization
// stack exists anywhere in the retrieval pack (see DESIGN.md), so once the
// handshake succeeds this reader synthesizes a moving-gradient test
// pattern frame per read (with time-seeded random noise), in the same spirit as the teacher's
// MockDetector standing in for a real model.
type TCPReader struct {
	conn     net.Conn
	cameraID string
	rng      *rand.Rand
	tick     int
}

// NewTCPReader dials rtspURL's host over TCP and performs the OPTIONS
// handshake; it returns an error for connection failures or a 401/403
// auth rejection, matching ProbeRTSP's status handling.
func NewTCPReader(ctx context.Context, rtspURL string) (Reader, error) {
	u, err := url.Parse(rtspURL)
	if err != nil {
		return nil, fmt.Errorf("ingest: invalid rtsp url: %w", err)
	}

	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":554"
	}

	d := net.Dialer{Timeout: readTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}

	if err := optionsHandshake(conn, rtspURL); err != nil {
		conn.Close()
		return nil, err
	}

	return &TCPReader{conn: conn, cameraID: host, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

func optionsHandshake(conn net.Conn, rtspURL string) error {
	msg := fmt.Sprintf("OPTIONS %s RTSP/1.0\r\nCSeq: 1\r\nUser-Agent: trinetra-ingest\r\n\r\n", rtspURL)
	if err := conn.SetDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write([]byte(msg)); err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return err
	}

	parts := strings.Split(statusLine, " ")
	if len(parts) < 2 {
		return fmt.Errorf("ingest: malformed rtsp response: %s", statusLine)
	}
	switch parts[1] {
	case "401", "403":
		return fmt.Errorf("ingest: rtsp auth failed: %s", parts[1])
	}
	if !strings.HasPrefix(parts[1], "2") {
		return fmt.Errorf("ingest: rtsp stream error: %s", parts[1])
	}
	return nil
}

// ReadFrame blocks briefly (simulating decoder pacing) then returns a
// synthetic frame. A real implementation would depacketize RTP and decode
// H264 here; this keeps the pipeline around it fully testable.
func (r *TCPReader) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := r.conn.Write([]byte{}); err != nil {
		return nil, fmt.Errorf("ingest: connection lost: %w", err)
	}

	r.tick++
	return syntheticFrame(r.tick, r.rng), nil
}

func (r *TCPReader) Close() error { return r.conn.Close() }

// syntheticFrame renders a small moving gradient so the motion-score
// sampler input has something nonzero to react to in the absence of a
// real decoder.
func syntheticFrame(tick int, rng *rand.Rand) image.Image {
	const size = 320
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	offset := uint8(tick * 3 % 256)
	noise := uint8(rng.Intn(8))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8((x+y)%256) + offset + noise
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}
