package transport

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

const stompVersion = "1.2"

// decodeFrame parses one WebSocket message as a STOMP frame. A message made
// only of end-of-line bytes is a heartbeat and yields a nil frame.
func decodeFrame(data []byte) (*frame.Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("decoding stomp frame: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("decoding stomp frame: empty command")
	}
	return f, nil
}

// encodeFrame renders f in STOMP wire format, NUL terminated.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

func connectFrame(host, token string, heartbeat time.Duration) *frame.Frame {
	hb := strconv.FormatInt(heartbeat.Milliseconds(), 10)
	f := frame.New(frame.CONNECT,
		"accept-version", stompVersion,
		"host", host,
		"heart-beat", hb+","+hb,
	)
	if token != "" {
		f.Header.Add("Authorization", "Bearer "+token)
	}
	return f
}

func subscribeFrame(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		"id", id,
		"destination", destination,
		"ack", "auto",
	)
}

func disconnectFrame() *frame.Frame {
	return frame.New(frame.DISCONNECT)
}

// negotiateHeartbeat applies the STOMP heart-beat rules to our interval and
// the server's "cx,cy" header. Zero on either side disables that direction.
func negotiateHeartbeat(ours time.Duration, header string) (outgoing, incoming time.Duration) {
	sx, sy := parseHeartbeat(header)
	if ours > 0 && sy > 0 {
		outgoing = max(ours, sy)
	}
	if ours > 0 && sx > 0 {
		incoming = max(ours, sx)
	}
	return outgoing, incoming
}

func parseHeartbeat(header string) (sx, sy time.Duration) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return 0, 0
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}
