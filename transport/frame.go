// Binary batch framing for byte-stream transports.
//
// A TCP connection is a byte stream with no message boundaries, so each
// batch is wrapped in a fixed 12-byte header followed by a variable body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes.
//
// Frame format:
//
//	0      3  4       8         12
//	┌──────┬──┬───────┬─────────┬────────────────────────┐
//	│magic │v │ count │ bodyLen │ body: count messages,  │
//	│ drp  │01│uint32 │ uint32  │ each uint32 len + text │
//	└──────┴──┴───────┴─────────┴────────────────────────┘
//
// A frame with count == 0 and an empty body is a heartbeat: it keeps the
// connection alive and is dropped by the receiver.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "drp" (duplex-rpc protocol). Rejects non-protocol
// connections before any body bytes are trusted.
const (
	magicByte1 byte = 0x64 // 'd'
	magicByte2 byte = 0x72 // 'r'
	magicByte3 byte = 0x70 // 'p'
	version    byte = 0x01
	headerSize int  = 12 // 3 (magic) + 1 (version) + 4 (count) + 4 (bodyLen)
)

// maxFrameBody bounds a single frame so a corrupt length field cannot make
// the reader allocate gigabytes.
const maxFrameBody = 64 << 20

// encodeFrame writes one batch as a single frame to w. The caller must
// serialize writes if multiple goroutines share w, otherwise frames
// interleave and corrupt the stream.
func encodeFrame(w io.Writer, batch []string) error {
	bodyLen := 0
	for _, msg := range batch {
		bodyLen += 4 + len(msg)
	}

	buf := make([]byte, headerSize+bodyLen)
	buf[0], buf[1], buf[2] = magicByte1, magicByte2, magicByte3
	buf[3] = version
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(batch)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(bodyLen))

	offset := headerSize
	for _, msg := range batch {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg)))
		offset += 4
		copy(buf[offset:], msg)
		offset += len(msg)
	}

	// One Write for header and body: the frame hits the stream atomically
	// with respect to this writer.
	_, err := w.Write(buf)
	return err
}

// decodeFrame reads one complete frame from r and returns its batch.
// Heartbeat frames decode to an empty batch. io.ReadFull guarantees exactly
// N bytes per read, preventing partial-read corruption.
func decodeFrame(r io.Reader) ([]string, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != magicByte1 || header[1] != magicByte2 || header[2] != magicByte3 {
		return nil, fmt.Errorf("transport: invalid magic number: %x", header[0:3])
	}
	if header[3] != version {
		return nil, fmt.Errorf("transport: unsupported version: %d", header[3])
	}

	count := binary.BigEndian.Uint32(header[4:8])
	bodyLen := binary.BigEndian.Uint32(header[8:12])
	if bodyLen > maxFrameBody {
		return nil, fmt.Errorf("transport: frame body too large: %d", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	batch := make([]string, 0, count)
	offset := 0
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(body) {
			return nil, fmt.Errorf("transport: truncated frame body (message %d)", i)
		}
		msgLen := int(binary.BigEndian.Uint32(body[offset : offset+4]))
		offset += 4
		if offset+msgLen > len(body) {
			return nil, fmt.Errorf("transport: truncated frame body (message %d)", i)
		}
		batch = append(batch, string(body[offset:offset+msgLen]))
		offset += msgLen
	}
	return batch, nil
}
