package radio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// frameMagic starts every frame exchanged with the USB radio modem.
var frameMagic = [2]byte{0x4E, 0x52} // "NR"

// maxFrameSize bounds a modem frame. The largest request is a Write carrying
// a full payload.
const maxFrameSize = 2 + MaxPayloadSize

type readFullFunc func(buf []byte) error

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > maxFrameSize {
		return nil, fmt.Errorf("%w: frame payload of %d bytes", ErrFrame, len(payload))
	}

	frame := make([]byte, 4+len(payload))
	frame[0] = frameMagic[0]
	frame[1] = frameMagic[1]
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload))) //nolint:gosec // bounded above
	copy(frame[4:], payload)
	return frame, nil
}

func readFrame(readFull readFullFunc) ([]byte, error) {
	if err := syncToMagic(readFull); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if err := readFull(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n == 0 || n > maxFrameSize {
		return nil, fmt.Errorf("%w: length %d", ErrFrame, n)
	}

	payload := make([]byte, n)
	if err := readFull(payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// syncToMagic discards bytes until the two magic bytes have been read.
func syncToMagic(readFull readFullFunc) error {
	var b [1]byte
	for {
		if err := readFull(b[:]); err != nil {
			return fmt.Errorf("read frame magic: %w", err)
		}
		if b[0] != frameMagic[0] {
			continue
		}
		if err := readFull(b[:]); err != nil {
			return fmt.Errorf("read frame magic: %w", err)
		}
		if b[0] == frameMagic[1] {
			return nil
		}
	}
}

// readFull fills buf from r, tolerating zero-length reads from a port with a
// read timeout, until ctx is done.
func readFull(ctx context.Context, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
