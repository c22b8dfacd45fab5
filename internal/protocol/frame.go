package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize длина префикса кадра
	HeaderSize = 4
	// MaxFrameSize максимальный размер полезной нагрузки кадра
	MaxFrameSize = 64 * 1024
	// MaxDiscardSize предел, до которого слишком большой кадр вычитывается и пропускается
	MaxDiscardSize = 16 * 1024 * 1024
)

var (
	// ErrFrameTooLarge кадр пропущен целиком, поток можно читать дальше
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrFrameOverflow длина кадра вне разумных пределов, поток рассинхронизирован
	ErrFrameOverflow = errors.New("frame length overflow")
)

// ReadFrame читает один кадр: 4 байта длины big-endian, затем payload.
// Кадр больше MaxFrameSize вычитывается и отбрасывается с ErrFrameTooLarge.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxDiscardSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameOverflow, size)
	}
	if size > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame записывает кадр одним буфером
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
