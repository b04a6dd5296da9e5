package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameLen bounds a single frame read from the network.
const DefaultMaxFrameLen = 1 << 20

// -----------------------------------------------------------------------------

// ReadFrame reads one length-prefixed frame. On a short body the bytes read
// so far are returned together with ErrPartialFrame. A clean EOF before the
// prefix is returned as io.EOF.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if n, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return prefix[:n], fmt.Errorf("%w: length prefix cut after %d bytes", ErrPartialFrame, n)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if maxLen > 0 && uint64(length) > uint64(maxLen) {
		return prefix[:], fmt.Errorf("%w: declared %d, limit %d", ErrFrameTooLarge, length, maxLen)
	}

	buf := make([]byte, LengthPrefixSize+int(length))
	copy(buf, prefix[:])
	n, err := io.ReadFull(r, buf[LengthPrefixSize:])
	if err != nil {
		return buf[:LengthPrefixSize+n], fmt.Errorf("%w: got %d of %d bytes: %v", ErrPartialFrame, n, length, err)
	}
	return buf, nil
}

// -----------------------------------------------------------------------------

// WriteFrame writes an already encoded frame after checking its prefix.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("%w: have %d bytes", ErrShortHeader, len(frame))
	}
	if declared := binary.BigEndian.Uint32(frame); uint64(declared) != uint64(len(frame)-LengthPrefixSize) {
		return fmt.Errorf("length prefix %d does not match frame size %d", declared, len(frame))
	}
	_, err := w.Write(frame)
	return err
}

// -----------------------------------------------------------------------------

// Splitter reassembles frames from a byte stream that may split or merge
// them arbitrarily, such as TCP segments from a capture.
type Splitter struct {
	MaxLen int
	buf    []byte
}

func NewSplitter(maxLen int) *Splitter {
	return &Splitter{MaxLen: maxLen}
}

func (s *Splitter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Next pops the next complete frame. When the buffered prefix declares a
// frame over MaxLen the buffer is dropped, since the stream cannot be
// resynchronised from inside an unknown frame.
func (s *Splitter) Next() ([]byte, bool, error) {
	if len(s.buf) < LengthPrefixSize {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(s.buf)
	if s.MaxLen > 0 && uint64(length) > uint64(s.MaxLen) {
		dropped := len(s.buf)
		s.buf = nil
		return nil, false, fmt.Errorf("%w: declared %d, dropped %d buffered bytes", ErrFrameTooLarge, length, dropped)
	}

	total := LengthPrefixSize + int(length)
	if len(s.buf) < total {
		return nil, false, nil
	}
	frame := make([]byte, total)
	copy(frame, s.buf[:total])
	s.buf = s.buf[total:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return frame, true, nil
}

func (s *Splitter) Buffered() int {
	return len(s.buf)
}

func (s *Splitter) Reset() {
	s.buf = nil
}
