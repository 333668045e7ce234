package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 8

	// DefaultChunkSize is the default write/read granularity for chunked mode.
	DefaultChunkSize = 2048

	// DefaultMaxFrameSize bounds the payload a reader will allocate (64 MiB).
	DefaultMaxFrameSize = 64 << 20

	// MaxLogFrameDataSize is the maximum payload kept in a frame log event.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrConnectionInterrupted indicates the peer closed mid-frame.
	ErrConnectionInterrupted = errors.New("connection interrupted")

	// ErrFrameTooLarge indicates a length prefix above the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrReadTimeout indicates a read deadline passed before any byte of
	// the next frame arrived. The stream is still aligned on a frame
	// boundary, so the error is not fatal.
	ErrReadTimeout = errors.New("read timeout")
)

// Mode selects how a frame payload is moved across the socket.
type Mode uint8

const (
	// ModeChunked moves the payload in ChunkSize pieces.
	ModeChunked Mode = iota

	// ModeBlock moves the payload in a single write or read.
	ModeBlock
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeChunked:
		return "CHUNKED"
	case ModeBlock:
		return "BLOCK"
	default:
		return "UNKNOWN"
	}
}

// FrameConfig configures frame readers and writers.
type FrameConfig struct {
	// ChunkSize is the chunked-mode granularity (default 2048).
	ChunkSize int

	// MaxFrameSize is the largest accepted payload (default 64 MiB).
	MaxFrameSize uint64
}

// DefaultFrameConfig returns the default framing configuration.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		ChunkSize:    DefaultChunkSize,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

func (c FrameConfig) withDefaults() FrameConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	return c
}

// Flusher is implemented by buffered writers that need an explicit flush.
type Flusher interface {
	Flush() error
}

// EncodeLength returns the 8-byte big-endian length prefix for n.
func EncodeLength(n uint64) [LengthPrefixSize]byte {
	var b [LengthPrefixSize]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b
}

// ParseLength decodes a length prefix.
//
// A prefix consisting only of ASCII digits and space padding is read as a
// decimal number; anything else is read as a raw big-endian uint64. A raw
// prefix can only look textual when its value exceeds 0x2020202020202020,
// far beyond any acceptable frame size, so the two forms never collide for
// valid frames.
func ParseLength(b []byte) (uint64, error) {
	if len(b) != LengthPrefixSize {
		return 0, fmt.Errorf("length prefix must be %d bytes, got %d", LengthPrefixSize, len(b))
	}
	if n, ok := parseTextLength(b); ok {
		return n, nil
	}
	return binary.BigEndian.Uint64(b), nil
}

func parseTextLength(b []byte) (uint64, bool) {
	digits := bytes.Trim(b, " ")
	if len(digits) == 0 {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	w   io.Writer
	cfg FrameConfig
	mu  sync.Mutex

	// Logging support (optional)
	logger    log.Logger
	sessionID string
	role      log.Role
}

// NewFrameWriter creates a frame writer.
func NewFrameWriter(w io.Writer, cfg FrameConfig) *FrameWriter {
	return &FrameWriter{w: w, cfg: cfg.withDefaults()}
}

// SetLogger configures protocol capture for this writer.
// Pass nil to disable it.
func (fw *FrameWriter) SetLogger(logger log.Logger, sessionID string, role log.Role) {
	fw.logger = logger
	fw.sessionID = sessionID
	fw.role = role
}

// WriteFrame writes the 8-byte length followed by data.
// Thread-safe: concurrent frames never interleave on the wire.
// Any write failure aborts immediately and is returned as a transport error.
func (fw *FrameWriter) WriteFrame(data []byte, mode Mode) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	prefix := EncodeLength(uint64(len(data)))
	if err := fw.write(prefix[:]); err != nil {
		return errs.Transport("write length prefix", err)
	}

	if mode == ModeBlock {
		if len(data) > 0 {
			if err := fw.write(data); err != nil {
				return errs.Transport("write payload", err)
			}
		}
	} else {
		for off := 0; off < len(data); off += fw.cfg.ChunkSize {
			end := min(off+fw.cfg.ChunkSize, len(data))
			if err := fw.write(data[off:end]); err != nil {
				return errs.Transport("write payload chunk", err)
			}
		}
	}

	if fw.logger != nil {
		fw.logger.Log(makeFrameEvent(fw.sessionID, fw.role, data, mode, log.DirectionOut))
	}
	return nil
}

// write writes p fully and flushes a buffered writer.
func (fw *FrameWriter) write(p []byte) error {
	if _, err := fw.w.Write(p); err != nil {
		return err
	}
	if f, ok := fw.w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// FrameReader reads length-prefixed frames from an underlying reader.
type FrameReader struct {
	r         io.Reader
	cfg       FrameConfig
	mu        sync.Mutex
	lengthBuf [LengthPrefixSize]byte

	// Logging support (optional)
	logger    log.Logger
	sessionID string
	role      log.Role
}

// NewFrameReader creates a frame reader.
func NewFrameReader(r io.Reader, cfg FrameConfig) *FrameReader {
	return &FrameReader{r: r, cfg: cfg.withDefaults()}
}

// SetLogger configures protocol capture for this reader.
// Pass nil to disable it.
func (fr *FrameReader) SetLogger(logger log.Logger, sessionID string, role log.Role) {
	fr.logger = logger
	fr.sessionID = sessionID
	fr.role = role
}

// ReadFrame reads one frame and returns its payload.
//
// It returns (nil, io.EOF) when the peer closed before sending any byte of
// the prefix. A close after the first byte yields a framing error wrapping
// ErrConnectionInterrupted; a partial payload is never returned. A read
// deadline that passes before the first byte yields ErrReadTimeout and
// leaves the stream aligned. An empty frame yields a non-nil empty slice.
func (fr *FrameReader) ReadFrame(mode Mode) ([]byte, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if n, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if n == 0 && isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrReadTimeout, err)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errs.Framing("read length prefix", ErrConnectionInterrupted)
		}
		return nil, errs.Transport("read length prefix", err)
	}

	length, err := ParseLength(fr.lengthBuf[:])
	if err != nil {
		return nil, errs.Framing("parse length prefix", err)
	}
	if length > fr.cfg.MaxFrameSize {
		return nil, errs.Framing("read frame", fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.cfg.MaxFrameSize))
	}

	payload := make([]byte, length)
	if mode == ModeBlock {
		err = fr.readBlock(payload)
	} else {
		err = fr.readChunked(payload)
	}
	if err != nil {
		return nil, err
	}

	if fr.logger != nil {
		fr.logger.Log(makeFrameEvent(fr.sessionID, fr.role, payload, mode, log.DirectionIn))
	}
	return payload, nil
}

func (fr *FrameReader) readBlock(payload []byte) error {
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return errs.Framing("read payload", ErrConnectionInterrupted)
		}
		return errs.Transport("read payload", err)
	}
	return nil
}

func (fr *FrameReader) readChunked(payload []byte) error {
	received := 0
	for received < len(payload) {
		end := min(received+fr.cfg.ChunkSize, len(payload))
		n, err := fr.r.Read(payload[received:end])
		received += n
		if received == len(payload) {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				return errs.Framing("read payload chunk", ErrConnectionInterrupted)
			}
			return errs.Transport("read payload chunk", err)
		}
		if n == 0 {
			return errs.Framing("read payload chunk", ErrConnectionInterrupted)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// makeFrameEvent creates a log event for a frame.
func makeFrameEvent(sessionID string, role log.Role, data []byte, mode Mode, direction log.Direction) log.Event {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Direction: direction,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		LocalRole: role,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      frameData,
			Truncated: truncated,
			Block:     mode == ModeBlock,
		},
	}
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter, cfg FrameConfig) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw, cfg),
		FrameWriter: NewFrameWriter(rw, cfg),
	}
}

// NewFramerSplit creates a framer reading from r and writing to w, for
// example a bufio.Reader in front of the same connection.
func NewFramerSplit(r io.Reader, w io.Writer, cfg FrameConfig) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(r, cfg),
		FrameWriter: NewFrameWriter(w, cfg),
	}
}

// SetLogger configures protocol capture for both directions.
func (f *Framer) SetLogger(logger log.Logger, sessionID string, role log.Role) {
	f.FrameReader.SetLogger(logger, sessionID, role)
	f.FrameWriter.SetLogger(logger, sessionID, role)
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
