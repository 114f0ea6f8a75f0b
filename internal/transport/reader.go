package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/reveal"
)

// ReaderSource reads newline-delimited JSON frames, e.g. from a file or a
// pipe fed by another process.
type ReaderSource struct {
	r   io.Reader
	log *zap.Logger
}

// NewReaderSource creates a ReaderSource over r.
func NewReaderSource(r io.Reader, logger *zap.Logger) *ReaderSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReaderSource{r: r, log: logger}
}

// Stream reads frames until a terminal frame or EOF. EOF before a done
// frame is reported as a recoverable interruption. Cancellation is checked
// between frames.
func (s *ReaderSource) Stream(ctx context.Context, ing Ingestor) error {
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 0, 4096), MaxFrameBytes)
	codec := JSONCodec{}

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if Deliver(line, codec, ing, s.log) {
			return nil
		}
	}

	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			ferr := &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("line exceeds %d bytes", MaxFrameBytes), Err: err}
			ing.OnError(&reveal.TransportError{Reason: "malformed frame", Fatal: true, Err: ferr})
			return ferr
		}
		ing.OnError(&reveal.TransportError{Reason: "read failed", Err: err})
		return fmt.Errorf("transport: read frames: %w", err)
	}

	ing.OnError(&reveal.TransportError{Reason: "stream interrupted", Err: io.ErrUnexpectedEOF})
	return nil
}
