package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is used when a non-positive chunk size is requested
const DefaultChunkSize = 64 * 1024

// ChunkSource yields byte chunks in order. Next returns io.EOF once the
// sequence is exhausted. A returned chunk is only valid until the next call.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ProgressFunc receives the transferred fraction in [0, 1]
type ProgressFunc func(fraction float64)

// syncer is implemented by sinks that can flush to stable storage (*os.File)
type syncer interface {
	Sync() error
}

// Error reports a failed transfer together with the bytes already written
type Error struct {
	Op      string // "read", "write", "sync" or "close"
	Written int64
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s failed after %d bytes: %v", e.Op, e.Written, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transfer writes every chunk of src to sink in order and calls onProgress
// with received/totalBytes after each chunk. When totalBytes is not positive
// no intermediate progress is reported; a single 1.0 is reported at the end.
// The sink is always closed. On success it is synced first so all bytes are
// durable before Transfer returns.
func Transfer(ctx context.Context, src ChunkSource, totalBytes int64, sink io.WriteCloser, onProgress ProgressFunc) (int64, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	var received int64
	for {
		if err := ctx.Err(); err != nil {
			sink.Close()
			return received, &Error{Op: "read", Written: received, Err: err}
		}

		chunk, err := src.Next(ctx)
		if len(chunk) > 0 {
			n, werr := sink.Write(chunk)
			received += int64(n)
			if werr == nil && n < len(chunk) {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				sink.Close()
				return received, &Error{Op: "write", Written: received, Err: werr}
			}
			if totalBytes > 0 {
				onProgress(fraction(received, totalBytes))
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sink.Close()
			return received, &Error{Op: "read", Written: received, Err: err}
		}
	}

	if s, ok := sink.(syncer); ok {
		if err := s.Sync(); err != nil {
			sink.Close()
			return received, &Error{Op: "sync", Written: received, Err: err}
		}
	}
	if err := sink.Close(); err != nil {
		return received, &Error{Op: "close", Written: received, Err: err}
	}

	if totalBytes <= 0 {
		onProgress(1.0)
	}
	return received, nil
}

func fraction(received, total int64) float64 {
	f := float64(received) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}
