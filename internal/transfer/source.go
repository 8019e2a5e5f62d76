package transfer

import (
	"context"
	"errors"
	"io"
)

// readerSource adapts an io.Reader into a ChunkSource reusing one buffer
type readerSource struct {
	r   io.Reader
	buf []byte
	eof bool
}

// ReaderChunks reads r in chunks of at most size bytes
func ReaderChunks(r io.Reader, size int) ChunkSource {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &readerSource{r: r, buf: make([]byte, size)}
}

func (s *readerSource) Next(ctx context.Context) ([]byte, error) {
	if s.eof {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for {
		n, err := s.r.Read(s.buf)
		if errors.Is(err, io.EOF) {
			s.eof = true
			if n > 0 {
				return s.buf[:n], nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return s.buf[:n], err
		}
		if n > 0 {
			return s.buf[:n], nil
		}
	}
}

// sliceSource serves a fixed list of chunks
type sliceSource struct {
	chunks [][]byte
	pos    int
}

// SliceChunks returns a ChunkSource over pre-built chunks
func SliceChunks(chunks ...[]byte) ChunkSource {
	return &sliceSource{chunks: chunks}
}

func (s *sliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}
