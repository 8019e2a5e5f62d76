package transfer

import (
	"context"

	"golang.org/x/time/rate"
)

// NewLimiter returns a byte-rate limiter for bytesPerSecond, or nil when the
// rate is not positive. The burst covers at least one chunk.
func NewLimiter(bytesPerSecond int, chunkSize int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := bytesPerSecond
	if chunkSize > burst {
		burst = chunkSize
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

type throttledSource struct {
	src     ChunkSource
	limiter *rate.Limiter
}

// Throttle paces src so that chunks are released at the limiter's byte rate.
// A nil limiter returns src unchanged.
func Throttle(src ChunkSource, limiter *rate.Limiter) ChunkSource {
	if limiter == nil {
		return src
	}
	return &throttledSource{src: src, limiter: limiter}
}

func (t *throttledSource) Next(ctx context.Context) ([]byte, error) {
	chunk, err := t.src.Next(ctx)
	remaining := len(chunk)
	for remaining > 0 {
		n := remaining
		if b := t.limiter.Burst(); n > b {
			n = b
		}
		if werr := t.limiter.WaitN(ctx, n); werr != nil {
			return nil, werr
		}
		remaining -= n
	}
	return chunk, err
}
