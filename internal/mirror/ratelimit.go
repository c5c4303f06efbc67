package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// ErrNonPositiveRate is wrapped by ParseRate for rates that round to zero or
// below.
var ErrNonPositiveRate = errors.New("must be positive")

// NewBWLimiter creates a rate.Limiter that caps aggregate copy throughput to
// bytesPerSec. The burst is 1 MiB so ordinary read sizes pass through
// without extra blocking.
func NewBWLimiter(bytesPerSec int64) (*rate.Limiter, error) {
	if bytesPerSec <= 0 {
		return nil, &ConfigError{Option: "bwlimit", Reason: ErrNonPositiveRate.Error()}
	}
	burst := 1 << 20
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst), nil
}

// ParseRate parses a bandwidth such as "512K", "1.5M/s" or "2048" into
// bytes per second. Suffixes are powers of 1024 and case-insensitive.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	num := strings.TrimSuffix(strings.TrimSuffix(s, "/s"), "/S")
	if num == "" {
		return 0, fmt.Errorf("empty rate")
	}

	multiplier := int64(1)
	switch num[len(num)-1] {
	case 'B', 'b':
	case 'K', 'k':
		multiplier = 1 << 10
	case 'M', 'm':
		multiplier = 1 << 20
	case 'G', 'g':
		multiplier = 1 << 30
	case 'T', 't':
		multiplier = 1 << 40
	default:
		num += "B"
	}
	num = num[:len(num)-1]

	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	n := int64(f * float64(multiplier))
	if !(f > 0) || n <= 0 {
		return 0, fmt.Errorf("rate %q: %w", s, ErrNonPositiveRate)
	}
	return n, nil
}

// checkLimiter rejects limiters that could never admit a byte.
func checkLimiter(l *rate.Limiter) error {
	if l == nil || l.Limit() == rate.Inf {
		return nil
	}
	if l.Burst() <= 0 || l.Limit() <= 0 {
		return &ConfigError{Option: "limiter", Reason: "rate and burst must be positive"}
	}
	return nil
}

// rateLimitedReader throttles reads by a shared limiter.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func newRateLimitedReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil || limiter.Limit() == rate.Inf {
		return r
	}
	return &rateLimitedReader{ctx: ctx, r: r, limiter: limiter}
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := rl.r.Read(p)
	// WaitN rejects requests larger than the burst, so wait in slices.
	for left := n; left > 0; {
		burst := rl.limiter.Burst()
		if burst <= 0 {
			if cerr := checkLimiter(rl.limiter); cerr != nil {
				return n, cerr
			}
			break
		}
		chunk := min(left, burst)
		if waitErr := rl.limiter.WaitN(rl.ctx, chunk); waitErr != nil {
			return n, waitErr
		}
		left -= chunk
	}
	return n, err
}
