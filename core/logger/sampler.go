package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// sampleRate keeps the first keep events of every period. A zero period
// keeps everything.
type sampleRate struct {
	keep   uint64
	period uint64
}

type sampler struct {
	rate atomic.Pointer[sampleRate]
	seen atomic.Uint64
}

func newSampler(rate sampleRate) *sampler {
	s := &sampler{}
	s.Set(rate)
	return s
}

// Set replaces the rate and restarts the period.
func (s *sampler) Set(rate sampleRate) {
	if rate.keep >= rate.period {
		rate = sampleRate{}
	}
	s.rate.Store(&rate)
	s.seen.Store(0)
}

// Allow reports whether the next event passes.
func (s *sampler) Allow() bool {
	rate := s.rate.Load()
	if rate == nil || rate.period == 0 {
		return true
	}
	n := s.seen.Add(1) - 1
	return n%rate.period < rate.keep
}

// parseSampleRate understands "1/50", "50" (one in fifty), "2%" and
// "all"/"off". ok is false for anything else.
func parseSampleRate(raw string) (sampleRate, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "all", "off", "none", "1", "100%":
		return sampleRate{}, true
	}
	if pct, found := strings.CutSuffix(raw, "%"); found {
		v, err := strconv.ParseUint(strings.TrimSpace(pct), 10, 64)
		if err != nil || v == 0 || v > 100 {
			return sampleRate{}, false
		}
		return sampleRate{keep: v, period: 100}, true
	}
	if num, den, found := strings.Cut(raw, "/"); found {
		k, err1 := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
		p, err2 := strconv.ParseUint(strings.TrimSpace(den), 10, 64)
		if err1 != nil || err2 != nil || k == 0 || p == 0 {
			return sampleRate{}, false
		}
		return sampleRate{keep: k, period: p}, true
	}
	p, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || p == 0 {
		return sampleRate{}, false
	}
	return sampleRate{keep: 1, period: p}, true
}
