package sim

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mathrand "math/rand"
	"strings"
	"time"
)

// randomSource abstracts the random number generator behind the simulator.
type randomSource interface {
	Float64() (float64, error)
	Int63() (int64, error)
}

type pseudoSource struct {
	rng *mathrand.Rand
}

func newPseudoSource(seed *int64) *pseudoSource {
	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}
	return &pseudoSource{rng: mathrand.New(mathrand.NewSource(s))}
}

func (s *pseudoSource) Float64() (float64, error) {
	return s.rng.Float64(), nil
}

func (s *pseudoSource) Int63() (int64, error) {
	return s.rng.Int63(), nil
}

type secureSource struct{}

func (secureSource) Float64() (float64, error) {
	v, err := secureSource{}.Int63()
	if err != nil {
		return 0, err
	}
	return float64(v) / float64(math.MaxInt64), nil
}

func (secureSource) Int63() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("secure source: %w", err)
	}
	return int64(binary.BigEndian.Uint64(buf[:]) & math.MaxInt64), nil
}

func newRandomSource(name string, seed *int64) (randomSource, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", "pseudo", "math":
		return newPseudoSource(seed), nil
	case "secure", "crypto":
		return secureSource{}, nil
	default:
		return nil, fmt.Errorf("unknown random source %q", name)
	}
}

// intInRange draws uniformly from [min, max] without modulo bias.
func intInRange(src randomSource, min, max int64) (int64, error) {
	if min == max {
		return min, nil
	}
	if max < min {
		return 0, fmt.Errorf("invalid integer range [%d, %d]", min, max)
	}
	span := max - min + 1
	limit := (math.MaxInt64 / span) * span
	for {
		value, err := src.Int63()
		if err != nil {
			return 0, err
		}
		if value < limit {
			return min + value%span, nil
		}
	}
}

func chance(src randomSource, probability float64) (bool, error) {
	if probability <= 0 {
		return false, nil
	}
	if probability >= 1 {
		return true, nil
	}
	sample, err := src.Float64()
	if err != nil {
		return false, err
	}
	return sample < probability, nil
}
