// Package store keeps uploaded documents and generated archives in memory,
// addressed by random keys, until they expire.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mark3labs/specforge/internal/logging"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrFull     = errors.New("store: capacity exceeded")
)

const (
	DefaultTTL         = time.Hour
	DefaultMaxBytes    = 256 << 20
	DefaultSweepPeriod = time.Minute
)

// Blob is a stored value with its metadata.
type Blob struct {
	Key         string
	ContentType string
	Name        string
	Data        []byte
	Created     time.Time
	Expires     time.Time
}

type Options struct {
	// MaxBytes bounds the summed size of all live blobs. Zero means DefaultMaxBytes.
	MaxBytes int64
	// Now overrides the clock.
	Now    func() time.Time
	Logger logging.Logger
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	blobs map[string]*Blob
	used  int64
	max   int64
	now   func() time.Time
	log   logging.Logger
}

func New(opts Options) *Store {
	s := &Store{
		blobs: map[string]*Blob{},
		max:   opts.MaxBytes,
		now:   opts.Now,
		log:   logging.OrNop(opts.Logger),
	}
	if s.max <= 0 {
		s.max = DefaultMaxBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Put stores data for ttl and returns its key. A non-positive ttl means
// DefaultTTL. Expired blobs are swept first when the store is full.
func (s *Store) Put(data []byte, ttl time.Duration, name, contentType string) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	size := int64(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.used+size > s.max {
		s.sweepLocked(now)
	}
	if s.used+size > s.max {
		return "", fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrFull, size, s.used, s.max)
	}

	key := uuid.NewString()
	s.blobs[key] = &Blob{
		Key:         key,
		ContentType: contentType,
		Name:        name,
		Data:        append([]byte(nil), data...),
		Created:     now,
		Expires:     now.Add(ttl),
	}
	s.used += size
	return key, nil
}

// Get returns the blob for key. Expired blobs are reported as not found.
func (s *Store) Get(key string) (*Blob, error) {
	if _, err := uuid.Parse(key); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[key]
	if !ok || !s.now().Before(b.Expires) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return false
	}
	s.used -= int64(len(b.Data))
	delete(s.blobs, key)
	return true
}

// Sweep drops every expired blob and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *Store) sweepLocked(now time.Time) int {
	n := 0
	for k, b := range s.blobs {
		if !now.Before(b.Expires) {
			s.used -= int64(len(b.Data))
			delete(s.blobs, k)
			n++
		}
	}
	return n
}

// Len reports the number of blobs held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// Run sweeps every period until ctx is done.
func (s *Store) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultSweepPeriod
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("swept expired blobs", "count", n)
			}
		}
	}
}
