// Package testutil holds in-memory implementations of the domain ports for
// unit tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
)

type storedObject struct {
	data        []byte
	contentType string
}

// ObjectStore is a map-backed port.ObjectStore and port.MediaSource.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	puts    int
	// FailPuts makes the next n Put calls fail with PutErr.
	FailPuts int
	PutErr   error
	// FailGets makes the next n Get calls fail with GetErr.
	FailGets int
	GetErr   error
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: map[string]storedObject{}}
}

func objectID(bucket, key string) string { return bucket + "/" + key }

func (s *ObjectStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGets > 0 {
		s.FailGets--
		return nil, s.GetErr
	}
	obj, ok := s.objects[objectID(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, port.ErrObjectNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *ObjectStore) Put(_ context.Context, bucket, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts > 0 {
		s.FailPuts--
		return s.PutErr
	}
	s.puts++
	s.objects[objectID(bucket, key)] = storedObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (s *ObjectStore) List(_ context.Context, bucket, prefix string) ([]port.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []port.ObjectInfo
	for id, obj := range s.objects {
		key, ok := strings.CutPrefix(id, bucket+"/")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, port.ObjectInfo{Key: key, Size: int64(len(obj.data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *ObjectStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "memory://" + objectID(bucket, key), nil
}

// ContentType returns the content type an object was stored with.
func (s *ObjectStore) ContentType(bucket, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[objectID(bucket, key)].contentType
}

// Puts counts successful writes.
func (s *ObjectStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// LeaseStore applies the same "missing or not later" rule as the database.
type LeaseStore struct {
	mu       sync.Mutex
	leases   map[string]time.Time
	Renewals []time.Time
}

func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: map[string]time.Time{}}
}

func (l *LeaseStore) Renew(_ context.Context, resourceID string, expiry time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Renewals = append(l.Renewals, expiry)
	if cur, ok := l.leases[resourceID]; ok && cur.After(expiry) {
		return false, nil
	}
	l.leases[resourceID] = expiry
	return true, nil
}

func (l *LeaseStore) Get(_ context.Context, resourceID string) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.leases[resourceID]
	return exp, ok, nil
}

func (l *LeaseStore) DeleteExpired(_ context.Context, now time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var expired []string
	for id, exp := range l.leases {
		if exp.Before(now) {
			expired = append(expired, id)
			delete(l.leases, id)
		}
	}
	sort.Strings(expired)
	return expired, nil
}

type CursorStore struct {
	mu      sync.Mutex
	cursors map[string]int
}

func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: map[string]int{}}
}

func (c *CursorStore) Get(_ context.Context, unitID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[unitID], nil
}

func (c *CursorStore) Put(_ context.Context, unitID string, cursor int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cursor > c.cursors[unitID] {
		c.cursors[unitID] = cursor
	}
	return nil
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
