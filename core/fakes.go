package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/arhunt/model"
)

// FlatSurface reports a single horizontal plane everywhere.
type FlatSurface struct {
	Height float64
}

// Query implements SurfaceDetector.
func (s FlatSurface) Query(x, z, viewerHeight float64) (float64, bool) {
	return s.Height, true
}

// NoSurface never detects anything.
type NoSurface struct{}

// Query implements SurfaceDetector.
func (NoSurface) Query(x, z, viewerHeight float64) (float64, bool) {
	return 0, false
}

// RecordingRenderer keeps every placed visual in memory.
type RecordingRenderer struct {
	mu      sync.Mutex
	next    model.Handle
	live    map[model.Handle]string
	placed  int
	removed int
}

// NewRecordingRenderer constructs an empty renderer.
func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{live: make(map[model.Handle]string)}
}

// Place implements Renderer.
func (r *RecordingRenderer) Place(id string, pos model.LocalPosition, spec model.VisualSpec) model.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.live[r.next] = id
	r.placed++
	return r.next
}

// Remove implements Renderer.
func (r *RecordingRenderer) Remove(h model.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h]; ok {
		delete(r.live, h)
		r.removed++
	}
}

// Live returns the IDs currently drawn, sorted.
func (r *RecordingRenderer) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.live))
	for _, id := range r.live {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Counts returns how many visuals were placed and removed.
func (r *RecordingRenderer) Counts() (placed, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.placed, r.removed
}

// InstantEffect completes immediately and counts invocations per ID.
type InstantEffect struct {
	mu    sync.Mutex
	plays map[string]int
}

// Play implements DiscoveryEffect.
func (e *InstantEffect) Play(id string) <-chan struct{} {
	e.mu.Lock()
	if e.plays == nil {
		e.plays = make(map[string]int)
	}
	e.plays[id]++
	e.mu.Unlock()

	done := make(chan struct{})
	close(done)
	return done
}

// Plays returns how many times the effect ran for id.
func (e *InstantEffect) Plays(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plays[id]
}

// DelayedEffect completes after a fixed duration of wall time.
type DelayedEffect struct {
	Duration time.Duration
}

// Play implements DiscoveryEffect.
func (e DelayedEffect) Play(id string) <-chan struct{} {
	done := make(chan struct{})
	time.AfterFunc(e.Duration, func() { close(done) })
	return done
}

// MemorySource is an in-memory CandidateSource.
type MemorySource struct {
	mu         sync.RWMutex
	candidates map[string]model.PlacementCandidate
	corrected  map[string]model.GeoPoint
}

// NewMemorySource seeds a source with candidates.
func NewMemorySource(cands ...model.PlacementCandidate) *MemorySource {
	s := &MemorySource{
		candidates: make(map[string]model.PlacementCandidate),
		corrected:  make(map[string]model.GeoPoint),
	}
	for _, c := range cands {
		s.candidates[c.ID] = c
	}
	return s
}

// Put adds or replaces a candidate.
func (s *MemorySource) Put(c model.PlacementCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ID] = c
}

// Upsert adds or replaces a candidate.
func (s *MemorySource) Upsert(ctx context.Context, c model.PlacementCandidate) error {
	s.Put(c)
	return nil
}

// Get returns a candidate by ID.
func (s *MemorySource) Get(id string) (model.PlacementCandidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	return c, ok
}

// Corrected returns the last GPS correction written for id.
func (s *MemorySource) Corrected(id string) (model.GeoPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.corrected[id]
	return g, ok
}

// List implements CandidateSource. Results are sorted by ID.
func (s *MemorySource) List(ctx context.Context) ([]model.PlacementCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PlacementCandidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveLocalPosition implements CandidateSource.
func (s *MemorySource) SaveLocalPosition(ctx context.Context, id string, stored model.StoredLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("candidate %q: %w", id, model.ErrObjectNotFound)
	}
	c.Stored = &stored
	s.candidates[id] = c
	return nil
}

// SaveCorrectedGPS implements CandidateSource.
func (s *MemorySource) SaveCorrectedGPS(ctx context.Context, id string, corrected model.GeoPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[id]; !ok {
		return fmt.Errorf("candidate %q: %w", id, model.ErrObjectNotFound)
	}
	s.corrected[id] = corrected
	return nil
}

// SetCollected implements CandidateSource.
func (s *MemorySource) SetCollected(ctx context.Context, id string, collected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("candidate %q: %w", id, model.ErrObjectNotFound)
	}
	c.Collected = collected
	s.candidates[id] = c
	return nil
}
