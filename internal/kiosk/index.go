package kiosk

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/recognition"
	"github.com/andresmejia3/facegate/internal/store"
)

// Match is a recognised identity.
type Match struct {
	Name     string
	Distance float64
	// ID is the database row when the index is backed by PostgreSQL.
	ID int
}

// IdentityIndex maps face encodings to registered names.
type IdentityIndex interface {
	Add(ctx context.Context, name string, vec []float64, imagePath string) error
	Remove(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName, newName string) error
	Match(ctx context.Context, vec []float64, tolerance float64) (Match, bool, error)
	RecordLogin(ctx context.Context, m Match, sessionID string) error
}

// ReferenceSkip reports a gallery image that could not be indexed.
type ReferenceSkip struct {
	Name   string
	Reason string
}

// GalleryIndex keeps the encodings of the gallery images in memory.
type GalleryIndex struct {
	idx *recognition.Index
}

func NewGalleryIndex() *GalleryIndex {
	return &GalleryIndex{idx: recognition.NewIndex(0)}
}

// LoadGallery encodes every reference image. Images without a face are
// skipped and reported, like an unreadable reference is in a file-based login.
// progress, if set, is called once per reference.
func LoadGallery(ctx context.Context, g *gallery.Gallery, enc recognition.Encoder, progress func(name string)) (*GalleryIndex, []ReferenceSkip, error) {
	refs, err := g.List()
	if err != nil {
		return nil, nil, err
	}

	gi := NewGalleryIndex()
	var skipped []ReferenceSkip
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if progress != nil {
			progress(ref.Name)
		}

		data, err := g.Load(ref.Name)
		if err != nil {
			skipped = append(skipped, ReferenceSkip{Name: ref.Name, Reason: err.Error()})
			continue
		}
		vec, ok, err := enc.Encode(ctx, data)
		if err != nil {
			return nil, nil, fmt.Errorf("encode reference %s: %w", ref.Name, err)
		}
		if !ok {
			skipped = append(skipped, ReferenceSkip{Name: ref.Name, Reason: "no face detected"})
			continue
		}
		if err := gi.idx.Add(ref.Name, vec); err != nil {
			skipped = append(skipped, ReferenceSkip{Name: ref.Name, Reason: err.Error()})
		}
	}
	return gi, skipped, nil
}

func (g *GalleryIndex) Add(_ context.Context, name string, vec []float64, _ string) error {
	return g.idx.Add(name, vec)
}

func (g *GalleryIndex) Remove(_ context.Context, name string) error {
	if !g.idx.Remove(name) {
		return fmt.Errorf("%w: %s", gallery.ErrNotFound, name)
	}
	return nil
}

func (g *GalleryIndex) Rename(_ context.Context, oldName, newName string) error {
	if !g.idx.Rename(oldName, newName) {
		return fmt.Errorf("%w: %s", gallery.ErrNotFound, oldName)
	}
	return nil
}

func (g *GalleryIndex) Match(_ context.Context, vec []float64, tolerance float64) (Match, bool, error) {
	name, dist, ok := g.idx.Match(vec, tolerance)
	return Match{Name: name, Distance: dist}, ok, nil
}

func (g *GalleryIndex) RecordLogin(context.Context, Match, string) error { return nil }

func (g *GalleryIndex) Len() int { return g.idx.Len() }

// StoreIndex keeps encodings in PostgreSQL.
type StoreIndex struct {
	db *store.Store

	mu           sync.Mutex
	fingerprints map[string]string
}

func NewStoreIndex(db *store.Store) *StoreIndex {
	return &StoreIndex{db: db, fingerprints: make(map[string]string)}
}

// SetFingerprint attaches a content hash to the next Add of name, so
// reindexing can skip unchanged images.
func (s *StoreIndex) SetFingerprint(name, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[name] = fingerprint
}

func (s *StoreIndex) Add(ctx context.Context, name string, vec []float64, imagePath string) error {
	s.mu.Lock()
	fp := s.fingerprints[name]
	delete(s.fingerprints, name)
	s.mu.Unlock()

	_, err := s.db.UpsertIdentity(ctx, store.Identity{Name: name, Embedding: vec, ImagePath: imagePath, Fingerprint: fp})
	return err
}

func (s *StoreIndex) Remove(ctx context.Context, name string) error {
	return s.db.DeleteIdentity(ctx, name)
}

func (s *StoreIndex) Rename(ctx context.Context, oldName, newName string) error {
	return s.db.RenameIdentity(ctx, oldName, newName)
}

func (s *StoreIndex) Match(ctx context.Context, vec []float64, tolerance float64) (Match, bool, error) {
	m, err := s.db.FindClosestIdentity(ctx, vec, tolerance)
	if err != nil {
		return Match{}, false, err
	}
	if m.ID == -1 {
		return Match{Distance: m.Distance}, false, nil
	}
	return Match{Name: m.Name, Distance: m.Distance, ID: m.ID}, true, nil
}

func (s *StoreIndex) RecordLogin(ctx context.Context, m Match, sessionID string) error {
	return s.db.RecordLogin(ctx, m.ID, m.Distance, sessionID)
}
