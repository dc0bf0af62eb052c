package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/sirupsen/logrus"
)

// Roster edits registered identities in the gallery and the identity index
// together. It needs neither a camera nor the face engine.
type Roster struct {
	Gallery *gallery.Gallery
	Index   IdentityIndex
	Log     logrus.FieldLogger
}

func NewRoster(g *gallery.Gallery, index IdentityIndex, log logrus.FieldLogger) *Roster {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = quiet
	}
	return &Roster{Gallery: g, Index: index, Log: log}
}

// notIndexed reports an index miss from either index implementation.
func notIndexed(err error) bool {
	return errors.Is(err, gallery.ErrNotFound) || errors.Is(err, store.ErrNotFound)
}

// Remove deletes name from the gallery and the index. A name known to only
// one of them is still removed; ErrNotFound means neither knew it. When the
// index fails the reference image is restored.
func (r *Roster) Remove(ctx context.Context, name string) error {
	img, err := r.Gallery.Load(name)
	inGallery := err == nil
	if err != nil && !errors.Is(err, gallery.ErrNotFound) {
		return err
	}
	if inGallery {
		if err := r.Gallery.Remove(name); err != nil {
			return err
		}
	}

	err = r.Index.Remove(ctx, name)
	switch {
	case err == nil:
	case notIndexed(err):
		if !inGallery {
			return fmt.Errorf("%w: %s", gallery.ErrNotFound, name)
		}
	default:
		if inGallery {
			if _, rbErr := r.Gallery.Save(name, img, false); rbErr != nil {
				r.Log.WithError(rbErr).Error("failed to restore reference image")
			}
		}
		return fmt.Errorf("index: %w", err)
	}
	return nil
}

// Rename relabels name in the gallery, then in the index. An identity the
// index has not seen yet is fine; reindex or the next start picks it up.
// Any other index failure rolls the gallery back.
func (r *Roster) Rename(ctx context.Context, oldName, newName string) error {
	if err := r.Gallery.Rename(oldName, newName); err != nil {
		return err
	}
	err := r.Index.Rename(ctx, oldName, newName)
	if err == nil || notIndexed(err) {
		return nil
	}
	if rbErr := r.Gallery.Rename(newName, oldName); rbErr != nil {
		r.Log.WithError(rbErr).Error("failed to roll back gallery rename")
	}
	return fmt.Errorf("index: %w", err)
}
