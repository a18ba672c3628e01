package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pawconnect/channels/internal/access"
	"pawconnect/channels/internal/objectstore"
	"pawconnect/channels/internal/store"
	"pawconnect/channels/internal/util"
)

// Upload is a file received for attachment to a post.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachMedia stores the blob before its metadata row. When the row cannot be
// written the blob is left behind and recorded in the orphan ledger, so a
// media row never points at a missing blob.
func (s *Service) AttachMedia(ctx context.Context, postID string, upload Upload, principal string) (store.Media, error) {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return store.Media{}, err
	}
	if upload.Body == nil || upload.Size < 0 {
		return store.Media{}, validationError("file is required")
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := objectstore.NewKey(upload.Filename)
	if err := s.blobs.Put(ctx, key, upload.Body, upload.Size, contentType); err != nil {
		return store.Media{}, storageFailure(err)
	}

	postRef := post.ID
	media, err := s.store.InsertMedia(ctx, store.Media{
		ID:          util.NewID(),
		PostID:      &postRef,
		FilePath:    key,
		ContentType: contentType,
		SizeBytes:   upload.Size,
		CreatedBy:   principal,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.flagOrphan(ctx, key, err)
		return store.Media{}, fmt.Errorf("insert media: %w", err)
	}
	return media, nil
}

func (s *Service) flagOrphan(ctx context.Context, key string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
	defer cancel()
	logger := s.logger.With().Str("file_path", key).Logger()
	if err := s.store.RecordOrphan(ctx, store.BlobOrphan{
		FilePath: key,
		Reason:   store.OrphanReasonAttachFailed,
	}); err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("orphaned blob could not be recorded")
		return
	}
	logger.Warn().Err(cause).Msg("media row not written, blob flagged for cleanup")
}

// mediaFor loads media that belongs to postID. The post access check must
// already have passed.
func (s *Service) mediaFor(ctx context.Context, postID, mediaID string) (store.Media, error) {
	media, err := s.store.GetMedia(ctx, mediaID)
	if err != nil {
		return store.Media{}, lookupErr(err, "get media")
	}
	if media.PostID == nil || *media.PostID != postID {
		return store.Media{}, notFound()
	}
	return media, nil
}

// DetachMedia removes the blob before the row. If removal fails the row is
// kept and the call can be retried.
func (s *Service) DetachMedia(ctx context.Context, postID, mediaID, principal string) error {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return err
	}
	media, err := s.mediaFor(ctx, post.ID, mediaID)
	if err != nil {
		return err
	}
	if !access.IsCreator(principal, media.CreatedBy) {
		return notFound()
	}

	if err := s.blobs.Remove(ctx, media.FilePath); err != nil {
		return storageFailure(err)
	}
	if err := s.store.DeleteMedia(ctx, media.ID); err != nil {
		s.logger.Error().Err(err).
			Str("media_id", media.ID).
			Str("file_path", media.FilePath).
			Msg("blob removed but media row remains")
		return lookupErr(err, "delete media")
	}
	return nil
}

func (s *Service) ListMedia(ctx context.Context, postID, principal string) ([]store.Media, error) {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListMediaByPost(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	return items, nil
}

// OpenMedia returns the blob for download. The caller closes the reader.
func (s *Service) OpenMedia(ctx context.Context, postID, mediaID, principal string) (io.ReadCloser, store.Media, error) {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return nil, store.Media{}, err
	}
	media, err := s.mediaFor(ctx, post.ID, mediaID)
	if err != nil {
		return nil, store.Media{}, err
	}
	body, _, err := s.blobs.Get(ctx, media.FilePath)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			s.logger.Error().Str("media_id", media.ID).Str("file_path", media.FilePath).Msg("media row has no blob")
			return nil, store.Media{}, notFound()
		}
		return nil, store.Media{}, storageFailure(err)
	}
	return body, media, nil
}

// ReapOrphans retries removal of blobs in the orphan ledger and returns how
// many were removed. Entries whose key is still referenced by a media row are
// dropped from the ledger without touching the blob.
func (s *Service) ReapOrphans(ctx context.Context, limit int) (int, error) {
	orphans, err := s.store.ListOrphans(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list orphans: %w", err)
	}
	cleared := 0
	for _, orphan := range orphans {
		if ctx.Err() != nil {
			return cleared, ctx.Err()
		}
		if orphan.Referenced {
			s.logger.Warn().Str("file_path", orphan.FilePath).Msg("orphan entry is referenced by media, keeping blob")
			if err := s.store.ClearOrphan(ctx, orphan.FilePath); err != nil {
				return cleared, fmt.Errorf("clear orphan: %w", err)
			}
			continue
		}
		if s.releaseBlob(ctx, orphan.FilePath) {
			cleared++
		}
	}
	return cleared, nil
}

// RunOrphanSweeper calls ReapOrphans every interval until ctx is done.
func (s *Service) RunOrphanSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleared, err := s.ReapOrphans(ctx, 100)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("orphan sweep failed")
				continue
			}
			if cleared > 0 {
				s.logger.Info().Int("cleared", cleared).Msg("orphaned blobs removed")
			}
		}
	}
}
