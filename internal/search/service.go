package search

import (
	"sync"

	"github.com/rs/zerolog"
)

// Service forwards index updates to the backend in the background. Failures
// are logged and never reach the caller. A nil backend disables indexing.
type Service struct {
	backend Backend
	logger  zerolog.Logger
	pending sync.WaitGroup
}

func NewService(backend Backend, logger zerolog.Logger) *Service {
	return &Service{backend: backend, logger: logger}
}

func (s *Service) enabled() bool {
	return s != nil && s.backend != nil && s.backend.Healthy()
}

// IndexPost adds or updates a post (fire-and-forget).
func (s *Service) IndexPost(post PostRecord) {
	if !s.enabled() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.backend.IndexPosts([]PostRecord{post}); err != nil {
			s.logger.Warn().Err(err).Str("post_id", post.ID).Msg("index post")
		}
	}()
}

// DeletePosts removes posts from the index (fire-and-forget).
func (s *Service) DeletePosts(ids []string) {
	if !s.enabled() || len(ids) == 0 {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		for _, id := range ids {
			if err := s.backend.DeletePost(id); err != nil {
				s.logger.Warn().Err(err).Str("post_id", id).Msg("delete post from index")
			}
		}
	}()
}

// Wait blocks until queued index updates finish.
func (s *Service) Wait() {
	if s != nil {
		s.pending.Wait()
	}
}
