package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pawconnect/channels/internal/access"
	"pawconnect/channels/internal/identity"
	"pawconnect/channels/internal/objectstore"
	"pawconnect/channels/internal/search"
	"pawconnect/channels/internal/store"
	"pawconnect/channels/internal/util"
)

type CreateChannelInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	ClientEmail string  `json:"client_email"`
}

type ChannelPatch struct {
	Name        Field[string] `json:"name"`
	Description Field[string] `json:"description"`
}

type CreatePostInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type PostPatch struct {
	Title   Field[string] `json:"title"`
	Content Field[string] `json:"content"`
}

type CreateCommentInput struct {
	Content string `json:"content"`
}

type dataStore interface {
	WithTx(context.Context, func(store.Tx) error) error
	Ping(context.Context) error

	InsertChannel(context.Context, store.Channel) (store.Channel, error)
	GetChannel(context.Context, string) (store.Channel, error)
	ListChannelsForPrincipal(context.Context, string) ([]store.Channel, error)
	UpdateChannel(context.Context, store.Channel) (store.Channel, error)

	InsertPost(context.Context, store.Post) (store.Post, error)
	GetPost(context.Context, string) (store.Post, error)
	ListPostsByChannel(context.Context, string) ([]store.Post, error)
	UpdatePost(context.Context, store.Post) (store.Post, error)

	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	ListCommentsByPost(context.Context, string) ([]store.Comment, error)
	DeleteComment(context.Context, string) error

	InsertMedia(context.Context, store.Media) (store.Media, error)
	GetMedia(context.Context, string) (store.Media, error)
	ListMediaByPost(context.Context, string) ([]store.Media, error)
	DeleteMedia(context.Context, string) error

	InsertEvent(context.Context, store.Event) (store.Event, error)
	GetEvent(context.Context, string) (store.Event, error)
	ListEventsByChannel(context.Context, string) ([]store.Event, error)
	UpdateEvent(context.Context, store.Event) (store.Event, error)
	DeleteEvent(context.Context, string) error

	RecordOrphan(context.Context, store.BlobOrphan) error
	ListOrphans(context.Context, int) ([]store.BlobOrphan, error)
	MarkOrphanAttempt(context.Context, string, string) error
	ClearOrphan(context.Context, string) error
}

type objectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (io.ReadCloser, objectstore.ObjectInfo, error)
	Ping(ctx context.Context) error
}

type identityResolver interface {
	Resolve(ctx context.Context, email string) (identity.Identity, error)
}

type postIndexer interface {
	IndexPost(search.PostRecord)
	DeletePosts([]string)
}

type Service struct {
	store    dataStore
	blobs    objectStore
	resolver identityResolver
	index    postIndexer
	logger   zerolog.Logger
	now      func() time.Time
	// cleanupTimeout bounds blob removal that runs after a committed delete.
	cleanupTimeout time.Duration
}

func New(dataStore *store.PostgresStore, blobs *objectstore.Minio, resolver *identity.Resolver, index *search.Service, logger zerolog.Logger) *Service {
	return &Service{
		store:          dataStore,
		blobs:          blobs,
		resolver:       resolver,
		index:          index,
		logger:         logger.With().Str("component", "app").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
		cleanupTimeout: 30 * time.Second,
	}
}

// Ping checks the relational store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingStorage checks the object store.
func (s *Service) PingStorage(ctx context.Context) error {
	return s.blobs.Ping(ctx)
}

// channelFor loads a channel the principal may access.
func (s *Service) channelFor(ctx context.Context, channelID, principal string) (store.Channel, error) {
	if strings.TrimSpace(channelID) == "" {
		return store.Channel{}, notFound()
	}
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return store.Channel{}, lookupErr(err, "get channel")
	}
	if !access.CanAccessChannel(principal, channel) {
		return store.Channel{}, notFound()
	}
	return channel, nil
}

// postFor loads a post through its owning channel.
func (s *Service) postFor(ctx context.Context, postID, principal string) (store.Post, error) {
	if strings.TrimSpace(postID) == "" {
		return store.Post{}, notFound()
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Post{}, lookupErr(err, "get post")
	}
	if _, err := s.channelFor(ctx, post.ChannelID, principal); err != nil {
		return store.Post{}, err
	}
	return post, nil
}

// Channels

func (s *Service) CreateChannel(ctx context.Context, input CreateChannelInput, behaviorist string) (store.Channel, error) {
	if behaviorist == "" {
		return store.Channel{}, notFound()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Channel{}, validationError("name is required")
	}
	resolved, err := s.resolver.Resolve(ctx, input.ClientEmail)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidEmail) {
			return store.Channel{}, validationError("client_email must be a valid email address")
		}
		return store.Channel{}, fmt.Errorf("resolve client: %w", err)
	}

	channel, err := s.store.InsertChannel(ctx, store.Channel{
		ID:            util.NewID(),
		Name:          name,
		Description:   input.Description,
		ClientID:      resolved.ClientID,
		BehavioristID: behaviorist,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return store.Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	s.logger.Info().
		Str("channel_id", channel.ID).
		Bool("client_invited", resolved.Invited).
		Msg("channel created")
	return channel, nil
}

func (s *Service) ListChannels(ctx context.Context, principal string) ([]store.Channel, error) {
	if principal == "" {
		return []store.Channel{}, nil
	}
	channels, err := s.store.ListChannelsForPrincipal(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

func (s *Service) GetChannel(ctx context.Context, channelID, principal string) (store.Channel, error) {
	return s.channelFor(ctx, channelID, principal)
}

func (s *Service) UpdateChannel(ctx context.Context, channelID string, patch ChannelPatch, principal string) (store.Channel, error) {
	channel, err := s.channelFor(ctx, channelID, principal)
	if err != nil {
		return store.Channel{}, err
	}
	if patch.Name.Set {
		name := strings.TrimSpace(patch.Name.Value)
		if patch.Name.Null || name == "" {
			return store.Channel{}, validationError("name cannot be empty")
		}
		channel.Name = name
	}
	channel.Description = applyNullable(channel.Description, patch.Description)
	now := s.now()
	channel.UpdatedAt = &now

	updated, err := s.store.UpdateChannel(ctx, channel)
	if err != nil {
		return store.Channel{}, lookupErr(err, "update channel")
	}
	return updated, nil
}

// DeleteChannel removes the channel with its posts, comments, media and
// events in one transaction. Blob keys are queued in the orphan ledger inside
// that transaction and released once it commits.
func (s *Service) DeleteChannel(ctx context.Context, channelID, principal string) error {
	channel, err := s.channelFor(ctx, channelID, principal)
	if err != nil {
		return err
	}

	var keys, postIDs []string
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		keys, postIDs = nil, nil
		posts, err := tx.ListPostsByChannel(ctx, channel.ID)
		if err != nil {
			return err
		}
		for _, post := range posts {
			postKeys, err := deletePostTree(ctx, tx, post.ID)
			if err != nil {
				return err
			}
			keys = append(keys, postKeys...)
			postIDs = append(postIDs, post.ID)
		}
		if _, err := tx.DeleteEventsByChannel(ctx, channel.ID); err != nil {
			return err
		}
		return tx.DeleteChannel(ctx, channel.ID)
	})
	if err != nil {
		return lookupErr(err, "delete channel")
	}

	s.releaseBlobs(ctx, keys)
	s.index.DeletePosts(postIDs)
	s.logger.Info().
		Str("channel_id", channel.ID).
		Int("posts", len(postIDs)).
		Int("blobs", len(keys)).
		Msg("channel deleted")
	return nil
}

// deletePostTree deletes a post with its comments and media rows and returns
// the blob keys that must be released after commit.
func deletePostTree(ctx context.Context, tx store.Tx, postID string) ([]string, error) {
	media, err := tx.ListMediaByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(media))
	for _, item := range media {
		if err := tx.RecordOrphan(ctx, store.BlobOrphan{
			FilePath: item.FilePath,
			Reason:   store.OrphanReasonCascade,
		}); err != nil {
			return nil, err
		}
		keys = append(keys, item.FilePath)
	}
	if _, err := tx.DeleteMediaByPost(ctx, postID); err != nil {
		return nil, err
	}
	if _, err := tx.DeleteCommentsByPost(ctx, postID); err != nil {
		return nil, err
	}
	if err := tx.DeletePost(ctx, postID); err != nil {
		return nil, err
	}
	return keys, nil
}

// releaseBlobs removes blobs whose rows are already gone. Keys that fail stay
// in the orphan ledger for the sweeper.
func (s *Service) releaseBlobs(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
	defer cancel()
	for _, key := range keys {
		s.releaseBlob(ctx, key)
	}
}

func (s *Service) releaseBlob(ctx context.Context, key string) bool {
	if err := s.blobs.Remove(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("file_path", key).Msg("blob removal deferred to sweeper")
		if markErr := s.store.MarkOrphanAttempt(ctx, key, err.Error()); markErr != nil {
			s.logger.Error().Err(markErr).Str("file_path", key).Msg("mark orphan attempt")
		}
		return false
	}
	if err := s.store.ClearOrphan(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("file_path", key).Msg("clear orphan")
	}
	return true
}

// Posts

func (s *Service) CreatePost(ctx context.Context, channelID string, input CreatePostInput, principal string) (store.Post, error) {
	channel, err := s.channelFor(ctx, channelID, principal)
	if err != nil {
		return store.Post{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Post{}, validationError("title is required")
	}
	post, err := s.store.InsertPost(ctx, store.Post{
		ID:        util.NewID(),
		ChannelID: channel.ID,
		Title:     title,
		Content:   input.Content,
		AuthorID:  principal,
		CreatedAt: s.now(),
	})
	if err != nil {
		return store.Post{}, fmt.Errorf("insert post: %w", err)
	}
	s.index.IndexPost(postRecord(post))
	return post, nil
}

func (s *Service) ListPosts(ctx context.Context, channelID, principal string) ([]store.Post, error) {
	channel, err := s.channelFor(ctx, channelID, principal)
	if err != nil {
		return nil, err
	}
	posts, err := s.store.ListPostsByChannel(ctx, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

func (s *Service) GetPost(ctx context.Context, postID, principal string) (store.Post, error) {
	return s.postFor(ctx, postID, principal)
}

// UpdatePost is limited to the post's author.
func (s *Service) UpdatePost(ctx context.Context, postID string, patch PostPatch, principal string) (store.Post, error) {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return store.Post{}, err
	}
	if !access.IsCreator(principal, post.AuthorID) {
		return store.Post{}, notFound()
	}
	if patch.Title.Set {
		title := strings.TrimSpace(patch.Title.Value)
		if patch.Title.Null || title == "" {
			return store.Post{}, validationError("title cannot be empty")
		}
		post.Title = title
	}
	if patch.Content.Set {
		if patch.Content.Null {
			return store.Post{}, validationError("content cannot be null")
		}
		post.Content = patch.Content.Value
	}
	now := s.now()
	post.UpdatedAt = &now

	updated, err := s.store.UpdatePost(ctx, post)
	if err != nil {
		return store.Post{}, lookupErr(err, "update post")
	}
	s.index.IndexPost(postRecord(updated))
	return updated, nil
}

// DeletePost removes the post, its comments and its media. Only the author
// may delete it.
func (s *Service) DeletePost(ctx context.Context, postID, principal string) error {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return err
	}
	if !access.IsCreator(principal, post.AuthorID) {
		return notFound()
	}

	var keys []string
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		keys, err = deletePostTree(ctx, tx, post.ID)
		return err
	})
	if err != nil {
		return lookupErr(err, "delete post")
	}
	s.releaseBlobs(ctx, keys)
	s.index.DeletePosts([]string{post.ID})
	return nil
}

func postRecord(post store.Post) search.PostRecord {
	return search.PostRecord{
		ID:        post.ID,
		ChannelID: post.ChannelID,
		Title:     post.Title,
		Content:   post.Content,
		AuthorID:  post.AuthorID,
	}
}

// Comments

func (s *Service) CreateComment(ctx context.Context, postID string, input CreateCommentInput, principal string) (store.Comment, error) {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return store.Comment{}, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return store.Comment{}, validationError("content is required")
	}
	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:        util.NewID(),
		PostID:    post.ID,
		Content:   input.Content,
		AuthorID:  principal,
		CreatedAt: s.now(),
	})
	if err != nil {
		return store.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *Service) ListComments(ctx context.Context, postID, principal string) ([]store.Comment, error) {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListCommentsByPost(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *Service) DeleteComment(ctx context.Context, postID, commentID, principal string) error {
	post, err := s.postFor(ctx, postID, principal)
	if err != nil {
		return err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return lookupErr(err, "get comment")
	}
	if comment.PostID != post.ID || !access.IsCreator(principal, comment.AuthorID) {
		return notFound()
	}
	if err := s.store.DeleteComment(ctx, comment.ID); err != nil {
		return lookupErr(err, "delete comment")
	}
	return nil
}
