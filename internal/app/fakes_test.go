package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pawconnect/channels/internal/identity"
	"pawconnect/channels/internal/objectstore"
	"pawconnect/channels/internal/search"
	"pawconnect/channels/internal/store"
)

// fakeStore keeps rows in insertion order. WithTx snapshots every table and
// restores the snapshot when fn fails.
type fakeStore struct {
	mu       sync.Mutex
	channels []store.Channel
	posts    []store.Post
	comments []store.Comment
	media    []store.Media
	events   []store.Event
	orphans  []store.BlobOrphan

	insertMediaErr       error
	insertMediaCommitErr error
	deleteChannelErr     error
	pingErr              error
}

type fakeSnapshot struct {
	channels []store.Channel
	posts    []store.Post
	comments []store.Comment
	media    []store.Media
	events   []store.Event
	orphans  []store.BlobOrphan
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	f.mu.Lock()
	snapshot := fakeSnapshot{
		channels: slices.Clone(f.channels),
		posts:    slices.Clone(f.posts),
		comments: slices.Clone(f.comments),
		media:    slices.Clone(f.media),
		events:   slices.Clone(f.events),
		orphans:  slices.Clone(f.orphans),
	}
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.channels = snapshot.channels
		f.posts = snapshot.posts
		f.comments = snapshot.comments
		f.media = snapshot.media
		f.events = snapshot.events
		f.orphans = snapshot.orphans
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func findIndex[T any](items []T, match func(T) bool) int {
	return slices.IndexFunc(items, match)
}

func removeWhere[T any](items []T, match func(T) bool) ([]T, int64) {
	before := len(items)
	items = slices.DeleteFunc(items, match)
	return items, int64(before - len(items))
}

func filter[T any](items []T, match func(T) bool) []T {
	out := make([]T, 0)
	for _, item := range items {
		if match(item) {
			out = append(out, item)
		}
	}
	return out
}

// Channels

func (f *fakeStore) InsertChannel(_ context.Context, item store.Channel) (store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, item)
	return item, nil
}

func (f *fakeStore) GetChannel(_ context.Context, id string) (store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.channels, func(c store.Channel) bool { return c.ID == id })
	if i < 0 {
		return store.Channel{}, store.ErrNotFound
	}
	return f.channels[i], nil
}

func (f *fakeStore) ListChannelsForPrincipal(_ context.Context, principal string) ([]store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.channels, func(c store.Channel) bool {
		return c.BehavioristID == principal || c.ClientID == principal
	}), nil
}

func (f *fakeStore) UpdateChannel(_ context.Context, item store.Channel) (store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.channels, func(c store.Channel) bool { return c.ID == item.ID })
	if i < 0 {
		return store.Channel{}, store.ErrNotFound
	}
	f.channels[i].Name = item.Name
	f.channels[i].Description = item.Description
	f.channels[i].UpdatedAt = item.UpdatedAt
	return f.channels[i], nil
}

func (f *fakeStore) DeleteChannel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteChannelErr != nil {
		return f.deleteChannelErr
	}
	var n int64
	f.channels, n = removeWhere(f.channels, func(c store.Channel) bool { return c.ID == id })
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Posts

func (f *fakeStore) InsertPost(_ context.Context, item store.Post) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, item)
	return item, nil
}

func (f *fakeStore) GetPost(_ context.Context, id string) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.posts, func(p store.Post) bool { return p.ID == id })
	if i < 0 {
		return store.Post{}, store.ErrNotFound
	}
	return f.posts[i], nil
}

func (f *fakeStore) ListPostsByChannel(_ context.Context, channelID string) ([]store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.posts, func(p store.Post) bool { return p.ChannelID == channelID }), nil
}

func (f *fakeStore) UpdatePost(_ context.Context, item store.Post) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.posts, func(p store.Post) bool { return p.ID == item.ID })
	if i < 0 {
		return store.Post{}, store.ErrNotFound
	}
	f.posts[i].Title = item.Title
	f.posts[i].Content = item.Content
	f.posts[i].UpdatedAt = item.UpdatedAt
	return f.posts[i], nil
}

func (f *fakeStore) DeletePost(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	f.posts, n = removeWhere(f.posts, func(p store.Post) bool { return p.ID == id })
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Comments

func (f *fakeStore) InsertComment(_ context.Context, item store.Comment) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, item)
	return item, nil
}

func (f *fakeStore) GetComment(_ context.Context, id string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.comments, func(c store.Comment) bool { return c.ID == id })
	if i < 0 {
		return store.Comment{}, store.ErrNotFound
	}
	return f.comments[i], nil
}

func (f *fakeStore) ListCommentsByPost(_ context.Context, postID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.comments, func(c store.Comment) bool { return c.PostID == postID }), nil
}

func (f *fakeStore) DeleteComment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	f.comments, n = removeWhere(f.comments, func(c store.Comment) bool { return c.ID == id })
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) DeleteCommentsByPost(_ context.Context, postID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	f.comments, n = removeWhere(f.comments, func(c store.Comment) bool { return c.PostID == postID })
	return n, nil
}

// Media

func (f *fakeStore) InsertMedia(_ context.Context, item store.Media) (store.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertMediaErr != nil {
		return store.Media{}, f.insertMediaErr
	}
	f.media = append(f.media, item)
	if f.insertMediaCommitErr != nil {
		return store.Media{}, f.insertMediaCommitErr
	}
	return item, nil
}

func (f *fakeStore) GetMedia(_ context.Context, id string) (store.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.media, func(m store.Media) bool { return m.ID == id })
	if i < 0 {
		return store.Media{}, store.ErrNotFound
	}
	return f.media[i], nil
}

func (f *fakeStore) ListMediaByPost(_ context.Context, postID string) ([]store.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.media, func(m store.Media) bool { return m.PostID != nil && *m.PostID == postID }), nil
}

func (f *fakeStore) DeleteMedia(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	f.media, n = removeWhere(f.media, func(m store.Media) bool { return m.ID == id })
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) DeleteMediaByPost(_ context.Context, postID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	f.media, n = removeWhere(f.media, func(m store.Media) bool { return m.PostID != nil && *m.PostID == postID })
	return n, nil
}

// Events

func (f *fakeStore) InsertEvent(_ context.Context, item store.Event) (store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, item)
	return item, nil
}

func (f *fakeStore) GetEvent(_ context.Context, id string) (store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.events, func(e store.Event) bool { return e.ID == id })
	if i < 0 {
		return store.Event{}, store.ErrNotFound
	}
	return f.events[i], nil
}

func (f *fakeStore) ListEventsByChannel(_ context.Context, channelID string) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.events, func(e store.Event) bool { return e.ChannelID == channelID }), nil
}

func (f *fakeStore) UpdateEvent(_ context.Context, item store.Event) (store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.events, func(e store.Event) bool { return e.ID == item.ID })
	if i < 0 {
		return store.Event{}, store.ErrNotFound
	}
	created := f.events[i]
	item.ChannelID = created.ChannelID
	item.CreatedBy = created.CreatedBy
	item.CreatedAt = created.CreatedAt
	f.events[i] = item
	return item, nil
}

func (f *fakeStore) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	f.events, n = removeWhere(f.events, func(e store.Event) bool { return e.ID == id })
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) DeleteEventsByChannel(_ context.Context, channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	f.events, n = removeWhere(f.events, func(e store.Event) bool { return e.ChannelID == channelID })
	return n, nil
}

// Orphan ledger

func (f *fakeStore) RecordOrphan(_ context.Context, item store.BlobOrphan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if findIndex(f.orphans, func(o store.BlobOrphan) bool { return o.FilePath == item.FilePath }) >= 0 {
		return nil
	}
	f.orphans = append(f.orphans, item)
	return nil
}

func (f *fakeStore) ListOrphans(_ context.Context, limit int) ([]store.BlobOrphan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := slices.Clone(f.orphans)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	for i := range items {
		items[i].Referenced = findIndex(f.media, func(m store.Media) bool { return m.FilePath == items[i].FilePath }) >= 0
	}
	return items, nil
}

func (f *fakeStore) MarkOrphanAttempt(_ context.Context, filePath, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := findIndex(f.orphans, func(o store.BlobOrphan) bool { return o.FilePath == filePath }); i >= 0 {
		f.orphans[i].Attempts++
		f.orphans[i].LastError = lastError
	}
	return nil
}

func (f *fakeStore) ClearOrphan(_ context.Context, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphans, _ = removeWhere(f.orphans, func(o store.BlobOrphan) bool { return o.FilePath == filePath })
	return nil
}

type fakeObject struct {
	data        []byte
	contentType string
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string]fakeObject
	putErr    error
	removeErr error
	pingErr   error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string]fakeObject)}
}

func (b *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = fakeObject{data: data, contentType: contentType}
	return nil
}

func (b *fakeBlobs) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removeErr != nil {
		return b.removeErr
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobs) Get(_ context.Context, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	object, ok := b.objects[key]
	if !ok {
		return nil, objectstore.ObjectInfo{}, objectstore.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(object.data)), objectstore.ObjectInfo{
		Key:         key,
		Size:        int64(len(object.data)),
		ContentType: object.contentType,
	}, nil
}

func (b *fakeBlobs) Ping(context.Context) error { return b.pingErr }

func (b *fakeBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (i *fakeIndexer) IndexPost(post search.PostRecord) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.indexed = append(i.indexed, post.ID)
}

func (i *fakeIndexer) DeletePosts(ids []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleted = append(i.deleted, ids...)
}

type fakeDirectory struct {
	accounts map[string]string
	err      error
}

func (d *fakeDirectory) LookupByEmail(_ context.Context, email string) (identity.Account, bool, error) {
	if d.err != nil {
		return identity.Account{}, false, d.err
	}
	id, ok := d.accounts[strings.ToLower(email)]
	if !ok {
		return identity.Account{}, false, nil
	}
	return identity.Account{ID: id, Email: email}, true, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	emails []string
}

func (n *recordingNotifier) NotifyInvitation(_ context.Context, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, email)
	return errors.New("smtp unavailable")
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.emails)
}

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	svc       *Service
	store     *fakeStore
	blobs     *fakeBlobs
	index     *fakeIndexer
	directory *fakeDirectory
	notifier  *recordingNotifier
	resolver  *identity.Resolver
}

const (
	behaviorist = "behaviorist-1"
	client      = "client-1"
	outsider    = "outsider-1"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     &fakeStore{},
		blobs:     newFakeBlobs(),
		index:     &fakeIndexer{},
		directory: &fakeDirectory{accounts: map[string]string{"client@example.com": client}},
		notifier:  &recordingNotifier{},
	}
	env.resolver = identity.NewResolver(env.directory, env.notifier, zerolog.Nop())
	env.svc = &Service{
		store:          env.store,
		blobs:          env.blobs,
		resolver:       env.resolver,
		index:          env.index,
		logger:         zerolog.Nop(),
		now:            func() time.Time { return fixedNow },
		cleanupTimeout: time.Second,
	}
	t.Cleanup(env.resolver.Wait)
	return env
}

// seedChannel creates a channel owned by behaviorist with client as member.
func (e *testEnv) seedChannel(t *testing.T) store.Channel {
	t.Helper()
	channel, err := e.svc.CreateChannel(context.Background(), CreateChannelInput{
		Name:        "Leash training",
		ClientEmail: "client@example.com",
	}, behaviorist)
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	return channel
}

func (e *testEnv) seedPost(t *testing.T, channelID, author string) store.Post {
	t.Helper()
	post, err := e.svc.CreatePost(context.Background(), channelID, CreatePostInput{
		Title:   "Week 1",
		Content: "Loose-leash walking",
	}, author)
	if err != nil {
		t.Fatalf("seed post: %v", err)
	}
	return post
}

func (e *testEnv) attach(t *testing.T, postID, principal, filename, content string) store.Media {
	t.Helper()
	media, err := e.svc.AttachMedia(context.Background(), postID, Upload{
		Filename:    filename,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Body:        strings.NewReader(content),
	}, principal)
	if err != nil {
		t.Fatalf("attach media: %v", err)
	}
	return media
}
