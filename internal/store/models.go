package store

import "time"

type Channel struct {
	ID            string
	Name          string
	Description   *string
	ClientID      string
	BehavioristID string
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

type Post struct {
	ID        string
	ChannelID string
	Title     string
	Content   string
	AuthorID  string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

type Comment struct {
	ID        string
	PostID    string
	Content   string
	AuthorID  string
	CreatedAt time.Time
}

// Media is the metadata row for one blob in object storage. FilePath is the
// object key and is always generated server side.
type Media struct {
	ID          string
	PostID      *string
	FilePath    string
	ContentType string
	SizeBytes   int64
	CreatedBy   string
	CreatedAt   time.Time
}

type Event struct {
	ID          string
	ChannelID   string
	Title       string
	Description *string
	Location    *string
	StartTime   time.Time
	EndTime     time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// BlobOrphan records an object key that may still be in object storage with
// no media row pointing at it.
type BlobOrphan struct {
	FilePath  string
	Reason    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	// Referenced is set when a media row still points at FilePath, which
	// happens when an insert committed but reported an error.
	Referenced bool
}

const (
	OrphanReasonAttachFailed = "attach_metadata_failed"
	OrphanReasonCascade      = "cascade_delete"
)
