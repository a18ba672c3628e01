package app

import (
	"time"

	"pawconnect/channels/internal/store"
)

type channelView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   *string    `json:"description"`
	ClientID      string     `json:"client_id"`
	BehavioristID string     `json:"behaviorist_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
}

type postView struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channel_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	AuthorID  string     `json:"author_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type commentView struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

type mediaView struct {
	ID          string    `json:"id"`
	PostID      *string   `json:"post_id"`
	FilePath    string    `json:"file_path"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type eventView struct {
	ID          string     `json:"id"`
	ChannelID   string     `json:"channel_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

func toChannelView(item store.Channel) channelView {
	return channelView{
		ID:            item.ID,
		Name:          item.Name,
		Description:   item.Description,
		ClientID:      item.ClientID,
		BehavioristID: item.BehavioristID,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

func toPostView(item store.Post) postView {
	return postView{
		ID:        item.ID,
		ChannelID: item.ChannelID,
		Title:     item.Title,
		Content:   item.Content,
		AuthorID:  item.AuthorID,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func toCommentView(item store.Comment) commentView {
	return commentView{
		ID:        item.ID,
		PostID:    item.PostID,
		Content:   item.Content,
		AuthorID:  item.AuthorID,
		CreatedAt: item.CreatedAt,
	}
}

func toMediaView(item store.Media) mediaView {
	return mediaView{
		ID:          item.ID,
		PostID:      item.PostID,
		FilePath:    item.FilePath,
		ContentType: item.ContentType,
		SizeBytes:   item.SizeBytes,
		CreatedBy:   item.CreatedBy,
		CreatedAt:   item.CreatedAt,
	}
}

func toEventView(item store.Event) eventView {
	return eventView{
		ID:          item.ID,
		ChannelID:   item.ChannelID,
		Title:       item.Title,
		Description: item.Description,
		Location:    item.Location,
		StartTime:   item.StartTime,
		EndTime:     item.EndTime,
		CreatedBy:   item.CreatedBy,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func mapViews[T, V any](items []T, convert func(T) V) []V {
	views := make([]V, 0, len(items))
	for _, item := range items {
		views = append(views, convert(item))
	}
	return views
}
