package invalidation

import (
	"errors"
	"fmt"
	"time"
)

// Trigger 是内容变更事件的名称。
type Trigger string

// 支持的触发器。
const (
	TriggerPostSaved            Trigger = "post_saved"
	TriggerPostTrashed          Trigger = "post_trashed"
	TriggerCommentPosted        Trigger = "comment_posted"
	TriggerCommentStatusChanged Trigger = "comment_status_changed"
	TriggerTermUpdated          Trigger = "term_updated"
	TriggerPostTermsChanged     Trigger = "post_terms_changed"
	TriggerProductStock         Trigger = "product_stock"
	TriggerOptionUpdated        Trigger = "option_updated"
	TriggerSiteChanged          Trigger = "site_changed"
	TriggerPurgeAll             Trigger = "purge_all"
	TriggerSettingsUpdated      Trigger = "settings_updated"
)

// ErrInvalidEvent 表示事件缺少触发器所需的载荷。
var ErrInvalidEvent = errors.New("invalid invalidation event")

// 文章发布状态与文章类型。
const (
	PostStatusPublish = "publish"
	PostTypePost      = "post"
)

// Post 描述一篇文章及其相关页面的永久链接，由源站插件计算后上报。
type Post struct {
	ID     int64     `json:"id"`
	URL    string    `json:"url"`
	Type   string    `json:"type"`
	Status string    `json:"status"`
	Date   time.Time `json:"date"`
	// Paginated 为真时连同 /page/N/ 等子目录一起删除。
	Paginated   bool   `json:"paginated"`
	ArchiveURL  string `json:"archive_url,omitempty"`
	AuthorURL   string `json:"author_url,omitempty"`
	BlogPageURL string `json:"blog_page_url,omitempty"`
	PrevURL     string `json:"prev_url,omitempty"`
	NextURL     string `json:"next_url,omitempty"`
}

// Comment 描述评论事件。
type Comment struct {
	ID       int64  `json:"id"`
	PostID   int64  `json:"post_id"`
	Approved bool   `json:"approved"`
	Status   string `json:"status,omitempty"`
}

// Term 描述分类/标签及其关联文章的链接。
type Term struct {
	ID       int64    `json:"id"`
	Taxonomy string   `json:"taxonomy"`
	URL      string   `json:"url"`
	PostURLs []string `json:"post_urls,omitempty"`
}

// Option 描述站点选项变更。OldURL/NewURL 用于页面类选项（首页、文章页）。
type Option struct {
	Name     string `json:"name"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	OldURL   string `json:"old_url,omitempty"`
	NewURL   string `json:"new_url,omitempty"`
}

// Event 是一次内容变更通知。
type Event struct {
	Trigger Trigger  `json:"trigger"`
	Post    *Post    `json:"post,omitempty"`
	Comment *Comment `json:"comment,omitempty"`
	Terms   []Term   `json:"terms,omitempty"`
	Option  *Option  `json:"option,omitempty"`
	// Reason 记录站点级变更的来源，例如 theme_switched、plugin_updated。
	Reason string `json:"reason,omitempty"`
}

// Validate 检查触发器是否已知以及所需载荷是否齐全。
func (e Event) Validate() error {
	switch e.Trigger {
	case TriggerPostSaved, TriggerPostTrashed, TriggerProductStock:
		if e.Post == nil || e.Post.URL == "" {
			return fmt.Errorf("%w: %s requires post.url", ErrInvalidEvent, e.Trigger)
		}
	case TriggerCommentPosted, TriggerCommentStatusChanged:
		if e.Comment == nil || e.Post == nil || e.Post.URL == "" {
			return fmt.Errorf("%w: %s requires comment and post.url", ErrInvalidEvent, e.Trigger)
		}
	case TriggerTermUpdated, TriggerPostTermsChanged:
		if len(e.Terms) == 0 {
			return fmt.Errorf("%w: %s requires terms", ErrInvalidEvent, e.Trigger)
		}
	case TriggerOptionUpdated:
		if e.Option == nil || e.Option.Name == "" {
			return fmt.Errorf("%w: %s requires option.name", ErrInvalidEvent, e.Trigger)
		}
	case TriggerSiteChanged, TriggerPurgeAll, TriggerSettingsUpdated:
	default:
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidEvent, e.Trigger)
	}
	return nil
}
