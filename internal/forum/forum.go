// Package forum is the community forum service: posts, comments and like
// toggling over the backend's REST tables.
package forum

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agrovision/cropscan/internal/infra/backend"
	"github.com/agrovision/cropscan/internal/session"
)

const (
	postsTable    = "forum_posts"
	commentsTable = "forum_comments"
	likesTable    = "forum_likes"
)

type Post struct {
	ID        string   `json:"id"`
	AuthorID  string   `json:"user_id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Views     int      `json:"views"`
	Likes     int      `json:"likes"`
	CreatedAt string   `json:"created_at,omitempty"`
}

type Comment struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	AuthorID  string `json:"user_id"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type OwnerResolver interface {
	Resolve(ctx context.Context) (string, error)
}

type Service struct {
	client *backend.Client
	sess   *session.Session
	owner  OwnerResolver
}

func NewService(client *backend.Client, sess *session.Session, owner OwnerResolver) *Service {
	return &Service{client: client, sess: sess, owner: owner}
}

// queryRows runs one table read under the session wrapper, so an expired
// token is refreshed and retried instead of failing the listing.
func (s *Service) queryRows(ctx context.Context, op, table string, q backend.Query) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	err := s.sess.Do(ctx, op, func(ctx context.Context) error {
		var qerr error
		rows, qerr = s.client.QueryRecords(ctx, table, q)
		return qerr
	})
	return rows, err
}

func (s *Service) Posts(ctx context.Context, limit, offset int) ([]Post, error) {
	rows, err := s.queryRows(ctx, "list posts", postsTable, backend.Query{
		Order:  "created_at.desc",
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	return decodeMany[Post](rows)
}

// Post reads one post and bumps its view counter, best effort.
func (s *Service) Post(ctx context.Context, id string) (Post, error) {
	rows, err := s.queryRows(ctx, "read post", postsTable, backend.Query{
		Filters: map[string]string{"id": "eq." + id},
		Limit:   1,
	})
	if err != nil {
		return Post{}, err
	}
	if len(rows) == 0 {
		return Post{}, fmt.Errorf("post %s not found", id)
	}

	var p Post
	if err := json.Unmarshal(rows[0], &p); err != nil {
		return Post{}, fmt.Errorf("decode post: %w", err)
	}

	_ = s.client.UpdateRecord(ctx, postsTable, id, map[string]any{
		"views": p.Views + 1,
	})

	return p, nil
}

func (s *Service) CreatePost(ctx context.Context, title, content string, imageURLs []string) (string, error) {
	ownerID, err := s.owner.Resolve(ctx)
	if err != nil {
		return "", err
	}

	var postID string
	err = s.sess.Do(ctx, "create post", func(ctx context.Context) error {
		row, ok, err := s.client.CreateRecord(ctx, postsTable, map[string]any{
			"user_id":    ownerID,
			"title":      title,
			"content":    content,
			"image_urls": imageURLs,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("post created without echo")
		}

		var p Post
		if err := json.Unmarshal(row, &p); err != nil {
			return fmt.Errorf("decode created post: %w", err)
		}
		postID = p.ID
		return nil
	})
	return postID, err
}

func (s *Service) Comments(ctx context.Context, postID string, limit, offset int) ([]Comment, error) {
	rows, err := s.queryRows(ctx, "list comments", commentsTable, backend.Query{
		Filters: map[string]string{"post_id": "eq." + postID},
		Order:   "created_at.asc",
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}
	return decodeMany[Comment](rows)
}

func (s *Service) AddComment(ctx context.Context, postID, content, replyTo string) error {
	ownerID, err := s.owner.Resolve(ctx)
	if err != nil {
		return err
	}

	return s.sess.Do(ctx, "add comment", func(ctx context.Context) error {
		fields := map[string]any{
			"post_id": postID,
			"user_id": ownerID,
			"content": content,
		}
		if replyTo != "" {
			fields["reply_to"] = replyTo
		}

		_, _, err := s.client.CreateRecord(ctx, commentsTable, fields)
		return err
	})
}

// ToggleLike flips the session user's like on a post and returns the new
// liked state. The likes counter on the post is adjusted best effort; the
// likes row is the source of truth.
func (s *Service) ToggleLike(ctx context.Context, postID string) (bool, error) {
	ownerID, err := s.owner.Resolve(ctx)
	if err != nil {
		return false, err
	}

	var liked bool
	err = s.sess.Do(ctx, "toggle like", func(ctx context.Context) error {
		rows, err := s.client.QueryRecords(ctx, likesTable, backend.Query{
			Filters: map[string]string{
				"user_id": "eq." + ownerID,
				"post_id": "eq." + postID,
			},
			Limit: 1,
		})
		if err != nil {
			return err
		}

		if len(rows) > 0 {
			var row struct {
				ID     string `json:"id"`
				Active bool   `json:"active"`
			}
			if err := json.Unmarshal(rows[0], &row); err != nil {
				return fmt.Errorf("decode like row: %w", err)
			}

			liked = !row.Active
			return s.client.UpdateRecord(ctx, likesTable, row.ID, map[string]any{
				"active": liked,
			})
		}

		liked = true
		_, _, err = s.client.CreateRecord(ctx, likesTable, map[string]any{
			"user_id": ownerID,
			"post_id": postID,
			"active":  true,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	delta := 1
	if !liked {
		delta = -1
	}
	rows, perr := s.client.QueryRecords(ctx, postsTable, backend.Query{
		Filters: map[string]string{"id": "eq." + postID},
		Limit:   1,
	})
	if perr == nil && len(rows) == 1 {
		var p Post
		if json.Unmarshal(rows[0], &p) == nil {
			_ = s.client.UpdateRecord(ctx, postsTable, postID, map[string]any{
				"likes": p.Likes + delta,
			})
		}
	}

	return liked, nil
}

func decodeMany[T any](rows []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var v T
		if err := json.Unmarshal(row, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
