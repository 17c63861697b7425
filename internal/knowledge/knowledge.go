// Package knowledge is the knowledge-base service: categories, articles,
// search and favorites, all delegated to the backend's REST tables.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agrovision/cropscan/internal/infra/backend"
	"github.com/agrovision/cropscan/internal/session"
)

const (
	categoriesTable = "knowledge_categories"
	articlesTable   = "knowledge_articles"
	favoritesTable  = "knowledge_favorites"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type Article struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
	Title      string `json:"title"`
	Summary    string `json:"summary,omitempty"`
	Content    string `json:"content,omitempty"`
	CoverURL   string `json:"cover_url,omitempty"`
	Views      int    `json:"views"`
	CreatedAt  string `json:"created_at,omitempty"`
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
// token gets the same refresh-and-retry treatment reads in the mini-app got.
func (s *Service) queryRows(ctx context.Context, op, table string, q backend.Query) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	err := s.sess.Do(ctx, op, func(ctx context.Context) error {
		var qerr error
		rows, qerr = s.client.QueryRecords(ctx, table, q)
		return qerr
	})
	return rows, err
}

func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.queryRows(ctx, "list categories", categoriesTable, backend.Query{Order: "name.asc"})
	if err != nil {
		return nil, err
	}
	return decodeMany[Category](rows)
}

func (s *Service) Articles(ctx context.Context, categoryID string, limit, offset int) ([]Article, error) {
	q := backend.Query{
		Order:  "created_at.desc",
		Limit:  limit,
		Offset: offset,
	}
	if categoryID != "" {
		q.Filters = map[string]string{"category_id": "eq." + categoryID}
	}

	rows, err := s.queryRows(ctx, "list articles", articlesTable, q)
	if err != nil {
		return nil, err
	}
	return decodeMany[Article](rows)
}

// Hot lists the most-read articles.
func (s *Service) Hot(ctx context.Context, limit int) ([]Article, error) {
	rows, err := s.queryRows(ctx, "list hot articles", articlesTable, backend.Query{
		Order: "views.desc",
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeMany[Article](rows)
}

func (s *Service) Search(ctx context.Context, keyword string, limit, offset int) ([]Article, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}

	rows, err := s.queryRows(ctx, "search articles", articlesTable, backend.Query{
		Filters: map[string]string{"title": "ilike.*" + keyword + "*"},
		Order:   "views.desc",
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}
	return decodeMany[Article](rows)
}

// Article reads one article and bumps its view counter. The bump is best
// effort; a failed counter write never hides the article.
func (s *Service) Article(ctx context.Context, id string) (Article, error) {
	rows, err := s.queryRows(ctx, "read article", articlesTable, backend.Query{
		Filters: map[string]string{"id": "eq." + id},
		Limit:   1,
	})
	if err != nil {
		return Article{}, err
	}
	if len(rows) == 0 {
		return Article{}, fmt.Errorf("article %s not found", id)
	}

	var a Article
	if err := json.Unmarshal(rows[0], &a); err != nil {
		return Article{}, fmt.Errorf("decode article: %w", err)
	}

	_ = s.client.UpdateRecord(ctx, articlesTable, id, map[string]any{
		"views": a.Views + 1,
	})

	return a, nil
}

// SetFavorite marks or unmarks an article as a favorite of the session
// user. The favorites row is kept and flipped rather than deleted so the
// toggle is idempotent.
func (s *Service) SetFavorite(ctx context.Context, articleID string, favorite bool) error {
	ownerID, err := s.owner.Resolve(ctx)
	if err != nil {
		return err
	}

	return s.sess.Do(ctx, "set favorite", func(ctx context.Context) error {
		rows, err := s.client.QueryRecords(ctx, favoritesTable, backend.Query{
			Filters: map[string]string{
				"user_id":    "eq." + ownerID,
				"article_id": "eq." + articleID,
			},
			Limit: 1,
		})
		if err != nil {
			return err
		}

		if len(rows) > 0 {
			var row struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(rows[0], &row); err != nil {
				return fmt.Errorf("decode favorite row: %w", err)
			}
			return s.client.UpdateRecord(ctx, favoritesTable, row.ID, map[string]any{
				"active": favorite,
			})
		}

		if !favorite {
			return nil
		}

		_, _, err = s.client.CreateRecord(ctx, favoritesTable, map[string]any{
			"user_id":    ownerID,
			"article_id": articleID,
			"active":     true,
		})
		return err
	})
}

// Favorites lists the session user's favorite articles.
func (s *Service) Favorites(ctx context.Context, limit, offset int) ([]Article, error) {
	ownerID, err := s.owner.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.queryRows(ctx, "list favorites", favoritesTable, backend.Query{
		Filters: map[string]string{
			"user_id": "eq." + ownerID,
			"active":  "eq.true",
		},
		Order:  "created_at.desc",
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		var fav struct {
			ArticleID string `json:"article_id"`
		}
		if err := json.Unmarshal(row, &fav); err != nil {
			return nil, fmt.Errorf("decode favorite row: %w", err)
		}
		ids = append(ids, fav.ArticleID)
	}

	articleRows, err := s.queryRows(ctx, "read favorite articles", articlesTable, backend.Query{
		Filters: map[string]string{"id": "in.(" + strings.Join(ids, ",") + ")"},
	})
	if err != nil {
		return nil, err
	}
	return decodeMany[Article](articleRows)
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
