// Package identify implements the identification workflow: turn a local
// image into a durable server-side task, then watch the task until it
// reaches a terminal state.
package identify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrovision/cropscan/internal/domain"
	"github.com/agrovision/cropscan/internal/session"
)

type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (storedKey, url string, err error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, p domain.CreateTaskParams) (domain.Task, error)
	TaskByID(ctx context.Context, id string) (domain.Task, error)
	TasksByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Task, error)
	MarkFailed(ctx context.Context, id, reason string) error
}

type TaskQueue interface {
	Enqueue(ctx context.Context, taskID string) error
}

// OwnerResolver maps the session's auth identity to the backend's internal
// owner id. The two live in different namespaces.
type OwnerResolver interface {
	Resolve(ctx context.Context) (string, error)
}

type SubmitOptions struct {
	Filename    string
	Description string
}

type Service struct {
	sess   *session.Session
	blob   BlobStore
	tasks  TaskStore
	queue  TaskQueue
	owner  OwnerResolver
	maxDim int

	interval time.Duration
}

func NewService(
	sess *session.Session,
	blob BlobStore,
	tasks TaskStore,
	queue TaskQueue,
	owner OwnerResolver,
	maxDim int,
	pollInterval time.Duration,
) *Service {
	return &Service{
		sess:     sess,
		blob:     blob,
		tasks:    tasks,
		queue:    queue,
		owner:    owner,
		maxDim:   maxDim,
		interval: pollInterval,
	}
}

// Submit uploads the image and creates a pending task for it. Submitting
// the same bytes twice deliberately produces two distinct tasks; dedup is
// not this layer's business.
func (s *Service) Submit(ctx context.Context, image []byte, opts SubmitOptions) (domain.TaskHandle, error) {
	prep, err := prepareImage(image, opts.Filename, s.maxDim)
	if err != nil {
		return domain.TaskHandle{}, domain.NewError(domain.KindUploadFailed, "prepare image", err)
	}

	key := assetKey(time.Now(), prep.ext)

	var storedKey, assetURL string
	err = s.sess.Do(ctx, "upload image", func(ctx context.Context) error {
		var uerr error
		storedKey, assetURL, uerr = s.blob.Upload(ctx, key, prep.data, prep.contentType)
		return uerr
	})
	if err != nil {
		if domain.NeedsRelogin(err) {
			return domain.TaskHandle{}, err
		}
		return domain.TaskHandle{}, domain.NewError(domain.KindUploadFailed, "upload image", err)
	}

	ownerID, err := s.owner.Resolve(ctx)
	if err != nil {
		if domain.NeedsRelogin(err) {
			return domain.TaskHandle{}, err
		}
		return domain.TaskHandle{}, domain.NewError(domain.KindIdentityResolution, "resolve owner", err)
	}

	var task domain.Task
	err = s.sess.Do(ctx, "create task", func(ctx context.Context) error {
		var cerr error
		task, cerr = s.tasks.CreateTask(ctx, domain.CreateTaskParams{
			OwnerID:     ownerID,
			AssetKey:    storedKey,
			AssetURL:    assetURL,
			Description: opts.Description,
		})
		return cerr
	})
	if err != nil {
		if domain.NeedsRelogin(err) {
			return domain.TaskHandle{}, err
		}
		// The uploaded asset is orphaned at this point; the key in the
		// error is what an operator sweep has to go on.
		return domain.TaskHandle{}, domain.NewError(domain.KindTaskCreation,
			fmt.Sprintf("create task for asset %s", storedKey), err)
	}

	if err := s.queue.Enqueue(ctx, task.ID); err != nil {
		slog.Error("enqueue failed",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		if merr := s.tasks.MarkFailed(ctx, task.ID, err.Error()); merr != nil {
			slog.Warn("mark task failed", slog.String("task_id", task.ID), slog.String("error", merr.Error()))
		}
		return domain.TaskHandle{}, domain.NewError(domain.KindTaskCreation, "enqueue task", err)
	}

	slog.Info("task submitted",
		slog.String("task_id", task.ID),
		slog.String("asset_key", storedKey),
	)

	return domain.TaskHandle{
		TaskID:   task.ID,
		AssetKey: storedKey,
		AssetURL: assetURL,
		Status:   domain.StatusPending,
	}, nil
}

// Status reads the task once. Used directly by callers and as the watcher's
// query function. The read goes through the session wrapper so a token that
// expires mid-watch earns a refresh instead of failing every poll.
func (s *Service) Status(ctx context.Context, taskID string) (domain.Task, error) {
	var task domain.Task
	err := s.sess.Do(ctx, "query task status", func(ctx context.Context) error {
		var qerr error
		task, qerr = s.tasks.TaskByID(ctx, taskID)
		return qerr
	})
	return task, err
}

// History lists the session user's tasks, newest first.
func (s *Service) History(ctx context.Context, limit, offset int) ([]domain.Task, error) {
	ownerID, err := s.owner.Resolve(ctx)
	if err != nil {
		if domain.NeedsRelogin(err) {
			return nil, err
		}
		return nil, domain.NewError(domain.KindIdentityResolution, "resolve owner", err)
	}

	var tasks []domain.Task
	err = s.sess.Do(ctx, "list tasks", func(ctx context.Context) error {
		var qerr error
		tasks, qerr = s.tasks.TasksByOwner(ctx, ownerID, limit, offset)
		return qerr
	})
	return tasks, err
}

// Watch starts a watcher on taskID with the service's configured interval.
func (s *Service) Watch(ctx context.Context, taskID string, onUpdate func(Update)) *Watch {
	return NewWatcher(s.Status, s.interval).Watch(ctx, taskID, onUpdate)
}
