package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/agrovision/cropscan/internal/domain"
	"github.com/agrovision/cropscan/internal/identify"
	"github.com/agrovision/cropscan/internal/session"

	"golang.org/x/sync/errgroup"
)

const usage = `usage: cropscan [-config path] <command> [args]

commands:
  login <email> <password>   sign in and store the session
  logout                     drop the stored session
  identify <image> [...]     upload images and watch identification tasks
  status <task-id>           query one task status
  watch <task-id>            watch a task until it finishes
  history [n]                list recent identification tasks
  search <keyword>           search the knowledge base
  posts                      list recent forum posts
`

type app struct {
	di *dependencyInjector
}

func New(cfgPath string) *app {
	di := newDI(cfgPath)
	di.Logger()
	return &app{di: di}
}

func (a *app) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "logout":
		return a.di.SessionStore().Clear()
	case "identify":
		return a.identify(ctx, rest)
	case "status":
		return a.status(ctx, rest)
	case "watch":
		return a.watch(ctx, rest)
	case "history":
		return a.history(ctx, rest)
	case "search":
		return a.search(ctx, rest)
	case "posts":
		return a.posts(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("login needs <email> <password>")
	}

	pair, id, err := a.di.Backend().SignInWithPassword(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	state := session.State{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Identity:     id,
	}
	if err := a.di.SessionStore().Save(state); err != nil {
		return err
	}

	fmt.Printf("logged in as %s\n", id.Email)
	return nil
}

func (a *app) identify(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("identify needs at least one image path")
	}
	if !a.di.Session().LoggedIn() {
		return errors.New("not logged in, run `cropscan login` first")
	}

	svc := a.di.IdentifyService(ctx)
	// Tokens may rotate while commands run; keep the stored copy current.
	defer a.di.persistSession("")

	eg, egCtx := errgroup.WithContext(ctx)
	for _, path := range paths {
		path := path
		eg.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			handle, err := svc.Submit(egCtx, data, identify.SubmitOptions{
				Filename: filepath.Base(path),
			})
			if err != nil {
				return reportFailure(path, err)
			}
			fmt.Printf("%s: submitted as task %s\n", path, handle.TaskID)

			task, err := a.watchTask(egCtx, svc, handle.TaskID)
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		})
	}

	return eg.Wait()
}

// watchTask runs a watcher until the task terminates or the configured
// watch timeout elapses.
func (a *app) watchTask(ctx context.Context, svc *identify.Service, taskID string) (domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, a.di.Config().Identify.WatchTimeout)
	defer cancel()

	var last domain.Task
	var expired error
	w := svc.Watch(ctx, taskID, func(u identify.Update) {
		if u.Err != nil {
			if domain.NeedsRelogin(u.Err) {
				expired = u.Err
				return
			}
			slog.Warn("status query failed", slog.String("task_id", taskID), slog.String("error", u.Err.Error()))
			return
		}
		last = u.Task
		fmt.Printf("task %s: %s\n", taskID, u.Task.Status.Label())
	})

	select {
	case <-w.Done():
	case <-ctx.Done():
		w.Stop()
		<-w.Done()
	}

	if expired != nil {
		return last, reportFailure("watch task "+taskID, expired)
	}
	if !last.Status.Terminal() {
		return last, fmt.Errorf("task %s still %s after %s, gave up watching",
			taskID, last.Status.Label(), a.di.Config().Identify.WatchTimeout)
	}
	return last, nil
}

func (a *app) status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("status needs <task-id>")
	}

	task, err := a.di.IdentifyService(ctx).Status(ctx, args[0])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("watch needs <task-id>")
	}

	svc := a.di.IdentifyService(ctx)
	task, err := a.watchTask(ctx, svc, args[0])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad history limit %q", args[0])
		}
		limit = n
	}

	tasks, err := a.di.IdentifyService(ctx).History(ctx, limit, 0)
	if err != nil {
		return reportFailure("history", err)
	}

	for _, t := range tasks {
		fmt.Printf("%s  %-8s  %s\n", t.CreatedAt.Format("2006-01-02 15:04"), t.Status.Label(), t.ID)
	}
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("search needs a keyword")
	}

	articles, err := a.di.KnowledgeService().Search(ctx, args[0], 20, 0)
	if err != nil {
		return err
	}

	for _, art := range articles {
		fmt.Printf("%s  %s\n", art.ID, art.Title)
	}
	return nil
}

func (a *app) posts(ctx context.Context) error {
	posts, err := a.di.ForumService().Posts(ctx, 20, 0)
	if err != nil {
		return err
	}

	for _, p := range posts {
		fmt.Printf("%s  %s\n", p.ID, p.Title)
	}
	return nil
}

func printTask(t domain.Task) {
	switch t.Status {
	case domain.StatusCompleted:
		result := "(empty result)"
		if len(t.Result) > 0 {
			if pretty, err := json.MarshalIndent(json.RawMessage(t.Result), "", "  "); err == nil {
				result = string(pretty)
			} else {
				result = string(t.Result)
			}
		}
		fmt.Printf("task %s: done\n%s\n", t.ID, result)
	case domain.StatusFailed:
		fmt.Printf("task %s: error: %s\n", t.ID, t.ErrorMessage)
	default:
		fmt.Printf("task %s: %s\n", t.ID, t.Status.Label())
	}
}

// reportFailure maps classified errors onto the message the user should
// act on; a session_expired failure means re-login, not retry.
func reportFailure(what string, err error) error {
	if domain.NeedsRelogin(err) {
		return fmt.Errorf("%s: session expired, run `cropscan login` again", what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
