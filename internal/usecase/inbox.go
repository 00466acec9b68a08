package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

// Inbox subdirectories for processed recordings.
const (
	InboxDoneDir   = "done"
	InboxFailedDir = "failed"
)

// InboxDeps wires the watcher.
type InboxDeps struct {
	Driver     ports.Scheduler
	Controller *Controller
	Dir        string
	Username   string
	Password   string
	Export     ports.FileStore
	Logger     *slog.Logger
}

// Inbox feeds .gz recordings dropped into a directory through the session
// controller, one at a time, on every scheduler tick.
type Inbox struct {
	driver   ports.Scheduler
	ctrl     *Controller
	dir      string
	username string
	password string
	export   ports.FileStore
	logger   *slog.Logger
}

// NewInbox returns a helper to start/stop the directory watcher.
func NewInbox(deps InboxDeps) *Inbox {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		driver:   deps.Driver,
		ctrl:     deps.Controller,
		dir:      deps.Dir,
		username: deps.Username,
		password: deps.Password,
		export:   deps.Export,
		logger:   logger,
	}
}

// Start registers the sweep with the provided scheduler.
func (i *Inbox) Start(ctx context.Context) error {
	if i.driver == nil || i.ctrl == nil {
		return nil
	}

	job := func(trigger time.Time) {
		n, err := i.Sweep(ctx)
		if err != nil {
			i.logger.Error("inbox.sweep.failed", "error", err)
			return
		}
		if n > 0 {
			i.logger.Info("inbox.sweep.done", "processed", n, "trigger", trigger.Format(time.RFC3339))
		}
	}

	return i.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (i *Inbox) Stop(ctx context.Context) error {
	if i.driver == nil {
		return nil
	}

	return i.driver.Stop(ctx)
}

// Sweep processes every recording currently in the inbox and returns how
// many were handled.
func (i *Inbox) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !domain.HasArchiveExtension(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return 0, nil
	}

	for _, sub := range []string{InboxDoneDir, InboxFailedDir} {
		if err := os.MkdirAll(filepath.Join(i.dir, sub), 0o755); err != nil {
			return 0, fmt.Errorf("create %s: %w", sub, err)
		}
	}

	if !i.ctrl.LoggedIn() {
		if err := i.ctrl.Login(ctx, i.username, i.password); err != nil {
			return 0, fmt.Errorf("inbox login: %w", err)
		}
	}

	processed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		dest := InboxFailedDir
		if i.process(ctx, name) {
			dest = InboxDoneDir
		}
		if err := os.Rename(filepath.Join(i.dir, name), filepath.Join(i.dir, dest, name)); err != nil {
			return processed, fmt.Errorf("move %s: %w", name, err)
		}
		processed++
	}
	return processed, nil
}

func (i *Inbox) process(ctx context.Context, name string) bool {
	log := i.logger.With("file", name)

	data, err := os.ReadFile(filepath.Join(i.dir, name))
	if err != nil {
		log.Error("inbox.read.failed", "error", err)
		return false
	}

	snap, err := i.ctrl.SelectFile(ctx, name, data)
	if snap.Phase == domain.PhaseRejected {
		log.Warn("inbox.rejected", "error", err)
		return false
	}

	snap, err = i.ctrl.Start(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrTokenRejected) {
			i.ctrl.Logout()
		}
		log.Warn("inbox.run.failed", "kind", domain.KindOf(err), "error", err)
		return false
	}

	if i.export != nil && snap.Score != nil {
		out := strings.TrimSuffix(name, filepath.Ext(name)) + ".observation.json"
		if err := i.ctrl.ExportRecord(ctx, i.export, out); err != nil && !errors.Is(err, domain.ErrNoRecord) {
			log.Warn("inbox.export.failed", "error", err)
		}
	}

	log.Info("inbox.run.ok", "phase", snap.Phase, "session_id", snap.SessionID)
	return snap.Phase == domain.PhaseSucceeded
}
