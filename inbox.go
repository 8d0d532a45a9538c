package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/MLZ101/RAG-Document-Chat/ingest"
	"github.com/MLZ101/RAG-Document-Chat/readers"
)

type inboxQueue interface {
	Submit(ctx context.Context, s ingest.Submission) (string, error)
}

// Inbox ingests files dropped into a directory. Each file is moved into the
// upload directory before it is queued, so it is picked up once.
type Inbox struct {
	log              *slog.Logger
	root             string
	uploadDir        string
	mergeEventsDelay time.Duration
	queue            inboxQueue

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewInbox(root, uploadDir string, mergeEventsDelay time.Duration, queue inboxQueue, logger *slog.Logger) *Inbox {
	return &Inbox{
		log:              logger.With("component", "inbox"),
		root:             root,
		uploadDir:        uploadDir,
		mergeEventsDelay: mergeEventsDelay,
		queue:            queue,
		timers:           make(map[string]*time.Timer),
	}
}

// Sync submits every file already waiting in the inbox.
func (in *Inbox) Sync(ctx context.Context) error {
	entries, err := os.ReadDir(in.root)
	if err != nil {
		return fmt.Errorf("failed to read inbox %s: %w", in.root, err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		in.submit(ctx, filepath.Join(in.root, e.Name()))
	}

	return nil
}

// Watch starts watching the inbox and returns. Events for a file are merged
// until it has been quiet for mergeEventsDelay.
func (in *Inbox) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(in.root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", in.root, err)
	}

	go func() {
		defer watcher.Close()
		defer in.stopTimers()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					in.schedule(ctx, event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				in.log.Error("watcher error", "error", err)
			}
		}
	}()

	in.log.Info("watching inbox", "path", in.root)
	return nil
}

func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if t, ok := in.timers[path]; ok {
		t.Stop()
	}

	in.timers[path] = time.AfterFunc(in.mergeEventsDelay, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()

		if ctx.Err() == nil {
			in.submit(ctx, path)
		}
	})
}

func (in *Inbox) stopTimers() {
	in.mu.Lock()
	defer in.mu.Unlock()

	for path, t := range in.timers {
		t.Stop()
		delete(in.timers, path)
	}
}

func (in *Inbox) submit(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	base := filepath.Base(path)
	if _, err := readers.ParseFileType(base); err != nil {
		in.log.Warn(fmt.Sprintf("unsupported file: %s", path))
		return
	}

	id := uuid.NewString()
	dest := filepath.Join(in.uploadDir, id+"_"+base)

	if err := move(path, dest); err != nil {
		// a concurrent submit already took it
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		in.log.Error("failed to move file out of inbox", "path", path, "error", err)
		return
	}

	id, err = in.queue.Submit(ctx, ingest.Submission{
		Path:       dest,
		Filename:   base,
		DocumentID: id,
	})
	if err != nil {
		in.log.Error("failed to queue file", "path", path, "error", err)
		if err := move(dest, path); err != nil {
			in.log.Error("failed to return file to inbox", "path", path, "error", err)
		}
		return
	}

	in.log.Info("file queued", "path", path, "document_id", id)
}

// move renames src to dst, copying when they are on different devices.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := stage(dst, f); err != nil {
		return err
	}

	return os.Remove(src)
}
