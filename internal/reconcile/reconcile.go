// Package reconcile implements C10: an optional background watcher that
// scans a local upload directory for new or changed face photos and
// enrolls them, keeping the in-memory identity index (C2) in sync with
// whatever lands in that directory out of band. The rescan logic (the
// mtime index and filename-safety reversal) is grounded directly on
// original_source/FunMeter/backend/services/register_db.py's
// face_hot_watcher/auto_register_faces_once
// (_load_face_watch_index/_save_face_watch_index/_restore_label_from_safe_base);
// the fsnotify-primary/polling-fallback dispatch around it follows the
// same two-goroutine shape as the pack's license.Manager.StartWatcher.
package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/your-org/fd-attendance/internal/enroll"
	"github.com/your-org/fd-attendance/internal/roster"
)

// Notifier broadcasts a lightweight change notification to interested
// sessions after an enrollment or reconciliation, per spec §4.10/§6's
// db_update event.
type Notifier interface {
	BroadcastDBUpdate(labels []string)
}

var imageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// unsafeFilenameChar mirrors werkzeug's secure_filename well enough to
// reverse it on a best-effort basis: it collapses anything outside
// [A-Za-z0-9._-] to "_".
var unsafeFilenameChar = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeLabel(label string) string {
	return unsafeFilenameChar.ReplaceAllString(strings.TrimSpace(label), "_")
}

// Reconciler is C10. The zero value is not usable; use New.
type Reconciler struct {
	org      string
	watchDir string
	indexPath string
	interval time.Duration
	grace    time.Duration

	repo    roster.Repository
	enroller *enroll.Service
	notify  Notifier

	mu  sync.Mutex
	idx map[string]int64 // absolute path -> unix mtime, persisted as JSON
}

// New constructs a reconciler. indexPath is the file the mtime index is
// persisted to between ticks (survives process restarts); cmd/api puts
// it inside watchDir as .watch_index.json (the image-extension filter
// skips it), but any writable path works.
func New(org, watchDir, indexPath string, interval, grace time.Duration, repo roster.Repository, enroller *enroll.Service, notify Notifier) *Reconciler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	r := &Reconciler{
		org: org, watchDir: watchDir, indexPath: indexPath,
		interval: interval, grace: grace,
		repo: repo, enroller: enroller, notify: notify,
		idx: make(map[string]int64),
	}
	r.loadIndex()
	return r
}

func (r *Reconciler) loadIndex() {
	data, err := os.ReadFile(r.indexPath)
	if err != nil {
		return
	}
	var m map[string]int64
	if json.Unmarshal(data, &m) == nil {
		r.idx = m
	}
}

func (r *Reconciler) saveIndexLocked() {
	if r.indexPath == "" {
		return
	}
	data, err := json.Marshal(r.idx)
	if err != nil {
		return
	}
	_ = os.WriteFile(r.indexPath, data, 0o644)
}

// Run watches watchDir until ctx is cancelled, rescanning on every
// fsnotify write/create/rename event (debounced by r.interval) plus a slow
// polling sweep every 10x that interval as a safety net in case fsnotify
// misses an event (e.g. on some network filesystems). Run returns once
// ctx is cancelled and any polling-sweep tick in progress has finished;
// the caller closes a channel when Run returns and hands it to Stop,
// which waits on it for at most the configured grace period.
func (r *Reconciler) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		slog.Warn("reconciler: fsnotify unavailable, falling back to polling", "error", err)
		usePolling = true
	} else if err := watcher.Add(r.watchDir); err != nil {
		slog.Warn("reconciler: cannot watch directory, falling back to polling", "dir", r.watchDir, "error", err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go r.watchLoop(ctx, watcher)
	}

	// Always run the slow sweep too: it is what makes this idempotent
	// and crash-safe even when fsnotify is working, and it is the only
	// path at all when it isn't.
	r.pollLoop(ctx)
}

func (r *Reconciler) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(r.interval, func() { r.tick(ctx) })
			} else {
				debounce.Reset(r.interval)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("reconciler: fsnotify error", "error", err)
		}
	}
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Stop cancels ctx (the caller's responsibility) and blocks up to the
// reconciler's configured grace period for an in-flight tick to finish.
func (r *Reconciler) Stop(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(r.grace):
		slog.Warn("reconciler did not stop within grace period")
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	entries, err := os.ReadDir(r.watchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("reconciler: read watch dir", "dir", r.watchDir, "error", err)
		}
		return
	}

	existingLabels, safeToLabel := r.labelLookup(ctx)

	var changedLabels []string
	r.mu.Lock()
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExt[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(r.watchDir, e.Name())
		seen[path] = true

		info, err := e.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime().Unix()
		if prev, ok := r.idx[path]; ok && prev == mtime {
			continue
		}

		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		label := restoreLabel(base, safeToLabel)

		r.mu.Unlock()
		if existingLabels[strings.ToLower(label)] {
			// Already enrolled under this label; just record the mtime
			// so we don't re-scan it every tick (spec §4.10's "index" is
			// purely a change-detection debounce, not a skip list).
			r.mu.Lock()
			r.idx[path] = mtime
			continue
		}
		if err := r.enrollFile(ctx, path, label); err != nil {
			slog.Warn("reconciler: enroll failed", "path", path, "label", label, "error", err)
			r.mu.Lock()
			continue
		}
		changedLabels = append(changedLabels, label)
		r.mu.Lock()
		r.idx[path] = mtime
	}

	for path := range r.idx {
		if !seen[path] {
			delete(r.idx, path)
		}
	}
	r.saveIndexLocked()
	r.mu.Unlock()

	if len(changedLabels) > 0 && r.notify != nil {
		r.notify.BroadcastDBUpdate(changedLabels)
	}
}

func (r *Reconciler) labelLookup(ctx context.Context) (existing map[string]bool, safeToLabel map[string]string) {
	existing = make(map[string]bool)
	safeToLabel = make(map[string]string)
	identities, err := r.repo.ListIdentities(ctx, r.org)
	if err != nil {
		slog.Warn("reconciler: list identities", "error", err)
		return existing, safeToLabel
	}
	for _, id := range identities {
		existing[strings.ToLower(id.Label)] = true
		safeToLabel[sanitizeLabel(id.Label)] = id.Label
	}
	return existing, safeToLabel
}

// restoreLabel reverses filename-safety sanitization where possible:
// if some currently-enrolled label sanitizes to exactly this filename
// base, that label is the answer; otherwise the base is used as-is,
// mirroring original_source's _restore_label_from_safe_base fallback.
func restoreLabel(base string, safeToLabel map[string]string) string {
	if label, ok := safeToLabel[base]; ok {
		return label
	}
	return base
}

func (r *Reconciler) enrollFile(ctx context.Context, path, label string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = r.enroller.Enroll(ctx, enroll.Request{
		Org:        r.org,
		Label:      label,
		ImageBytes: data,
		Force:      false,
		Actor:      "reconciler",
	})
	return err
}
