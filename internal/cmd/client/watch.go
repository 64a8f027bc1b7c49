package client

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// captureLayout is the timestamp in camera file names: IMG-20250314-091500.jpg.
const captureLayout = "IMG-20060102-150405"

// captureTime recovers the capture time from a camera file name, or returns
// fallback when the name does not carry one.
func captureTime(name string, fallback time.Time) time.Time {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	t, err := time.ParseInLocation(captureLayout, base, time.Local)
	if err != nil {
		return fallback
	}
	return t
}

// dirWatcher uploads every image that lands in a directory once it has
// stopped changing for settle.
type dirWatcher struct {
	up        *uploader
	settle    time.Duration
	weight    float64
	subjectID string
	out       io.Writer

	pending map[string]time.Time
	seen    map[string]struct{}
}

func newDirWatcher(up *uploader, settle time.Duration, weight float64, subjectID string, out io.Writer) *dirWatcher {
	return &dirWatcher{
		up:        up,
		settle:    settle,
		weight:    weight,
		subjectID: subjectID,
		out:       out,
		pending:   make(map[string]time.Time),
		seen:      make(map[string]struct{}),
	}
}

// observe records a filesystem event seen at.
func (w *dirWatcher) observe(ev fsnotify.Event, at time.Time) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !isImage(ev.Name) {
		return
	}
	if _, done := w.seen[ev.Name]; done {
		return
	}
	w.pending[ev.Name] = at
}

// flush uploads pending images whose last event is older than settle.
// A failed upload is reported and not retried.
func (w *dirWatcher) flush(ctx context.Context, now time.Time) {
	var ready []string
	for name, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	for _, name := range ready {
		delete(w.pending, name)
		w.seen[name] = struct{}{}

		rec := recordAt(w.weight, w.subjectID, captureTime(name, now))
		resp, err := w.up.upload(ctx, rec, name)
		if err != nil {
			fmt.Fprintf(w.out, "%s: upload failed: %v\n", filepath.Base(name), err)
			continue
		}
		fmt.Fprintf(w.out, "%s: ", filepath.Base(name))
		_ = printResponse(w.out, resp)
		resp.Body.Close()
	}
}

// minTick bounds how often pending files are checked.
const minTick = 10 * time.Millisecond

// tickInterval is half the settle period, never below minTick.
func tickInterval(settle time.Duration) time.Duration {
	return max(settle/2, minTick)
}

// run watches dir until ctx is done.
func (w *dirWatcher) run(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	tick := time.NewTicker(tickInterval(w.settle))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.observe(ev, time.Now())
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(w.out, "watch error: %v\n", err)
		case now := <-tick.C:
			w.flush(ctx, now)
		}
	}
}

// NewWatchCommand constructs the `watch` command: upload each new camera
// image as it lands in a directory.
func NewWatchCommand(baseURL BaseURLFunc) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Upload every new image written to a directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			settle, _ := cmd.Flags().GetDuration("settle")
			weight, _ := cmd.Flags().GetFloat64("weight")
			subjectID, _ := cmd.Flags().GetString("subject")
			if settle <= 0 {
				return fmt.Errorf("--settle must be positive")
			}

			up := &uploader{baseURL: baseURL(), client: httpClient}
			w := newDirWatcher(up, settle, weight, subjectID, cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", dir)
			return w.run(cmd.Context(), dir)
		},
	}
	watchCmd.Flags().String("dir", ".", "Directory the camera writes images to")
	watchCmd.Flags().Duration("settle", time.Second, "Quiet period before a new file is uploaded")
	watchCmd.Flags().Float64("weight", DefaultWeight, "Weight reading in kg")
	watchCmd.Flags().String("subject", "", "Penguin id (default: the server's current selection)")
	return watchCmd
}
