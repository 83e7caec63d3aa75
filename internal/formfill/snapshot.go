// internal/formfill/snapshot.go
package formfill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// DiskSnapshotter dumps the current document to disk and logs its control
// population when the engine loses track of a field. Diagnostics only; every
// failure path here is logged and swallowed.
type DiskSnapshotter struct {
	driver Driver
	dir    string
	logger *zap.Logger
}

func NewDiskSnapshotter(d Driver, dir string, logger *zap.Logger) *DiskSnapshotter {
	return &DiskSnapshotter{driver: d, dir: dir, logger: logger.Named("snapshot")}
}

// Capture implements Snapshotter.
func (s *DiskSnapshotter) Capture(ctx context.Context, reason string) {
	doc, err := s.driver.HTML(ctx)
	if err != nil {
		s.logger.Warn("Could not read document for snapshot", zap.Error(err))
		return
	}

	stats := controlStats(doc)
	log := s.logger.With(
		zap.String("reason", reason),
		zap.Int("forms", stats.Forms),
		zap.Int("inputs", stats.Inputs),
		zap.Int("selects", stats.Selects),
		zap.Int("textareas", stats.Textareas),
		zap.Int("buttons", stats.Buttons))

	if s.dir == "" {
		log.Info("Document snapshot (not persisted, no snapshot dir configured)")
		return
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		log.Warn("Could not create snapshot directory", zap.Error(err))
		return
	}
	path := filepath.Join(s.dir, fmt.Sprintf("snapshot-%d.html", time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		log.Warn("Could not write snapshot", zap.Error(err))
		return
	}
	log.Info("Document snapshot written", zap.String("path", path))
}

// ControlStats summarizes the form-control population of a document dump.
type ControlStats struct {
	Forms     int
	Inputs    int
	Selects   int
	Textareas int
	Buttons   int
}

// controlStats tolerates malformed markup; html.Parse never fails on
// arbitrary input, so a broken dump still yields a best-effort count.
func controlStats(doc string) ControlStats {
	var stats ControlStats
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return stats
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				stats.Forms++
			case "input":
				stats.Inputs++
			case "select":
				stats.Selects++
			case "textarea":
				stats.Textareas++
			case "button":
				stats.Buttons++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return stats
}
