// Package capture holds the collaborators around the calibration pipeline: the frame sources
// and point pickers it reads from, and the overlays and plots it writes.
package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
)

// FramePair is one synchronized capture from both cameras.
type FramePair struct {
	Index  int
	Image0 *image.Gray
	Image1 *image.Gray
}

// FrameSource yields frame pairs in capture order. Next returns io.EOF once exhausted.
type FrameSource interface {
	Next(ctx context.Context) (*FramePair, error)
	Close() error
}

// ReadAll drains src into two image lists with matching indices.
func ReadAll(ctx context.Context, src FrameSource) ([]*image.Gray, []*image.Gray, error) {
	var images0, images1 []*image.Gray
	for {
		pair, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return images0, images1, nil
		}
		if err != nil {
			return nil, nil, err
		}
		images0 = append(images0, pair.Image0)
		images1 = append(images1, pair.Image1)
	}
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp"}

// DirectorySource reads "<prefix0>_N.ext" and "<prefix1>_N.ext" pairs from a directory in
// ascending N. Frames present for only one camera are skipped.
type DirectorySource struct {
	dir    string
	files0 []string
	files1 []string
	frames []int

	mu   sync.Mutex
	next int
}

// NewDirectorySource lists dir and pairs the frames of both cameras.
func NewDirectorySource(dir, prefix0, prefix1 string, logger logging.Logger) (*DirectorySource, error) {
	if prefix0 == "" || prefix1 == "" || prefix0 == prefix1 {
		return nil, errors.Errorf("camera prefixes must be distinct and non-empty, got %q and %q", prefix0, prefix1)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list frame directory %q", dir)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir()
	})

	byIndex0 := frameIndices(names, prefix0)
	byIndex1 := frameIndices(names, prefix1)
	frames := lo.Intersect(lo.Keys(byIndex0), lo.Keys(byIndex1))
	slices.Sort(frames)

	for _, n := range lo.Without(lo.Keys(byIndex0), frames...) {
		logger.Warnw("frame has no partner, skipping", "file", byIndex0[n])
	}
	for _, n := range lo.Without(lo.Keys(byIndex1), frames...) {
		logger.Warnw("frame has no partner, skipping", "file", byIndex1[n])
	}
	logger.Debugw("found frame pairs", "dir", dir, "pairs", len(frames))

	src := &DirectorySource{dir: dir, frames: frames}
	for _, n := range frames {
		src.files0 = append(src.files0, byIndex0[n])
		src.files1 = append(src.files1, byIndex1[n])
	}
	return src, nil
}

// frameIndices maps frame numbers to file names for one camera prefix.
func frameIndices(names []string, prefix string) map[int]string {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_(\d+)(\.[A-Za-z]+)$`)
	out := map[int]string{}
	for _, name := range names {
		m := pattern.FindStringSubmatch(name)
		if m == nil || !slices.Contains(imageExtensions, strings.ToLower(m[2])) {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if prev, ok := out[n]; ok && prev < name {
			continue
		}
		out[n] = name
	}
	return out
}

// Len returns the number of frame pairs.
func (ds *DirectorySource) Len() int {
	return len(ds.frames)
}

// Files returns the paths of the paired frames in order.
func (ds *DirectorySource) Files() ([]string, []string) {
	join := func(name string, _ int) string { return filepath.Join(ds.dir, name) }
	return lo.Map(ds.files0, join), lo.Map(ds.files1, join)
}

// Next decodes the next pair.
func (ds *DirectorySource) Next(ctx context.Context) (*FramePair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds.mu.Lock()
	i := ds.next
	if i >= len(ds.frames) {
		ds.mu.Unlock()
		return nil, io.EOF
	}
	ds.next++
	ds.mu.Unlock()

	img0, err := rimage.ReadGrayFromFile(filepath.Join(ds.dir, ds.files0[i]))
	if err != nil {
		return nil, err
	}
	img1, err := rimage.ReadGrayFromFile(filepath.Join(ds.dir, ds.files1[i]))
	if err != nil {
		return nil, err
	}
	return &FramePair{Index: ds.frames[i], Image0: img0, Image1: img1}, nil
}

// Close does nothing; files are opened and closed per frame.
func (ds *DirectorySource) Close() error {
	return nil
}

// FrameFileName returns the name DirectorySource expects for frame n of a camera.
func FrameFileName(prefix string, n int) string {
	return fmt.Sprintf("%s_%d.png", prefix, n)
}
