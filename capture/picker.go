package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"image"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/stereocal/rimage"
)

// PointPicker yields the pixels selected in one image, in selection order. Pickers for the two
// cameras must select corresponding points in the same order.
type PointPicker interface {
	Pick(ctx context.Context) ([]r2.Point, error)
}

// StaticPicker returns a fixed list.
type StaticPicker []r2.Point

// Pick returns a copy of the list.
func (sp StaticPicker) Pick(ctx context.Context) ([]r2.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]r2.Point(nil), sp...), nil
}

// FilePicker reads points from a file. A file starting with '[' is read as a JSON5 array of
// [x, y] pairs, anything else as CSV with one "x,y" record per line. Blank lines and lines
// starting with '#' are ignored, and a first record that does not parse is taken as a header.
type FilePicker struct {
	Path string
}

// NewFilePicker returns a picker for path.
func NewFilePicker(path string) *FilePicker {
	return &FilePicker{Path: path}
}

// Pick reads the file.
func (fp *FilePicker) Pick(ctx context.Context) ([]r2.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	//nolint:gosec
	data, err := os.ReadFile(fp.Path)
	if err != nil {
		return nil, err
	}
	points, err := ParsePoints(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read points from %q", fp.Path)
	}
	return points, nil
}

// ParsePoints reads points in either of the formats FilePicker accepts.
func ParsePoints(r io.Reader) ([]r2.Point, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if first == '[' {
		return parseJSONPoints(br)
	}
	return parseCSVPoints(br)
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			return b, br.UnreadByte()
		}
	}
}

func parseJSONPoints(r io.Reader) ([]r2.Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// JSON5 so hand edited files may carry comments and trailing commas.
	var pairs [][]float64
	if err := json5.Unmarshal(data, &pairs); err != nil {
		return nil, err
	}
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, errors.Errorf("point %d has %d coordinates, want 2", i, len(p))
		}
	}
	return lo.Map(pairs, func(p []float64, _ int) r2.Point {
		return r2.Point{X: p[0], Y: p[1]}
	}), nil
}

func parseCSVPoints(r io.Reader) ([]r2.Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var points []r2.Point
	headerSkipped := false
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if err != nil {
			return nil, err
		}
		p, err := parseCSVPoint(record)
		if err != nil {
			if len(points) == 0 && !headerSkipped {
				headerSkipped = true
				continue
			}
			line, _ := cr.FieldPos(0)
			return nil, errors.Wrapf(err, "line %d", line)
		}
		points = append(points, p)
	}
}

func parseCSVPoint(record []string) (r2.Point, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
	if err != nil {
		return r2.Point{}, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return r2.Point{}, err
	}
	return r2.Point{X: x, Y: y}, nil
}

// AnnotatePoints saves a PNG of img with each picked point marked and labelled "x,y".
func AnnotatePoints(img image.Image, points []r2.Point, outFile string) error {
	dc := rimage.NewOverlayContext(img)
	c := color.RGBA{R: 255, G: 0, B: 0, A: 255}
	for _, p := range points {
		rimage.DrawMarker(dc, p, c, 3)
		label := strconv.FormatFloat(p.X, 'f', -1, 64) + "," + strconv.FormatFloat(p.Y, 'f', -1, 64)
		rimage.DrawString(dc, label, p.Add(r2.Point{X: 5, Y: -5}), c, 14)
	}
	return rimage.WriteImageToFile(outFile, dc.Image())
}
