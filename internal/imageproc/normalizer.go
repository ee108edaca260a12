// Package imageproc fits uploaded images into a byte and dimension budget.
//
// Normalize never fails: input it cannot identify or decode is returned
// unchanged so non-image attachments can still be stored.
package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	// Registers the webp decoder for image.DecodeConfig and imaging.Decode.
	_ "golang.org/x/image/webp"
)

// ContentTypeJPEG is the content type of every normalized output.
const ContentTypeJPEG = "image/jpeg"

// Options tunes the quality ladder and the shrink loop.
type Options struct {
	QualityStart int
	QualityFloor int
	QualityStep  int
	ShrinkRatio  float64
	MinDimension int
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{
		QualityStart: 85,
		QualityFloor: 30,
		QualityStep:  10,
		ShrinkRatio:  0.8,
		MinDimension: 400,
	}
}

// Output is the result of one Normalize call.
type Output struct {
	Data        []byte
	ContentType string
	// Normalized is false when the input was passed through untouched.
	Normalized bool
	// Attempts counts JPEG encodes performed.
	Attempts int
}

// Normalizer is stateless and safe for concurrent use.
type Normalizer struct {
	opts Options
}

// NewNormalizer fills zero or out-of-range options with defaults.
func NewNormalizer(opts Options) *Normalizer {
	def := DefaultOptions()
	if opts.QualityStart <= 0 || opts.QualityStart > 100 {
		opts.QualityStart = def.QualityStart
	}
	if opts.QualityFloor <= 0 || opts.QualityFloor > opts.QualityStart {
		opts.QualityFloor = min(def.QualityFloor, opts.QualityStart)
	}
	if opts.QualityStep <= 0 {
		opts.QualityStep = def.QualityStep
	}
	if opts.ShrinkRatio <= 0 || opts.ShrinkRatio >= 1 {
		opts.ShrinkRatio = def.ShrinkRatio
	}
	if opts.MinDimension <= 0 {
		opts.MinDimension = def.MinDimension
	}
	return &Normalizer{opts: opts}
}

// Normalize rotates raw upright, downscales it to maxDimension and re-encodes
// it as JPEG, lowering quality and then size until it fits maxBytes or the
// floors are reached. A non-positive maxBytes or maxDimension disables that limit.
func (n *Normalizer) Normalize(raw []byte, maxBytes, maxDimension int) Output {
	passThrough := Output{Data: raw, ContentType: http.DetectContentType(raw)}

	if _, _, err := image.DecodeConfig(bytes.NewReader(raw)); err != nil {
		return passThrough
	}
	img, err := decode(raw)
	if err != nil {
		return passThrough
	}

	img = orient(img, orientation(raw))

	if maxDimension > 0 {
		b := img.Bounds()
		if max(b.Dx(), b.Dy()) > maxDimension {
			img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
		}
	}
	img = flatten(img)

	out := n.converge(img, maxBytes)
	if out.Data == nil {
		return passThrough
	}
	return out
}

// converge runs the quality ladder at each size step. It returns the first
// encoding within budget, or the smallest one produced.
func (n *Normalizer) converge(img image.Image, maxBytes int) Output {
	var (
		best     []byte
		attempts int
	)
	for {
		q := n.opts.QualityStart
		for {
			data, err := encode(img, q)
			attempts++
			if err != nil {
				return Output{Data: best, ContentType: ContentTypeJPEG, Normalized: best != nil, Attempts: attempts}
			}
			if best == nil || len(data) < len(best) {
				best = data
			}
			if maxBytes <= 0 || len(data) <= maxBytes {
				return Output{Data: data, ContentType: ContentTypeJPEG, Normalized: true, Attempts: attempts}
			}
			if q <= n.opts.QualityFloor {
				break
			}
			q = max(q-n.opts.QualityStep, n.opts.QualityFloor)
		}

		b := img.Bounds()
		w := int(float64(b.Dx()) * n.opts.ShrinkRatio)
		h := int(float64(b.Dy()) * n.opts.ShrinkRatio)
		if max(w, h) < n.opts.MinDimension || w < 1 || h < 1 {
			return Output{Data: best, ContentType: ContentTypeJPEG, Normalized: true, Attempts: attempts}
		}
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
}

// decode recovers from decoder panics on malformed input.
func decode(raw []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, image.ErrFormat
		}
	}()
	return imaging.Decode(bytes.NewReader(raw))
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// orientation returns the EXIF orientation tag, or 1 when absent or unreadable.
func orientation(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return o
}

// orient applies the transform that makes an image with EXIF orientation o upright.
func orient(img image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// flatten composites img over white; JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
