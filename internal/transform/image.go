package transform

import (
	"bytes"
	"context"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"strings"

	"github.com/beevik/etree"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
	"golang.org/x/image/webp"

	"github.com/conneroisu/stagehand/internal/errors"
)

// ImageOptions configures the per-format optimisers.
type ImageOptions struct {
	// GIFInterlaced and JPEGProgressive are accepted for configuration
	// compatibility; the Go encoders write non-interlaced GIF and baseline
	// JPEG only.
	GIFInterlaced   bool
	JPEGQuality     int
	JPEGProgressive bool
	// PNGLevel follows the optipng scale, 0 (fastest) to 7 (smallest).
	PNGLevel         int
	SVGRemoveViewBox bool
	SVGCleanupIDs    bool
}

// ImageOptimizer re-encodes images per format. An optimised image that comes
// out larger than its source keeps the source bytes. Images that cannot be
// decoded are skipped with a warning.
type ImageOptimizer struct {
	options ImageOptions
	minify  *minify.M
}

func NewImageOptimizer(options ImageOptions) *ImageOptimizer {
	m := minify.New()
	m.AddFunc("image/svg+xml", svg.Minify)
	return &ImageOptimizer{options: options, minify: m}
}

func (o *ImageOptimizer) Name() string { return "image-optimize" }

func (o *ImageOptimizer) Apply(ctx context.Context, files []File) ([]File, []*errors.AssetError, error) {
	var (
		out    []File
		faults []*errors.AssetError
	)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, faults, err
		}

		data, fault := o.optimize(f)
		if fault != nil {
			faults = append(faults, fileFault(fault, f))
			continue
		}
		if len(data) < len(f.Data) {
			f.Data = data
		}
		out = append(out, f)
	}

	return out, faults, nil
}

func (o *ImageOptimizer) optimize(f File) ([]byte, *errors.AssetError) {
	var buf bytes.Buffer

	switch strings.ToLower(path.Ext(f.Path)) {
	case ".jpg", ".jpeg":
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, undecodable("jpeg", err)
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.options.JPEGQuality}); err != nil {
			return nil, undecodable("jpeg", err)
		}

	case ".png":
		img, err := png.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, undecodable("png", err)
		}
		encoder := png.Encoder{CompressionLevel: pngCompression(o.options.PNGLevel)}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, undecodable("png", err)
		}

	case ".gif":
		img, err := gif.DecodeAll(bytes.NewReader(f.Data))
		if err != nil {
			return nil, undecodable("gif", err)
		}
		if err := gif.EncodeAll(&buf, img); err != nil {
			return nil, undecodable("gif", err)
		}

	case ".webp":
		if _, err := webp.DecodeConfig(bytes.NewReader(f.Data)); err != nil {
			return nil, undecodable("webp", err)
		}
		return f.Data, nil

	case ".svg":
		return o.optimizeSVG(f.Data)

	default:
		return nil, errors.NewTransformError(errors.ErrCodeUnsupportedAsset, "unsupported image format", nil)
	}

	return buf.Bytes(), nil
}

func (o *ImageOptimizer) optimizeSVG(data []byte) ([]byte, *errors.AssetError) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil || doc.Root() == nil {
		return nil, errors.NewTransformError(errors.ErrCodeMalformedSVG, "cannot parse svg", err)
	}
	root := doc.Root()

	if o.options.SVGRemoveViewBox {
		removeRedundantViewBox(root)
	}
	if o.options.SVGCleanupIDs {
		if err := removeUnusedIDs(doc); err != nil {
			return nil, errors.NewTransformError(errors.ErrCodeMalformedSVG, "cannot serialise svg", err)
		}
	}

	serialized, err := doc.WriteToBytes()
	if err != nil {
		return nil, errors.NewTransformError(errors.ErrCodeMalformedSVG, "cannot serialise svg", err)
	}
	minified, err := o.minify.Bytes("image/svg+xml", serialized)
	if err != nil {
		return nil, errors.NewTransformError(errors.ErrCodeMalformedSVG, "cannot minify svg", err)
	}
	return minified, nil
}

// removeRedundantViewBox drops a viewBox equal to "0 0 width height".
func removeRedundantViewBox(root *etree.Element) {
	viewBox := root.SelectAttrValue("viewBox", "")
	width := strings.TrimSuffix(root.SelectAttrValue("width", ""), "px")
	height := strings.TrimSuffix(root.SelectAttrValue("height", ""), "px")
	if viewBox == "" || width == "" || height == "" {
		return
	}
	if strings.Join(strings.Fields(strings.ReplaceAll(viewBox, ",", " ")), " ") == "0 0 "+width+" "+height {
		root.RemoveAttr("viewBox")
	}
}

// removeUnusedIDs drops id attributes nothing in the document refers to.
func removeUnusedIDs(doc *etree.Document) error {
	text, err := doc.WriteToString()
	if err != nil {
		return err
	}
	for _, el := range doc.FindElements("//*[@id]") {
		id := el.SelectAttrValue("id", "")
		if !strings.Contains(text, "#"+id) {
			el.RemoveAttr("id")
		}
	}
	return nil
}

func pngCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level == 1:
		return png.BestSpeed
	case level < 5:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func undecodable(format string, err error) *errors.AssetError {
	return errors.NewTransformError(errors.ErrCodeUnsupportedAsset, "cannot optimise "+format+" image", err)
}
