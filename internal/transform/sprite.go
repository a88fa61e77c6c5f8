package transform

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/conneroisu/stagehand/internal/errors"
)

// strippedAttrs are removed from every icon element so the sprite can be
// coloured from CSS.
var strippedAttrs = []string{"fill", "stroke", "style"}

// SpriteSanitizer strips presentation attributes from SVG icons and pretty
// prints them.
type SpriteSanitizer struct{}

func (SpriteSanitizer) Name() string { return "sprite-sanitize" }

func (SpriteSanitizer) Apply(_ context.Context, files []File) ([]File, []*errors.AssetError, error) {
	var (
		out    []File
		faults []*errors.AssetError
	)

	for _, f := range files {
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(f.Data); err != nil || doc.Root() == nil {
			faults = append(faults, fileFault(errors.NewTransformError(errors.ErrCodeMalformedSVG, "cannot parse sprite icon", err), f))
			continue
		}

		for _, el := range append([]*etree.Element{doc.Root()}, doc.Root().FindElements(".//*")...) {
			for _, attr := range strippedAttrs {
				el.RemoveAttr(attr)
			}
		}
		doc.Indent(2)

		text, err := doc.WriteToString()
		if err != nil {
			faults = append(faults, fileFault(errors.NewTransformError(errors.ErrCodeMalformedSVG, "cannot serialise sprite icon", err), f))
			continue
		}
		f.Data = []byte(strings.ReplaceAll(text, "&gt;", ">"))
		out = append(out, f)
	}

	return out, faults, nil
}

// SpritePacker merges icons into one symbol sprite. Each icon becomes a
// <symbol> whose id is the icon's file name without extension.
type SpritePacker struct {
	// Output is the sprite path relative to the task destination.
	Output string
	Minify bool
	minify *minify.M
}

func NewSpritePacker(output string, minifyOutput bool) *SpritePacker {
	m := minify.New()
	m.AddFunc("image/svg+xml", svg.Minify)
	return &SpritePacker{Output: output, Minify: minifyOutput, minify: m}
}

func (p *SpritePacker) Name() string { return "sprite-pack" }

func (p *SpritePacker) Apply(_ context.Context, files []File) ([]File, []*errors.AssetError, error) {
	if len(files) == 0 {
		return nil, nil, nil
	}

	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return symbolID(sorted[i]) < symbolID(sorted[j]) })

	sprite := etree.NewDocument()
	sprite.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := sprite.CreateElement("svg")
	root.CreateAttr("xmlns", "http://www.w3.org/2000/svg")
	root.CreateAttr("xmlns:xlink", "http://www.w3.org/1999/xlink")

	var faults []*errors.AssetError
	seen := make(map[string]string)
	for _, f := range sorted {
		id := symbolID(f)
		if owner, dup := seen[id]; dup {
			faults = append(faults, fileFault(errors.NewTransformError(errors.ErrCodeMalformedSVG,
				fmt.Sprintf("symbol id %q already used by %s", id, owner), nil), f))
			continue
		}

		icon := etree.NewDocument()
		if err := icon.ReadFromBytes(f.Data); err != nil || icon.Root() == nil {
			faults = append(faults, fileFault(errors.NewTransformError(errors.ErrCodeMalformedSVG, "cannot parse sprite icon", err), f))
			continue
		}
		seen[id] = f.Path

		symbol := root.CreateElement("symbol")
		if viewBox := iconViewBox(icon.Root()); viewBox != "" {
			symbol.CreateAttr("viewBox", viewBox)
		}
		symbol.CreateAttr("id", id)
		for _, child := range icon.Root().ChildElements() {
			symbol.AddChild(child.Copy())
		}
	}

	sprite.Indent(2)
	data, err := sprite.WriteToBytes()
	if err != nil {
		return nil, faults, errors.NewInternalError(errors.ErrCodeInternalError, "cannot serialise sprite", err)
	}
	if p.Minify {
		if data, err = p.minify.Bytes("image/svg+xml", data); err != nil {
			return nil, faults, errors.NewInternalError(errors.ErrCodeInternalError, "cannot minify sprite", err)
		}
	}

	return []File{{Path: p.Output, Data: data}}, faults, nil
}

func symbolID(f File) string {
	return WithExt(path.Base(f.Path), "")
}

func iconViewBox(root *etree.Element) string {
	if viewBox := root.SelectAttrValue("viewBox", ""); viewBox != "" {
		return viewBox
	}
	width := strings.TrimSuffix(root.SelectAttrValue("width", ""), "px")
	height := strings.TrimSuffix(root.SelectAttrValue("height", ""), "px")
	if width == "" || height == "" {
		return ""
	}
	return "0 0 " + width + " " + height
}
