package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arrowIcon = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 16 16" fill="red"><path d="M0 0h16" stroke="#000" style="opacity:.5"/></svg>`

const closeIcon = `<svg xmlns="http://www.w3.org/2000/svg" width="24" height="24"><g fill="blue"><path d="M1 1l22 22"/></g></svg>`

func TestSpriteSanitizerStripsPresentation(t *testing.T) {
	out, faults, err := SpriteSanitizer{}.Apply(context.Background(), []File{
		{Path: "arrow.svg", Data: []byte(arrowIcon)},
	})
	require.NoError(t, err)
	assert.Empty(t, faults)
	require.Len(t, out, 1)

	text := string(out[0].Data)
	for _, attr := range []string{"fill=", "stroke=", "style="} {
		assert.NotContains(t, text, attr)
	}
	assert.Contains(t, text, "\n  <path", "icons are pretty printed")
}

func TestSpritePackerBuildsSortedSymbols(t *testing.T) {
	files, _, err := SpriteSanitizer{}.Apply(context.Background(), []File{
		{Path: "close.svg", Data: []byte(closeIcon)},
		{Path: "arrow.svg", Data: []byte(arrowIcon)},
	})
	require.NoError(t, err)

	out, faults, err := NewSpritePacker("symbol/sprite.svg", false).Apply(context.Background(), files)
	require.NoError(t, err)
	assert.Empty(t, faults)
	require.Len(t, out, 1)
	assert.Equal(t, "symbol/sprite.svg", out[0].Path)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out[0].Data))
	symbols := doc.Root().SelectElements("symbol")
	require.Len(t, symbols, 2)
	assert.Equal(t, "arrow", symbols[0].SelectAttrValue("id", ""))
	assert.Equal(t, "0 0 16 16", symbols[0].SelectAttrValue("viewBox", ""))
	assert.Equal(t, "close", symbols[1].SelectAttrValue("id", ""))
	assert.Equal(t, "0 0 24 24", symbols[1].SelectAttrValue("viewBox", ""))
}

func TestSpritePackerIsDeterministic(t *testing.T) {
	icons := []File{
		{Path: "b.svg", Data: []byte(arrowIcon)},
		{Path: "a.svg", Data: []byte(closeIcon)},
	}
	reversed := []File{icons[1], icons[0]}

	first, _, err := NewSpritePacker("sprite.svg", true).Apply(context.Background(), icons)
	require.NoError(t, err)
	second, _, err := NewSpritePacker("sprite.svg", true).Apply(context.Background(), reversed)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSpritePackerSkipsMalformedIcon(t *testing.T) {
	out, faults, err := NewSpritePacker("sprite.svg", false).Apply(context.Background(), []File{
		{Path: "ok.svg", Data: []byte(arrowIcon)},
		{Path: "bad.svg", Data: []byte("<svg width=></svg>")},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, faults, 1)
	assert.Equal(t, "bad.svg", faults[0].File)
	assert.Equal(t, 1, strings.Count(string(out[0].Data), "<symbol"))
}

func TestSpritePackerNoIcons(t *testing.T) {
	out, faults, err := NewSpritePacker("sprite.svg", false).Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, faults)
	assert.Empty(t, out)
}
