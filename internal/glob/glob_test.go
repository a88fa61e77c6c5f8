package glob

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetMatch(t *testing.T) {
	styles := MustNew("dev/static/styles/*.{scss,sass,css}", "!**/_*")
	images := MustNew("dev/static/img/**/*.{jpg,png,svg}", "!dev/static/img/sprite/**")

	tests := []struct {
		name string
		set  Set
		path string
		want bool
	}{
		{"top-level scss", styles, "dev/static/styles/styles.scss", true},
		{"plain css", styles, "dev/static/styles/reset.css", true},
		{"partial excluded", styles, "dev/static/styles/_vars.scss", false},
		{"nested not matched by single star", styles, "dev/static/styles/blocks/a.scss", false},
		{"wrong extension", styles, "dev/static/styles/notes.txt", false},
		{"nested image", images, "dev/static/img/photos/a.jpg", true},
		{"sprite excluded", images, "dev/static/img/sprite/icon.svg", false},
		{"unclean path", images, "dev/static/img/./b.png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.set.Match(tt.path))
		})
	}
}

func TestNewRejectsBadPatterns(t *testing.T) {
	_, err := New("dev/[a-")
	assert.Error(t, err)

	_, err = New("!dev/**")
	assert.Error(t, err, "a set of only excludes matches nothing")
}

func TestPatternsRoundTrip(t *testing.T) {
	s := MustNew("a/*.js", "!a/_*.js")
	again, err := New(s.Patterns()...)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestBases(t *testing.T) {
	s := MustNew("dev/templates/**/*.html", "dev/templates/data.yml", "dev/static/js/main.js")
	assert.Equal(t, []string{"dev/static/js", "dev/templates"}, s.Bases())
}

func TestExpand(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, p := range []string{
		"dev/static/styles/styles.scss",
		"dev/static/styles/_vars.scss",
		"dev/static/styles/app.css",
		"dev/static/styles/blocks/_header.scss",
	} {
		require.NoError(t, afero.WriteFile(fsys, p, []byte("x"), 0o644))
	}

	files, err := Expand(fsys, MustNew("dev/static/styles/*.{scss,css}", "!**/_*"))
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/static/styles/app.css", "dev/static/styles/styles.scss"}, files)
}

func TestExpandMissingBase(t *testing.T) {
	_, err := Expand(afero.NewMemMapFs(), MustNew("dev/static/js/*.js"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
