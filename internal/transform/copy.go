package transform

import (
	"bytes"
	"context"

	"github.com/conneroisu/stagehand/internal/errors"
)

// Copy passes files through unchanged.
type Copy struct{}

func (Copy) Name() string { return "copy" }

func (Copy) Apply(_ context.Context, files []File) ([]File, []*errors.AssetError, error) {
	return files, nil, nil
}

// Concat joins every input file, in input order, into a single file named
// Output. Files are separated by a newline.
type Concat struct {
	Output string
}

func (c Concat) Name() string { return "concat" }

func (c Concat) Apply(_ context.Context, files []File) ([]File, []*errors.AssetError, error) {
	if len(files) == 0 {
		return nil, nil, nil
	}

	var buf bytes.Buffer
	for i, f := range files {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(f.Data)
	}

	return []File{{Path: c.Output, Data: buf.Bytes()}}, nil, nil
}
