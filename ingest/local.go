package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/medcortex/medcortex/schema"
)

const defaultMaxFileBytes = 1 << 20

// LocalReader resolves handles against the local filesystem. A handle
// is either a JSON descriptor
//
//	{"path": "/data/report.txt", "type": "lab_report"}
//	{"content": "inline text", "type": "note"}
//
// or a bare path string. Inline content wins over the path when both
// are present.
type LocalReader struct {
	maxBytes int64
}

func NewLocalReader(maxBytes int64) *LocalReader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	return &LocalReader{maxBytes: maxBytes}
}

func (r *LocalReader) Read(ctx context.Context, handle string) (schema.File, error) {
	if err := ctx.Err(); err != nil {
		return schema.File{}, err
	}

	desc := strings.TrimSpace(handle)
	var path, kind, content string
	if strings.HasPrefix(desc, "{") && gjson.Valid(desc) {
		path = gjson.Get(desc, "path").String()
		kind = gjson.Get(desc, "type").String()
		content = gjson.Get(desc, "content").String()
	} else {
		path = desc
	}

	if content != "" {
		return schema.File{Content: content, Type: kind, Path: path}, nil
	}
	if path == "" {
		return schema.File{}, fmt.Errorf("handle carries neither content nor path: %q", handle)
	}

	f, err := os.Open(path)
	if err != nil {
		return schema.File{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// Oversized files are cut at the byte cap rather than rejected.
	// Reading one byte past the cap tells a file that fills it exactly
	// apart from one that overflows it.
	data, err := io.ReadAll(io.LimitReader(f, r.maxBytes+1))
	if err != nil {
		return schema.File{}, fmt.Errorf("read %s: %w", path, err)
	}
	content = string(data)
	if int64(len(data)) > r.maxBytes {
		content = schema.TruncateAt(content, int(r.maxBytes))
	}
	return schema.File{Content: content, Type: kind, Path: path}, nil
}
