// Package ingest turns opaque file handles into labeled context text.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/medcortex/medcortex/schema"
)

// Reader resolves one opaque handle into file content.
type Reader interface {
	Read(ctx context.Context, handle string) (schema.File, error)
}

// Ingestor concatenates the files behind a request's handles into one
// block, each file under a provenance header naming its type and path.
type Ingestor struct {
	reader Reader
	log    *zap.Logger
}

func New(reader Reader, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{reader: reader, log: log}
}

// Ingest reads every handle in order. An empty handle list is the
// common case and returns empty content with a nil error. Unreadable
// handles are skipped and collected into the returned error; the
// content from readable handles is still returned alongside it.
func (ing *Ingestor) Ingest(ctx context.Context, handles []string) (string, error) {
	if len(handles) == 0 {
		return "", nil
	}

	var merr *multierror.Error
	blocks := make([]string, 0, len(handles))
	for _, handle := range handles {
		if strings.TrimSpace(handle) == "" {
			continue
		}
		file, err := ing.reader.Read(ctx, handle)
		if err != nil {
			ing.log.Warn("file handle unreadable",
				zap.String("handle", handle),
				zap.Error(err))
			merr = multierror.Append(merr, err)
			continue
		}
		if strings.TrimSpace(file.Content) == "" {
			continue
		}
		blocks = append(blocks, fileBlock(file))
	}
	return strings.Join(blocks, "\n\n"), merr.ErrorOrNil()
}

func fileBlock(f schema.File) string {
	kind := f.Type
	if kind == "" {
		kind = "document"
	}
	header := fmt.Sprintf("=== %s ===", kind)
	if f.Path != "" {
		header = fmt.Sprintf("=== %s: %s ===", kind, f.Path)
	}
	return header + "\n" + strings.TrimSpace(f.Content)
}
