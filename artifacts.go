// artifacts.go — materializing run products onto storage.
//
// The emulator itself never touches the filesystem; this is the one place
// buffers leave memory. Storage goes through an afs.Service, so the same
// code writes to a local directory, mem:// in tests, or any other scheme
// the service supports.
//
// Layout under baseURL:
//
//	<doc>_artifacts/report.yaml
//	<doc>_artifacts/dropped/<n>_<sanitized-name>
package vmacro

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

// MaterializeArtifacts writes the report and every dropped file beneath
// baseURL. The returned URL is the artifact directory.
func MaterializeArtifacts(ctx context.Context, fs afs.Service, baseURL string, rep *Report, files []*FileObject) (string, error) {
	dir := url.Join(baseURL, artifactDirName(rep.Document))

	data, err := rep.ToYAML()
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := fs.Upload(ctx, url.Join(dir, "report.yaml"), os.FileMode(0644), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	for i, f := range files {
		name := fmt.Sprintf("%d_%s", i, sanitizeName(f.Path))
		dst := url.Join(dir, "dropped", name)
		if err := fs.Upload(ctx, dst, os.FileMode(0644), bytes.NewReader(f.Data)); err != nil {
			return "", fmt.Errorf("write dropped file %s: %w", f.Path, err)
		}
	}
	return dir, nil
}

func artifactDirName(doc string) string {
	if doc == "" {
		doc = "macro"
	}
	return sanitizeName(doc) + "_artifacts"
}

// sanitizeName reduces a macro-supplied path (usually Windows-style) to a
// safe flat file name.
func sanitizeName(path string) string {
	name := path
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "unnamed"
	}
	return sb.String()
}
