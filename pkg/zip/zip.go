// Package zip bundles stored screenshots into a single archive download.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

type Asset struct {
	Filename string
	Data     []byte
	Modified time.Time
}

// Write streams assets into w as a zip archive. Repeated file names get a
// numeric suffix so no entry is shadowed.
func Write(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(used, asset.Filename)
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: asset.Modified}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func uniqueName(used map[string]int, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
