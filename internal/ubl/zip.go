package ubl

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Zip wraps one XML file into the ZIP envelope SUNAT uploads expect.
func Zip(fileName string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create(fileName)
	if err != nil {
		return nil, fmt.Errorf("ubl: create zip entry: %w", err)
	}
	if _, err := entry.Write(content); err != nil {
		return nil, fmt.Errorf("ubl: write zip entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ubl: close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// UnzipFirstXML extracts the first .xml entry of a ZIP blob. CDR archives
// carry one ApplicationResponse document plus an optional dummy folder entry.
func UnzipFirstXML(data []byte) (string, []byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("ubl: open zip: %w", err)
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", nil, fmt.Errorf("ubl: open zip entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", nil, fmt.Errorf("ubl: read zip entry %s: %w", f.Name, err)
		}
		return f.Name, content, nil
	}
	return "", nil, fmt.Errorf("ubl: no XML entry in zip")
}
