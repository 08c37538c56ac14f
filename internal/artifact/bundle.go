/*
Copyright (c) 2025 Odd Kin <oddkin@oddkin.co>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/nlepage/go-tarfs"
)

const (
	// DescriptorDir is the directory inside a bundle holding feature repository descriptors
	DescriptorDir = "META-INF/features"
	// DefaultDescriptorExtension is the file extension of feature repository descriptors
	DefaultDescriptorExtension = ".repository"
)

// Package creates a bundle .tar.gz archive carrying a single descriptor under DescriptorDir
func Package(descriptorName string, descriptor []byte) ([]byte, error) {
	if descriptorName == "" || strings.Contains(descriptorName, "/") || strings.Contains(descriptorName, "..") {
		return nil, fmt.Errorf("invalid descriptor name: %q", descriptorName)
	}

	return createTarGzArchive(map[string][]byte{
		path.Join(DescriptorDir, descriptorName): descriptor,
	})
}

// createTarGzArchive writes the given entries, in sorted order, into a .tar.gz archive
func createTarGzArchive(entries map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer

	gzWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzWriter)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	modTime := time.Now()
	writtenDirs := map[string]bool{}
	for _, name := range names {
		cleanPath := strings.TrimPrefix(path.Clean(name), "/")
		if cleanPath == "." || strings.Contains(cleanPath, "..") {
			return nil, fmt.Errorf("invalid entry path: %s", name)
		}

		// Emit parent directory headers once, outermost first
		var dirs []string
		for dir := path.Dir(cleanPath); dir != "." && !writtenDirs[dir]; dir = path.Dir(dir) {
			writtenDirs[dir] = true
			dirs = append([]string{dir}, dirs...)
		}
		for _, dir := range dirs {
			header := &tar.Header{
				Typeflag: tar.TypeDir,
				Name:     dir + "/",
				Mode:     0o755,
				ModTime:  modTime,
			}
			if err := tarWriter.WriteHeader(header); err != nil {
				return nil, fmt.Errorf("failed to write tar header: %w", err)
			}
		}

		data := entries[name]
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     cleanPath,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  modTime,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write tar header: %w", err)
		}
		if _, err := tarWriter.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write data to tar: %w", err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// OpenBundle exposes a .tar.gz bundle as a read-only filesystem
func OpenBundle(data []byte) (fs.FS, error) {
	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer func() {
		_ = gzReader.Close()
	}()

	bundleFS, err := tarfs.New(gzReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create tarfs: %w", err)
	}

	return bundleFS, nil
}

// DescriptorEntries returns the sorted descriptor entry paths of a bundle filesystem
func DescriptorEntries(bundleFS fs.FS, extension string) ([]string, error) {
	if extension == "" {
		extension = DefaultDescriptorExtension
	}

	entries, err := fs.ReadDir(bundleFS, DescriptorDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", DescriptorDir, err)
	}

	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), extension) {
			continue
		}
		paths = append(paths, path.Join(DescriptorDir, entry.Name()))
	}
	sort.Strings(paths)

	return paths, nil
}

// ReadEntry reads a single entry out of a .tar.gz bundle
func ReadEntry(data []byte, entry string) ([]byte, error) {
	bundleFS, err := OpenBundle(data)
	if err != nil {
		return nil, err
	}

	content, err := fs.ReadFile(bundleFS, strings.TrimPrefix(path.Clean(entry), "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle entry %s: %w", entry, err)
	}

	return content, nil
}
