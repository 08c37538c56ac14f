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
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// BundleEnumerator implements Enumerator for bundle archives and wrapped descriptors
type BundleEnumerator struct {
	reader        *Reader
	extension     string
	publicBaseURL string
}

// NewBundleEnumerator creates an enumerator reading artifacts through reader.
// When publicBaseURL is set, descriptors inside local bundles are published as
// "<publicBaseURL>/<bundle file>/<entry>" so a remote registry can resolve them.
func NewBundleEnumerator(reader *Reader, extension, publicBaseURL string) *BundleEnumerator {
	if extension == "" {
		extension = DefaultDescriptorExtension
	}
	return &BundleEnumerator{
		reader:        reader,
		extension:     extension,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

// Locations returns the descriptor locations carried by the artifact
func (e *BundleEnumerator) Locations(ctx context.Context, a Artifact) ([]string, error) {
	log := logf.FromContext(ctx)

	if inner, ok := UnwrapFeature(a.Location); ok {
		return []string{inner}, nil
	}

	data, err := e.reader.Read(ctx, a.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", a.Location, err)
	}

	bundleFS, err := OpenBundle(data)
	if err != nil {
		log.V(1).Info("Artifact is not a bundle archive", "location", a.Location, "reason", err.Error())
		return nil, nil
	}

	entries, err := DescriptorEntries(bundleFS, e.extension)
	if err != nil {
		return nil, err
	}

	locations := make([]string, 0, len(entries))
	for _, entry := range entries {
		locations = append(locations, e.entryLocation(a.Location, entry))
	}

	return locations, nil
}

func (e *BundleEnumerator) entryLocation(archive, entry string) string {
	if e.publicBaseURL != "" {
		if filePath, ok := LocalPath(archive); ok {
			return e.publicBaseURL + "/" + url.PathEscape(filepath.Base(filePath)) + "/" + entry
		}
	}
	return BundleEntryLocation(archive, entry)
}
