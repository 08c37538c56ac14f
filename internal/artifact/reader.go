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
	"os"
	"strings"
)

// Reader resolves artifact and descriptor locations to their content.
// Supported forms are local paths, file:// and http(s):// URLs, bundle entries
// ("bundle:<archive>!/<entry>") and wrapped descriptors ("feature:<location>").
type Reader struct {
	fetcher Fetcher
}

// NewReader creates a reader; fetcher may be nil when only local content is used
func NewReader(fetcher Fetcher) *Reader {
	return &Reader{fetcher: fetcher}
}

// Read returns the content addressed by location
func (r *Reader) Read(ctx context.Context, location string) ([]byte, error) {
	if inner, ok := UnwrapFeature(location); ok {
		return r.Read(ctx, inner)
	}

	if strings.HasPrefix(location, BundlePrefix) {
		archive, entry, ok := SplitBundleLocation(location)
		if !ok {
			return nil, fmt.Errorf("malformed bundle location: %s", location)
		}
		archiveData, err := r.Read(ctx, archive)
		if err != nil {
			return nil, err
		}
		return ReadEntry(archiveData, entry)
	}

	if filePath, ok := LocalPath(location); ok {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
		}
		return data, nil
	}

	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if r.fetcher == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", location)
		}
		return r.fetcher.Fetch(ctx, location)
	}

	return nil, fmt.Errorf("unsupported location: %s", location)
}
