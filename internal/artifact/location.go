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
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	// BundlePrefix marks a location that addresses an entry inside a bundle archive
	BundlePrefix = "bundle:"
	// FeaturePrefix marks a synthetic artifact wrapping a bare descriptor location
	FeaturePrefix = "feature:"
	// EntrySeparator separates the archive location from the entry path
	EntrySeparator = "!/"
)

// BundleEntryLocation returns the location of entry inside the archive at archiveLocation
func BundleEntryLocation(archiveLocation, entry string) string {
	return BundlePrefix + archiveLocation + EntrySeparator + strings.TrimPrefix(entry, "/")
}

// SplitBundleLocation splits a bundle entry location into the archive location and entry path
func SplitBundleLocation(location string) (archive, entry string, ok bool) {
	if !strings.HasPrefix(location, BundlePrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(location, BundlePrefix)
	idx := strings.LastIndex(rest, EntrySeparator)
	if idx <= 0 || idx+len(EntrySeparator) == len(rest) {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(EntrySeparator):], true
}

// WrapFeature turns a descriptor location into a synthetic artifact location
func WrapFeature(location string) string {
	return FeaturePrefix + location
}

// UnwrapFeature returns the descriptor location wrapped by WrapFeature
func UnwrapFeature(location string) (string, bool) {
	if !strings.HasPrefix(location, FeaturePrefix) {
		return "", false
	}
	inner := strings.TrimPrefix(location, FeaturePrefix)
	return inner, inner != ""
}

// FileName returns the last path element of a location.
// Two locations with the same file name are considered versions of the same repository file.
func FileName(location string) string {
	if inner, ok := UnwrapFeature(location); ok {
		location = inner
	}
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && u.Opaque == "" {
		location = u.Path
	}
	return path.Base(location)
}

// LocalPath returns the filesystem path of a plain path or file:// location
func LocalPath(location string) (string, bool) {
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return "", false
		}
		return filepath.FromSlash(u.Path), true
	}
	if strings.Contains(location, "://") || strings.HasPrefix(location, BundlePrefix) || strings.HasPrefix(location, FeaturePrefix) {
		return "", false
	}
	return location, location != ""
}

// FileURL returns the file:// URL for a local path
func FileURL(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return u.String()
}
