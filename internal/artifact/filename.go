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
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DefaultVersion is used when an artifact file name carries no version
const DefaultVersion = "0.0.0"

var bundleExtensions = []string{".tar.gz", ".tgz", DefaultDescriptorExtension, ".xml"}

// ParseFileName derives an artifact name and version from a bundle or descriptor file name.
// The name is split at the first '-' whose remainder parses as a semantic version, so
// "acme-features-1.2.0-SNAPSHOT.tar.gz" yields ("acme-features", "1.2.0-SNAPSHOT").
func ParseFileName(fileName string) (name, version string) {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	for _, ext := range bundleExtensions {
		if strings.HasSuffix(base, ext) && len(base) > len(ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}

	for i := 0; i < len(base); i++ {
		if base[i] != '-' || i == 0 || i == len(base)-1 {
			continue
		}
		candidate := base[i+1:]
		if _, err := semver.NewVersion(candidate); err == nil {
			return base[:i], candidate
		}
	}

	return base, DefaultVersion
}

// FromFile builds the artifact identity of a local bundle or descriptor file
func FromFile(filePath string) Artifact {
	name, version := ParseFileName(filePath)
	return Artifact{
		Name:     name,
		Version:  version,
		Location: filePath,
	}
}
