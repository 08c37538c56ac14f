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

package descriptor

import (
	"context"
	"fmt"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
)

// Loader reads and parses descriptors by location
type Loader struct {
	reader *artifact.Reader
}

// NewLoader creates a descriptor loader on top of an artifact reader
func NewLoader(reader *artifact.Reader) *Loader {
	return &Loader{reader: reader}
}

// Load reads the descriptor at location. Every call reads the location again.
func (l *Loader) Load(ctx context.Context, location string) (*Descriptor, error) {
	data, err := l.reader.Read(ctx, location)
	if err != nil {
		return nil, err
	}

	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", location, err)
	}

	return d, nil
}
