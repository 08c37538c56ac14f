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

package state

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

const (
	countSuffix = ".count"
	urlInfix    = ".url."
)

// Mapping records, per artifact key, the repository locations registered on its behalf
type Mapping map[string][]string

// Keys returns the artifact keys in sorted order
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the mapping
func (m Mapping) Clone() Mapping {
	clone := make(Mapping, len(m))
	for key, locations := range m {
		clone[key] = append([]string(nil), locations...)
	}
	return clone
}

// Encode renders the mapping as properties text:
//
//	<key>.count=<n>
//	<key>.url.<i>=<location>
//
// Artifact keys are written in sorted order; artifacts without locations are omitted.
func Encode(m Mapping) ([]byte, error) {
	p := properties.NewProperties()
	p.DisableExpansion = true

	for _, key := range m.Keys() {
		locations := m[key]
		if len(locations) == 0 {
			continue
		}
		if _, _, err := p.Set(key+countSuffix, strconv.Itoa(len(locations))); err != nil {
			return nil, fmt.Errorf("failed to set count for %s: %w", key, err)
		}
		for i, location := range locations {
			if _, _, err := p.Set(key+urlInfix+strconv.Itoa(i), location); err != nil {
				return nil, fmt.Errorf("failed to set location %d for %s: %w", i, key, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return nil, fmt.Errorf("failed to write properties: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode parses properties text written by Encode.
// Location entries beyond an artifact's count are ignored; a count larger than
// the number of entries is rejected.
func Decode(data []byte) (Mapping, error) {
	loader := properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}

	m := Mapping{}
	for _, k := range p.Keys() {
		if !strings.HasSuffix(k, countSuffix) {
			continue
		}
		key := strings.TrimSuffix(k, countSuffix)
		value, _ := p.Get(k)

		count, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || count < 0 {
			return nil, fmt.Errorf("invalid count %q for %s", value, key)
		}
		// Encode never writes more locations than there are entries
		if count > p.Len() {
			return nil, fmt.Errorf("count %d for %s exceeds the %d stored entries", count, key, p.Len())
		}

		var locations []string
		for i := 0; i < count; i++ {
			location, ok := p.Get(key + urlInfix + strconv.Itoa(i))
			if !ok || location == "" {
				continue
			}
			locations = append(locations, location)
		}
		if len(locations) > 0 {
			m[key] = locations
		}
	}

	return m, nil
}
