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

// Package descriptor parses feature repository descriptors, the XML documents
// that list a repository's features and the bundles each feature installs.
package descriptor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RootElement is the local name of a descriptor's document element
const RootElement = "features"

// Install modes a feature may declare
const (
	InstallAuto   = "auto"
	InstallManual = "manual"
)

// DefaultFeatureVersion is assumed for features without a version attribute
const DefaultFeatureVersion = "0.0.0"

// KnownNamespaces are the descriptor schema namespaces that are accepted.
// A document without a namespace is accepted as well.
var KnownNamespaces = []string{
	"http://karaf.apache.org/xmlns/features/v1.0.0",
	"http://karaf.apache.org/xmlns/features/v1.1.0",
	"http://karaf.apache.org/xmlns/features/v1.2.0",
	"http://karaf.apache.org/xmlns/features/v1.3.0",
	"http://karaf.apache.org/xmlns/features/v1.4.0",
}

// ErrNotDescriptor is returned when a document's root is not a features element
var ErrNotDescriptor = errors.New("document is not a feature repository descriptor")

// Descriptor is a parsed feature repository document
type Descriptor struct {
	XMLName      xml.Name  `xml:"features"`
	Name         string    `xml:"name,attr"`
	Repositories []string  `xml:"repository"`
	Features     []Feature `xml:"feature"`
}

// Namespace returns the schema namespace of the document element
func (d *Descriptor) Namespace() string {
	return d.XMLName.Space
}

// Feature is a named, versioned group of bundles
type Feature struct {
	Name        string   `xml:"name,attr" json:"name"`
	Version     string   `xml:"version,attr" json:"version"`
	Install     string   `xml:"install,attr" json:"install,omitempty"`
	Description string   `xml:"description,attr" json:"description,omitempty"`
	Bundles     []string `xml:"bundle" json:"bundles,omitempty"`
}

// IsAutoInstall reports whether the feature declares install="auto"
func (f Feature) IsAutoInstall() bool {
	return f.Install == InstallAuto
}

// IsKnownNamespace reports whether namespace is accepted, ignoring case.
// The empty namespace is accepted.
func IsKnownNamespace(namespace string) bool {
	if namespace == "" {
		return true
	}
	for _, known := range KnownNamespaces {
		if strings.EqualFold(known, namespace) {
			return true
		}
	}
	return false
}

// Root returns the local name and namespace of the document element
func Root(data []byte) (name, namespace string, err error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", "", fmt.Errorf("document has no root element")
			}
			return "", "", fmt.Errorf("failed to parse document: %w", err)
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name.Local, start.Name.Space, nil
		}
	}
}

// Parse decodes a descriptor document.
// Features without a version are given DefaultFeatureVersion.
func Parse(data []byte) (*Descriptor, error) {
	name, _, err := Root(data)
	if err != nil {
		return nil, err
	}
	if name != RootElement {
		return nil, fmt.Errorf("%w: root element is %q", ErrNotDescriptor, name)
	}

	var d Descriptor
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor: %w", err)
	}

	for i := range d.Features {
		d.Features[i].Name = strings.TrimSpace(d.Features[i].Name)
		if d.Features[i].Version == "" {
			d.Features[i].Version = DefaultFeatureVersion
		}
		for j := range d.Features[i].Bundles {
			d.Features[i].Bundles[j] = strings.TrimSpace(d.Features[i].Bundles[j])
		}
	}
	for i := range d.Repositories {
		d.Repositories[i] = strings.TrimSpace(d.Repositories[i])
	}

	return &d, nil
}
