// Package upnpxml normalizes the XML documents UPnP devices serve:
// device descriptions and SCPDs. Real-world documents drift from the
// spec (namespace prefixes, odd casing, stray bytes before the prolog),
// so parsing goes through a tolerant element tree with case-insensitive
// lookups instead of rigid struct decoding.
package upnpxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrMalformedXML is returned when a document has no parseable root element.
var ErrMalformedXML = errors.New("malformed xml")

// Elem is one element in a parsed document. Tag names carry the local
// part only; namespace prefixes are dropped during decoding.
type Elem struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Children []*Elem
}

// Parse decodes an XML document into an element tree.
func Parse(data []byte) (*Elem, error) {
	dec := xml.NewDecoder(bytes.NewReader(sanitize(data)))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var root *Elem
	var stack []*Elem
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			e := &Elem{Name: t.Name.Local, Attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					// Trailing junk after the document element.
					continue
				}
				root = e
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, e)
			}
			stack = append(stack, e)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedXML)
	}
	return root, nil
}

// sanitize strips a UTF-8 BOM and any garbage bytes some firmwares emit
// before the XML prolog.
func sanitize(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if i := bytes.IndexByte(data, '<'); i > 0 {
		data = data[i:]
	}
	return data
}

// First returns the first direct child matching any of the given names,
// compared case-insensitively.
func (e *Elem) First(names ...string) *Elem {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		for _, n := range names {
			if strings.EqualFold(c.Name, n) {
				return c
			}
		}
	}
	return nil
}

// All returns every direct child matching name, compared case-insensitively.
func (e *Elem) All(name string) []*Elem {
	if e == nil {
		return nil
	}
	var out []*Elem
	for _, c := range e.Children {
		if strings.EqualFold(c.Name, name) {
			out = append(out, c)
		}
	}
	return out
}

// TextOf returns the trimmed text of the first child matching any name,
// or "" when absent.
func (e *Elem) TextOf(names ...string) string {
	c := e.First(names...)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text)
}

// FindDeep returns the first descendant with the given name, searching
// depth-first. Used to locate <device> regardless of wrapper elements.
func (e *Elem) FindDeep(name string) *Elem {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if strings.EqualFold(c.Name, name) {
			return c
		}
		if found := c.FindDeep(name); found != nil {
			return found
		}
	}
	return nil
}
