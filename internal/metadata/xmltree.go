// internal/metadata/xmltree.go
package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

var errNoRoot = errors.New("xml: no root element")

// decodeXML converts an XML document into the same loose shape JSON decodes
// to: an element with child elements becomes map[string]any, an element
// without children becomes its trimmed text, and a child name seen more than
// once becomes []any in document order. Attributes are ignored.
func decodeXML(data []byte) (string, any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", nil, errNoRoot
		}
		if err != nil {
			return "", nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			v, err := decodeElement(dec)
			if err != nil {
				return "", nil, err
			}
			return start.Name.Local, v, nil
		}
	}
}

func decodeElement(dec *xml.Decoder) (any, error) {
	var (
		children map[string]any
		text     strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec)
			if err != nil {
				return nil, err
			}
			if children == nil {
				children = make(map[string]any)
			}
			addChild(children, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if children != nil {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}

func addChild(children map[string]any, name string, v any) {
	existing, ok := children[name]
	if !ok {
		children[name] = v
		return
	}
	// Element values are only ever maps or strings, so a slice here is
	// always one built from earlier siblings.
	if list, ok := existing.([]any); ok {
		children[name] = append(list, v)
		return
	}
	children[name] = []any{existing, v}
}
