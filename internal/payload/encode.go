package payload

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
)

// encodeJSON writes a group as an object with keys in child order, a repeat
// as an array of its instances, and a leaf as a JSON string.
func encodeJSON(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, n *Node) error {
	if !n.IsGroup() {
		return writeJSONString(buf, n.Value)
	}
	if n.Repeat {
		buf.WriteByte('[')
		for i, c := range n.Children {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}
	buf.WriteByte('{')
	for i, c := range n.Children {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(buf, c.Name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSON(buf, c); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeJSONString writes s as a JSON string literal, leaving HTML
// characters unescaped.
func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// encodeXML writes the whole document rooted at an element named after root.
func encodeXML(root *Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := writeXML(enc, root); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeXMLChildren writes the children of n without n's own element.
func encodeXMLChildren(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	for _, c := range n.Children {
		if err := writeXML(enc, c); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeXML writes n as one element, or a repeat as one sibling element per
// instance.
func writeXML(enc *xml.Encoder, n *Node) error {
	if n.Repeat {
		for _, c := range n.Children {
			if err := writeXML(enc, c); err != nil {
				return err
			}
		}
		return nil
	}
	start := xml.StartElement{Name: xml.Name{Local: n.Name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if n.IsGroup() {
		for _, c := range n.Children {
			if err := writeXML(enc, c); err != nil {
				return err
			}
		}
	} else if n.Value != "" {
		if err := enc.EncodeToken(xml.CharData(n.Value)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func escapeXMLText(s string) ([]byte, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
