// Package datex normalizes DATEX II situation publications into domain
// incidents. Two schema families are supported: the v3.6 documents served
// by the national feed and the v1.0 documents served by the regional feeds.
// Which parser handles which source is fixed configuration; documents are
// never sniffed.
package datex

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roadwatch/incident-etl/internal/config"
	"github.com/roadwatch/incident-etl/internal/domain"
)

// Batch is the result of parsing one feed document. Skipped counts
// situation records that were structurally unusable; a malformed record
// never fails the batch.
type Batch struct {
	Incidents       []domain.ParsedIncident
	PublicationTime *time.Time
	Skipped         int
}

// Parser turns a raw feed document into a normalized batch.
type Parser interface {
	Parse(doc []byte) (Batch, error)
}

// ForSchema returns the parser for a configured schema family.
func ForSchema(schema string) (Parser, error) {
	switch schema {
	case config.SchemaDatexV36:
		return v36Parser{}, nil
	case config.SchemaDatexV10:
		return v10Parser{}, nil
	default:
		return nil, fmt.Errorf("unknown feed schema %q", schema)
	}
}

// node is a lightweight DOM over one situation element. The feeds nest the
// same fields at different depths across dialects and publishers, so lookups
// are depth-first by local element name rather than by fixed path.
type node struct {
	name     string
	attrs    map[string]string
	text     string
	children []*node
}

func (n *node) attr(key string) string {
	if n == nil {
		return ""
	}
	return n.attrs[key]
}

// find returns the first descendant with the given local name, depth first.
func (n *node) find(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findText returns the trimmed text of the first matching descendant.
func (n *node) findText(name string) string {
	if found := n.find(name); found != nil {
		return strings.TrimSpace(found.text)
	}
	return ""
}

// findAll returns every descendant with the given local name, depth first.
func (n *node) findAll(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// decodeNode reads one element subtree into a node. Attribute names keep
// only their local part, so xsi:type is reachable as "type".
func decodeNode(d *xml.Decoder, start xml.StartElement) (*node, error) {
	n := &node{name: start.Name.Local, attrs: make(map[string]string, len(start.Attr))}
	for _, a := range start.Attr {
		n.attrs[a.Name.Local] = a.Value
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeNode(d, t)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		case xml.CharData:
			n.text += string(t)
		case xml.EndElement:
			return n, nil
		}
	}
}

// parseDocument streams the document, capturing the publication time and
// handing each situation subtree to the callback.
func parseDocument(doc []byte, handle func(*node)) (*time.Time, error) {
	d := xml.NewDecoder(bytes.NewReader(doc))

	var pubTime *time.Time
	sawRoot := false
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding feed document: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		switch start.Name.Local {
		case "publicationTime":
			var raw string
			if err := d.DecodeElement(&raw, &start); err != nil {
				return nil, fmt.Errorf("decoding publication time: %w", err)
			}
			pubTime = parseTimestamp(raw)
		case "situation":
			n, err := decodeNode(d, start)
			if err != nil {
				return nil, fmt.Errorf("decoding situation: %w", err)
			}
			handle(n)
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("feed document has no XML content")
	}
	return pubTime, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// parseTimestamp accepts the timestamp shapes seen across the feeds.
// Offset-less values are taken as UTC. Unparseable values return nil.
func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseVersion reads a record version attribute. Records published without
// one are treated as version 1 so a later versioned update still wins.
func parseVersion(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 1 {
		return 1
	}
	return v
}

func parseCoord(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// pointFrom reads a lat/lon pair out of a coordinate-bearing node.
func pointFrom(n *node) (float64, float64, bool) {
	if n == nil {
		return 0, 0, false
	}
	lat, okLat := parseCoord(n.findText("latitude"))
	lon, okLon := parseCoord(n.findText("longitude"))
	if !okLat || !okLon {
		return 0, 0, false
	}
	return lat, lon, true
}

// recordGeometry reads the record's location. Linear locations take the "to"
// end as the primary point, falling back to "from" when "to" carries no
// coordinates; point locations carry a bare coordinate pair. When both ends
// parse, the "from" end is kept as the secondary endpoint.
func recordGeometry(rec *node) *domain.Geometry {
	to := rec.find("to")
	from := rec.find("from")

	lat, lon, ok := pointFrom(to)
	end := from
	if !ok {
		lat, lon, ok = pointFrom(from)
		end = nil
	}
	if !ok {
		lat, lon, ok = pointFrom(rec.find("pointCoordinates"))
	}
	if !ok {
		return nil
	}
	geom := &domain.Geometry{Lat: lat, Lon: lon}
	if endLat, endLon, ok := pointFrom(end); ok {
		geom.EndLat = &endLat
		geom.EndLon = &endLon
	}
	return geom
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
