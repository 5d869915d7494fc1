// Package plymesh reads the triangle meshes that ship with 3RScan and ScanNet.
// We only need vertex positions, vertex colors, a per-vertex label, and
// triangle faces, so this is not a general purpose PLY library.
package plymesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

var ErrUnsupported = errors.New("Unsupported PLY file")

// The vertex property that holds the instance label in 3RScan's labels.instances.annotated.v2.ply
const DefaultLabelProperty = "objectId"

type Format int

const (
	FormatASCII Format = iota
	FormatBinaryLittleEndian
	FormatBinaryBigEndian
)

// Mesh is a triangle mesh with one color and one label per vertex
type Mesh struct {
	Vertices [][3]float64
	Colors   [][3]uint8 // Empty if the file has no red/green/blue properties
	Labels   []int32    // Empty if the file has no label property
	Faces    [][3]int32
}

type property struct {
	name      string
	typ       string // scalar type, or item type for lists
	isList    bool
	countType string
}

type element struct {
	name  string
	count int
	props []property
}

type header struct {
	format   Format
	elements []element
}

// ReadFile reads a PLY mesh, extracting 'labelProperty' as the per-vertex label.
// If labelProperty is empty, DefaultLabelProperty is used.
func ReadFile(filename string, labelProperty string) (*Mesh, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Read(bufio.NewReaderSize(f, 1<<20), labelProperty)
	if err != nil {
		return nil, fmt.Errorf("Failed to read PLY %v: %w", filename, err)
	}
	return m, nil
}

func Read(r *bufio.Reader, labelProperty string) (*Mesh, error) {
	if labelProperty == "" {
		labelProperty = DefaultLabelProperty
	}
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	m := &Mesh{}
	for _, el := range h.elements {
		switch el.name {
		case "vertex":
			err = readVertices(r, h.format, &el, labelProperty, m)
		case "face":
			err = readFaces(r, h.format, &el, m)
		default:
			err = skipElement(r, h.format, &el)
		}
		if err != nil {
			return nil, fmt.Errorf("Element '%v': %w", el.name, err)
		}
	}
	return m, nil
}

func readHeader(r *bufio.Reader) (*header, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(line) != "ply" {
		return nil, fmt.Errorf("%w: missing 'ply' magic", ErrUnsupported)
	}
	h := &header{}
	haveFormat := false
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("Truncated PLY header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: bad format line", ErrUnsupported)
			}
			switch fields[1] {
			case "ascii":
				h.format = FormatASCII
			case "binary_little_endian":
				h.format = FormatBinaryLittleEndian
			case "binary_big_endian":
				h.format = FormatBinaryBigEndian
			default:
				return nil, fmt.Errorf("%w: format %v", ErrUnsupported, fields[1])
			}
			haveFormat = true
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: bad element line '%v'", ErrUnsupported, strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("%w: bad element count '%v'", ErrUnsupported, fields[2])
			}
			h.elements = append(h.elements, element{name: fields[1], count: count})
		case "property":
			if len(h.elements) == 0 {
				return nil, fmt.Errorf("%w: property before element", ErrUnsupported)
			}
			el := &h.elements[len(h.elements)-1]
			if len(fields) == 5 && fields[1] == "list" {
				el.props = append(el.props, property{name: fields[4], typ: fields[3], isList: true, countType: fields[2]})
			} else if len(fields) == 3 {
				el.props = append(el.props, property{name: fields[2], typ: fields[1]})
			} else {
				return nil, fmt.Errorf("%w: bad property line '%v'", ErrUnsupported, strings.TrimSpace(line))
			}
		case "end_header":
			if !haveFormat {
				return nil, fmt.Errorf("%w: no format line", ErrUnsupported)
			}
			return h, nil
		}
		// comment, obj_info, and anything else we don't understand is ignored
	}
}

func typeSize(typ string) int {
	switch typ {
	case "char", "uchar", "int8", "uint8":
		return 1
	case "short", "ushort", "int16", "uint16":
		return 2
	case "int", "uint", "int32", "uint32", "float", "float32":
		return 4
	case "double", "float64":
		return 8
	}
	return 0
}

// valueReader reads scalars in the file's encoding, always returning float64
type valueReader struct {
	r      *bufio.Reader
	format Format
	buf    [8]byte
	tokens []string
}

func (v *valueReader) order() binary.ByteOrder {
	if v.format == FormatBinaryBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// nextLine loads the tokens of the next ascii line
func (v *valueReader) nextLine() error {
	for {
		line, err := v.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return err
		}
		v.tokens = strings.Fields(line)
		if len(v.tokens) != 0 {
			return nil
		}
	}
}

func (v *valueReader) read(typ string) (float64, error) {
	if v.format == FormatASCII {
		if len(v.tokens) == 0 {
			return 0, fmt.Errorf("Not enough values on line")
		}
		tok := v.tokens[0]
		v.tokens = v.tokens[1:]
		return strconv.ParseFloat(tok, 64)
	}
	size := typeSize(typ)
	if size == 0 {
		return 0, fmt.Errorf("%w: property type %v", ErrUnsupported, typ)
	}
	b := v.buf[:size]
	if _, err := io.ReadFull(v.r, b); err != nil {
		return 0, err
	}
	o := v.order()
	switch typ {
	case "char", "int8":
		return float64(int8(b[0])), nil
	case "uchar", "uint8":
		return float64(b[0]), nil
	case "short", "int16":
		return float64(int16(o.Uint16(b))), nil
	case "ushort", "uint16":
		return float64(o.Uint16(b)), nil
	case "int", "int32":
		return float64(int32(o.Uint32(b))), nil
	case "uint", "uint32":
		return float64(o.Uint32(b)), nil
	case "float", "float32":
		return float64(math.Float32frombits(o.Uint32(b))), nil
	default:
		return math.Float64frombits(o.Uint64(b)), nil
	}
}

func readVertices(r *bufio.Reader, format Format, el *element, labelProperty string, m *Mesh) error {
	idx := map[string]int{}
	for i, p := range el.props {
		if p.isList {
			return fmt.Errorf("%w: list property '%v' on vertex", ErrUnsupported, p.name)
		}
		idx[p.name] = i
	}
	for _, req := range []string{"x", "y", "z"} {
		if _, ok := idx[req]; !ok {
			return fmt.Errorf("%w: vertex has no '%v' property", ErrUnsupported, req)
		}
	}
	_, hasRed := idx["red"]
	_, hasGreen := idx["green"]
	_, hasBlue := idx["blue"]
	hasColor := hasRed && hasGreen && hasBlue
	labelIdx, hasLabel := idx[labelProperty]

	m.Vertices = make([][3]float64, el.count)
	if hasColor {
		m.Colors = make([][3]uint8, el.count)
	}
	if hasLabel {
		m.Labels = make([]int32, el.count)
	}
	vr := &valueReader{r: r, format: format}
	values := make([]float64, len(el.props))
	for i := 0; i < el.count; i++ {
		if format == FormatASCII {
			if err := vr.nextLine(); err != nil {
				return fmt.Errorf("Vertex %v: %w", i, err)
			}
		}
		for j, p := range el.props {
			v, err := vr.read(p.typ)
			if err != nil {
				return fmt.Errorf("Vertex %v: %w", i, err)
			}
			values[j] = v
		}
		m.Vertices[i] = [3]float64{values[idx["x"]], values[idx["y"]], values[idx["z"]]}
		if hasColor {
			m.Colors[i] = [3]uint8{toColor(values[idx["red"]], el.props[idx["red"]].typ), toColor(values[idx["green"]], el.props[idx["green"]].typ), toColor(values[idx["blue"]], el.props[idx["blue"]].typ)}
		}
		if hasLabel {
			m.Labels[i] = int32(values[labelIdx])
		}
	}
	return nil
}

// Float colors are in [0,1], integer colors are in [0,255]
func toColor(v float64, typ string) uint8 {
	if typ == "float" || typ == "float32" || typ == "double" || typ == "float64" {
		v *= 255
	}
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

func readFaces(r *bufio.Reader, format Format, el *element, m *Mesh) error {
	m.Faces = make([][3]int32, 0, el.count)
	vr := &valueReader{r: r, format: format}
	for i := 0; i < el.count; i++ {
		if format == FormatASCII {
			if err := vr.nextLine(); err != nil {
				return fmt.Errorf("Face %v: %w", i, err)
			}
		}
		for _, p := range el.props {
			if !p.isList {
				if _, err := vr.read(p.typ); err != nil {
					return fmt.Errorf("Face %v: %w", i, err)
				}
				continue
			}
			n, err := vr.read(p.countType)
			if err != nil {
				return fmt.Errorf("Face %v: %w", i, err)
			}
			idx := make([]int32, int(n))
			for k := range idx {
				v, err := vr.read(p.typ)
				if err != nil {
					return fmt.Errorf("Face %v: %w", i, err)
				}
				idx[k] = int32(v)
			}
			if p.name != "vertex_indices" && p.name != "vertex_index" {
				continue
			}
			// Fan-triangulate polygons, which is a no-op for triangles
			for k := 1; k+1 < len(idx); k++ {
				m.Faces = append(m.Faces, [3]int32{idx[0], idx[k], idx[k+1]})
			}
		}
	}
	return nil
}

func skipElement(r *bufio.Reader, format Format, el *element) error {
	vr := &valueReader{r: r, format: format}
	for i := 0; i < el.count; i++ {
		if format == FormatASCII {
			if err := vr.nextLine(); err != nil {
				return err
			}
			continue
		}
		for _, p := range el.props {
			if p.isList {
				n, err := vr.read(p.countType)
				if err != nil {
					return err
				}
				for k := 0; k < int(n); k++ {
					if _, err := vr.read(p.typ); err != nil {
						return err
					}
				}
			} else if _, err := vr.read(p.typ); err != nil {
				return err
			}
		}
	}
	return nil
}
