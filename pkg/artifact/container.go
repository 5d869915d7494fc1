package artifact

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/cyclopcam/roomalign/pkg/gen"
	"github.com/cyclopcam/roomalign/pkg/iox"
	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/klauspost/compress/zstd"
)

// All of our binary artifacts share one container layout, compressed with zstd:
//
//	header: magic[4] kind:u8 dtype:u8 count:u32
//	record: key:i64 dims:[3]u32 data:(dims[0]*dims[1]*dims[2] values of dtype)
//
// Everything is little endian. Records are written in ascending key order.

var ErrBadContainer = errors.New("Invalid artifact file")

var containerMagic = [4]byte{'R', 'A', 'F', '1'}

type Kind uint8

const (
	KindObjectIDMaps Kind = iota + 1
	KindPatchAnnotations
	KindEmbeddings
	KindPatchFeatures
)

func (k Kind) String() string {
	switch k {
	case KindObjectIDMaps:
		return "object id maps"
	case KindPatchAnnotations:
		return "patch annotations"
	case KindEmbeddings:
		return "embeddings"
	case KindPatchFeatures:
		return "patch features"
	}
	return fmt.Sprintf("kind %d", uint8(k))
}

type DType uint8

const (
	DTypeInt32 DType = iota + 1
	DTypeUint8
	DTypeUint16
	DTypeFloat32
)

func (d DType) Size() int {
	switch d {
	case DTypeUint8:
		return 1
	case DTypeUint16:
		return 2
	case DTypeInt32, DTypeFloat32:
		return 4
	}
	return 0
}

type containerHeader struct {
	Magic [4]byte
	Kind  Kind
	DType DType
	Count uint32
}

type recordHeader struct {
	Key  int64
	Dims [3]uint32
}

// maxRecordValues bounds the size of one record, so that a corrupt header
// cannot make us allocate gigabytes before the read fails
const maxRecordValues = 1 << 28

func (h recordHeader) numValues() int {
	return int(h.Dims[0]) * int(h.Dims[1]) * int(h.Dims[2])
}

// record.data must be a slice of the container's dtype
type record struct {
	key  int64
	dims [3]uint32
	data any
}

func writeContainer(filename string, kind Kind, dtype DType, recs []record) error {
	slices.SortFunc(recs, func(a, b record) int { return cmp.Compare(a.key, b.key) })
	return iox.WriteFileAtomic(filename, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		le := binary.LittleEndian
		if err := binary.Write(enc, le, containerHeader{Magic: containerMagic, Kind: kind, DType: dtype, Count: uint32(len(recs))}); err != nil {
			enc.Close()
			return err
		}
		for _, r := range recs {
			if err := binary.Write(enc, le, recordHeader{Key: r.key, Dims: r.dims}); err != nil {
				enc.Close()
				return err
			}
			if err := binary.Write(enc, le, r.data); err != nil {
				enc.Close()
				return err
			}
		}
		return enc.Close()
	})
}

// readContainer calls visit for every record. visit must consume exactly the record's data.
func readContainer(filename string, kind Kind, visit func(h recordHeader, dtype DType, r io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	le := binary.LittleEndian
	ch := containerHeader{}
	if err := binary.Read(dec, le, &ch); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrBadContainer, filename, err)
	}
	if ch.Magic != containerMagic {
		return fmt.Errorf("%w: %v: bad magic", ErrBadContainer, filename)
	}
	if ch.Kind != kind {
		return fmt.Errorf("%w: %v holds %v, not %v", ErrBadContainer, filename, ch.Kind, kind)
	}
	if ch.DType.Size() == 0 {
		return fmt.Errorf("%w: %v: unknown dtype %v", ErrBadContainer, filename, ch.DType)
	}
	for i := uint32(0); i < ch.Count; i++ {
		rh := recordHeader{}
		if err := binary.Read(dec, le, &rh); err != nil {
			return fmt.Errorf("%w: %v: record %v: %v", ErrBadContainer, filename, i, err)
		}
		if n := uint64(rh.Dims[0]) * uint64(rh.Dims[1]) * uint64(rh.Dims[2]); n > maxRecordValues {
			return fmt.Errorf("%w: %v: record %v claims %v values", ErrBadContainer, filename, i, n)
		}
		if err := visit(rh, ch.DType, dec); err != nil {
			return fmt.Errorf("%w: %v: record %v (key %v): %v", ErrBadContainer, filename, i, rh.Key, err)
		}
	}
	return nil
}

func readInt32s(r io.Reader, dtype DType, n int) ([]int32, error) {
	out := make([]int32, n)
	switch dtype {
	case DTypeInt32:
		return out, binary.Read(r, binary.LittleEndian, out)
	case DTypeUint8:
		tmp := make([]uint8, n)
		if _, err := io.ReadFull(r, tmp); err != nil {
			return nil, err
		}
		for i, v := range tmp {
			out[i] = int32(v)
		}
	case DTypeUint16:
		tmp := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, tmp); err != nil {
			return nil, err
		}
		for i, v := range tmp {
			out[i] = int32(v)
		}
	default:
		return nil, fmt.Errorf("Can't read %v as integers", dtype)
	}
	return out, nil
}

func readFloat32s(r io.Reader, dtype DType, n int) ([]float32, error) {
	if dtype != DTypeFloat32 {
		return nil, fmt.Errorf("Can't read dtype %v as float32", dtype)
	}
	out := make([]float32, n)
	return out, binary.Read(r, binary.LittleEndian, out)
}

// WriteObjectIDMaps writes the per-frame object id maps of one scan
func WriteObjectIDMaps(filename string, maps map[int]*patch.IDImage) error {
	recs := make([]record, 0, len(maps))
	for frame, m := range maps {
		if len(m.Pixels) != m.Width*m.Height {
			return fmt.Errorf("Object id map of frame %v has %v pixels, but is %v x %v", frame, len(m.Pixels), m.Width, m.Height)
		}
		recs = append(recs, record{key: int64(frame), dims: [3]uint32{uint32(m.Height), uint32(m.Width), 1}, data: m.Pixels})
	}
	return writeContainer(filename, KindObjectIDMaps, DTypeInt32, recs)
}

func ReadObjectIDMaps(filename string) (map[int]*patch.IDImage, error) {
	maps := map[int]*patch.IDImage{}
	err := readContainer(filename, KindObjectIDMaps, func(h recordHeader, dtype DType, r io.Reader) error {
		px, err := readInt32s(r, dtype, h.numValues())
		if err != nil {
			return err
		}
		maps[int(h.Key)] = &patch.IDImage{Width: int(h.Dims[1]), Height: int(h.Dims[0]), Pixels: px}
		return nil
	})
	return maps, err
}

// WritePatchAnnotations writes the per-frame patch annotations of one scan.
// Values are stored as uint8 when every id fits, which is the common case,
// and as uint16 otherwise. Ids beyond uint16 are rejected.
func WritePatchAnnotations(filename string, annos map[int]*patch.Annotation) error {
	maxID := int32(0)
	for frame, a := range annos {
		if len(a.IDs) != a.Rows*a.Cols {
			return fmt.Errorf("Patch annotation of frame %v has %v values, but is %v x %v", frame, len(a.IDs), a.Rows, a.Cols)
		}
		for _, id := range a.IDs {
			if id < 0 || id > 65535 {
				return fmt.Errorf("Patch annotation of frame %v has object id %v, which can't be stored", frame, id)
			}
			maxID = max(maxID, id)
		}
	}
	dtype := DTypeUint8
	if maxID > 255 {
		dtype = DTypeUint16
	}
	recs := make([]record, 0, len(annos))
	for frame, a := range annos {
		rec := record{key: int64(frame), dims: [3]uint32{uint32(a.Rows), uint32(a.Cols), 1}}
		if dtype == DTypeUint8 {
			d := make([]uint8, len(a.IDs))
			for i, id := range a.IDs {
				d[i] = uint8(id)
			}
			rec.data = d
		} else {
			d := make([]uint16, len(a.IDs))
			for i, id := range a.IDs {
				d[i] = uint16(id)
			}
			rec.data = d
		}
		recs = append(recs, rec)
	}
	return writeContainer(filename, KindPatchAnnotations, dtype, recs)
}

func ReadPatchAnnotations(filename string) (map[int]*patch.Annotation, error) {
	annos := map[int]*patch.Annotation{}
	err := readContainer(filename, KindPatchAnnotations, func(h recordHeader, dtype DType, r io.Reader) error {
		ids, err := readInt32s(r, dtype, h.numValues())
		if err != nil {
			return err
		}
		annos[int(h.Key)] = &patch.Annotation{Rows: int(h.Dims[0]), Cols: int(h.Dims[1]), IDs: ids}
		return nil
	})
	return annos, err
}

// Embeddings maps object id to embedding vector, for one scan
type Embeddings map[int32][]float32

// SortedIDs returns the object ids in ascending order, which is the order
// that in-scene objects are assigned rows.
func (e Embeddings) SortedIDs() []int32 {
	return gen.SortedKeys(e)
}

func WriteEmbeddings(filename string, emb Embeddings) error {
	recs := make([]record, 0, len(emb))
	for id, v := range emb {
		recs = append(recs, record{key: int64(id), dims: [3]uint32{uint32(len(v)), 1, 1}, data: v})
	}
	return writeContainer(filename, KindEmbeddings, DTypeFloat32, recs)
}

func ReadEmbeddings(filename string) (Embeddings, error) {
	emb := Embeddings{}
	err := readContainer(filename, KindEmbeddings, func(h recordHeader, dtype DType, r io.Reader) error {
		v, err := readFloat32s(r, dtype, h.numValues())
		if err != nil {
			return err
		}
		emb[int32(h.Key)] = v
		return nil
	})
	return emb, err
}

// PatchFeatures are precomputed image encoder outputs for one frame
type PatchFeatures struct {
	Rows int
	Cols int
	Dim  int
	Data []float32 // Rows * Cols * Dim
}

func WritePatchFeatures(filename string, features map[int]*PatchFeatures) error {
	recs := make([]record, 0, len(features))
	for frame, f := range features {
		if len(f.Data) != f.Rows*f.Cols*f.Dim {
			return fmt.Errorf("Patch features of frame %v have %v values, but are %v x %v x %v", frame, len(f.Data), f.Rows, f.Cols, f.Dim)
		}
		recs = append(recs, record{key: int64(frame), dims: [3]uint32{uint32(f.Rows), uint32(f.Cols), uint32(f.Dim)}, data: f.Data})
	}
	return writeContainer(filename, KindPatchFeatures, DTypeFloat32, recs)
}

func ReadPatchFeatures(filename string) (map[int]*PatchFeatures, error) {
	features := map[int]*PatchFeatures{}
	err := readContainer(filename, KindPatchFeatures, func(h recordHeader, dtype DType, r io.Reader) error {
		v, err := readFloat32s(r, dtype, h.numValues())
		if err != nil {
			return err
		}
		features[int(h.Key)] = &PatchFeatures{Rows: int(h.Dims[0]), Cols: int(h.Dims[1]), Dim: int(h.Dims[2]), Data: v}
		return nil
	})
	return features, err
}
