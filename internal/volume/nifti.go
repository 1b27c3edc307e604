package volume

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

const (
	niftiHeaderSize = 348
	niftiDataOffset = 352
)

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
	dtInt64   = 1024
	dtUint64  = 1280
)

// niftiHeader mirrors the on-disk NIfTI-1 header byte for byte.
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Load reads a single-file NIfTI-1 label volume (.nii or .nii.gz).
func Load(path string) (*LabelVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

// Decode reads a NIfTI-1 stream; gzip compression is detected from the
// stream itself rather than the file name.
func Decode(r io.Reader) (*LabelVolume, error) {
	r, done, err := uncompressed(r)
	if err != nil {
		return nil, err
	}
	defer done()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < niftiHeaderSize {
		return nil, fmt.Errorf("short file: %d bytes", len(raw))
	}
	hdr, order, err := decodeHeader(raw[:niftiHeaderSize])
	if err != nil {
		return nil, err
	}
	dims, err := hdr.dims3()
	if err != nil {
		return nil, err
	}
	size, err := datatypeSize(hdr.Datatype)
	if err != nil {
		return nil, err
	}
	off := int(hdr.VoxOffset)
	if off < niftiHeaderSize {
		off = niftiDataOffset
	}
	n := dims[0] * dims[1] * dims[2]
	if len(raw) < off+n*size {
		return nil, fmt.Errorf("truncated voxel data: need %d bytes, have %d", off+n*size, len(raw))
	}

	data := raw[off:]
	scale := hdr.SclSlope != 0 && !(hdr.SclSlope == 1 && hdr.SclInter == 0)
	vol := &LabelVolume{Dims: dims, Data: make([]int32, n)}
	for i := 0; i < n; i++ {
		val := readValue(data[i*size:(i+1)*size], hdr.Datatype, order)
		if scale {
			val = val*float64(hdr.SclSlope) + float64(hdr.SclInter)
		}
		vol.Data[i] = label(val)
	}
	return vol, nil
}

// label converts a voxel to a label after narrowing it to float32, the
// precision the published scores were computed at. Values that are not
// exact integers map to Unlabelled.
func label(val float64) int32 {
	f := float64(float32(val))
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return Unlabelled
	}
	return int32(f)
}

// Stat returns the grid dimensions of a NIfTI-1 file without reading its
// voxel data.
func Stat(path string) ([3]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return [3]int{}, err
	}
	defer f.Close()
	r, done, err := uncompressed(f)
	if err != nil {
		return [3]int{}, fmt.Errorf("%s: %w", path, err)
	}
	defer done()
	buf := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return [3]int{}, fmt.Errorf("%s: header: %w", path, err)
	}
	hdr, _, err := decodeHeader(buf)
	if err != nil {
		return [3]int{}, fmt.Errorf("%s: %w", path, err)
	}
	return hdr.dims3()
}

func uncompressed(r io.Reader) (io.Reader, func() error, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, zr.Close, nil
	}
	return br, func() error { return nil }, nil
}

func decodeHeader(b []byte) (*niftiHeader, binary.ByteOrder, error) {
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(b) == niftiHeaderSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(b) == niftiHeaderSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("not a NIfTI-1 file (sizeof_hdr=%d)", binary.LittleEndian.Uint32(b))
	}
	var hdr niftiHeader
	if err := binary.Read(bytes.NewReader(b[:niftiHeaderSize]), order, &hdr); err != nil {
		return nil, nil, fmt.Errorf("header: %w", err)
	}
	if m := string(hdr.Magic[:3]); m != "n+1" {
		return nil, nil, fmt.Errorf("unsupported magic %q (only single-file n+1 is supported)", m)
	}
	return &hdr, order, nil
}

func (h *niftiHeader) dims3() ([3]int, error) {
	nd := int(h.Dim[0])
	if nd < 3 || nd > 7 {
		return [3]int{}, fmt.Errorf("expected a 3D volume, header reports %d dimensions", nd)
	}
	for i := 4; i <= nd; i++ {
		if h.Dim[i] > 1 {
			return [3]int{}, fmt.Errorf("expected a 3D volume, dim[%d]=%d", i, h.Dim[i])
		}
	}
	var d [3]int
	for i := 0; i < 3; i++ {
		if h.Dim[i+1] < 1 {
			return [3]int{}, fmt.Errorf("invalid dim[%d]=%d", i+1, h.Dim[i+1])
		}
		d[i] = int(h.Dim[i+1])
	}
	return d, nil
}

func datatypeSize(dt int16) (int, error) {
	switch dt {
	case dtUint8, dtInt8:
		return 1, nil
	case dtInt16, dtUint16:
		return 2, nil
	case dtInt32, dtUint32, dtFloat32:
		return 4, nil
	case dtInt64, dtUint64, dtFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported NIfTI datatype %d", dt)
}

func readValue(b []byte, dt int16, order binary.ByteOrder) float64 {
	switch dt {
	case dtUint8:
		return float64(b[0])
	case dtInt8:
		return float64(int8(b[0]))
	case dtInt16:
		return float64(int16(order.Uint16(b)))
	case dtUint16:
		return float64(order.Uint16(b))
	case dtInt32:
		return float64(int32(order.Uint32(b)))
	case dtUint32:
		return float64(order.Uint32(b))
	case dtInt64:
		return float64(int64(order.Uint64(b)))
	case dtUint64:
		return float64(order.Uint64(b))
	case dtFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case dtFloat64:
		return math.Float64frombits(order.Uint64(b))
	}
	return math.NaN()
}

// Write stores vol as a little-endian int16 NIfTI-1 file, gzip-compressed
// when path ends in .gz.
func Write(path string, vol *LabelVolume, spacing Spacing) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := Encode(w, vol, spacing); err != nil {
		f.Close()
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func Encode(w io.Writer, vol *LabelVolume, spacing Spacing) error {
	hdr := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Datatype:  dtInt16,
		Bitpix:    16,
		VoxOffset: niftiDataOffset,
		SclSlope:  1,
		XYZTUnits: 2, // mm
	}
	hdr.Dim = [8]int16{3, int16(vol.Dims[0]), int16(vol.Dims[1]), int16(vol.Dims[2]), 1, 1, 1, 1}
	hdr.Pixdim = [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 1, 1, 1, 1}
	copy(hdr.Magic[:], "n+1\x00")

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, 2)
	for _, l := range vol.Data {
		if l < math.MinInt16 || l > math.MaxInt16 {
			return fmt.Errorf("label %d does not fit int16", l)
		}
		binary.LittleEndian.PutUint16(buf, uint16(int16(l)))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
