package desc

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/graphir/internal/ir"
)

// Binary layout:
//
//	magic   [4]byte  "GIRD"
//	version uint16   big endian, ir.DescFormatVersion
//	body    []byte   msgpack encoded wireProgram
//	sum     [32]byte SHA-256 of body
const (
	magic        = "GIRD"
	headerSize   = len(magic) + 2
	checksumSize = sha256.Size
)

type wireProgram struct {
	ID         string      `msgpack:"id"`
	NextHandle int64       `msgpack:"next_handle"`
	Blocks     []wireBlock `msgpack:"blocks"`
}

type wireBlock struct {
	Idx     int       `msgpack:"idx"`
	Parent  int       `msgpack:"parent"`
	Forward int       `msgpack:"forward"`
	Vars    []wireVar `msgpack:"vars"`
	Ops     []wireOp  `msgpack:"ops"`
}

type wireVar struct {
	Name          string  `msgpack:"name"`
	Kind          uint8   `msgpack:"kind"`
	Shape         []int64 `msgpack:"shape"`
	DType         int32   `msgpack:"dtype"`
	LoDLevel      int     `msgpack:"lod_level,omitempty"`
	Persistable   bool    `msgpack:"persistable,omitempty"`
	IsParameter   bool    `msgpack:"is_parameter,omitempty"`
	StopGradient  bool    `msgpack:"stop_gradient,omitempty"`
	NeedCheckFeed bool    `msgpack:"need_check_feed,omitempty"`
}

type wireOp struct {
	Handle  int64         `msgpack:"handle"`
	Type    string        `msgpack:"type"`
	Inputs  []wireBinding `msgpack:"inputs"`
	Outputs []wireBinding `msgpack:"outputs"`
	Attrs   []wireAttr    `msgpack:"attrs"`
}

type wireBinding struct {
	Slot string   `msgpack:"slot"`
	Args []string `msgpack:"args"`
}

// wireAttr stores one attribute. T selects which payload field is live.
type wireAttr struct {
	Name string       `msgpack:"n"`
	T    uint8        `msgpack:"t"`
	B    bool         `msgpack:"b,omitempty"`
	I    int64        `msgpack:"i,omitempty"`
	F    float64      `msgpack:"f,omitempty"`
	S    string       `msgpack:"s,omitempty"`
	Bs   []bool       `msgpack:"bs,omitempty"`
	Is   []int64      `msgpack:"is,omitempty"`
	Fs   []float64    `msgpack:"fs,omitempty"`
	Ss   []string     `msgpack:"ss,omitempty"`
	Sc   []wireScalar `msgpack:"sc,omitempty"`
}

type wireScalar struct {
	K  uint8   `msgpack:"k"`
	B  bool    `msgpack:"b,omitempty"`
	I  int64   `msgpack:"i,omitempty"`
	F  float64 `msgpack:"f,omitempty"`
	Im float64 `msgpack:"im,omitempty"`
}

// MarshalBinary serializes the description. Output is deterministic:
// attributes are written in sorted name order.
func (p *ProgramDesc) MarshalBinary() ([]byte, error) {
	wp := wireProgram{ID: p.id, NextHandle: p.nextHandle}
	for _, b := range p.blocks {
		wb := wireBlock{Idx: b.idx, Parent: b.parent, Forward: b.forward}
		for _, v := range b.vars {
			wb.Vars = append(wb.Vars, wireVar{
				Name:          v.name,
				Kind:          uint8(v.kind),
				Shape:         nonNil(v.shape),
				DType:         int32(v.dtype),
				LoDLevel:      v.lodLevel,
				Persistable:   v.persistable,
				IsParameter:   v.isParameter,
				StopGradient:  v.stopGradient,
				NeedCheckFeed: v.needCheckFeed,
			})
		}
		for _, op := range b.ops {
			wo := wireOp{Handle: op.handle, Type: op.typ}
			for _, in := range op.inputs {
				wo.Inputs = append(wo.Inputs, wireBinding{Slot: in.Slot, Args: nonNil(in.Args)})
			}
			for _, out := range op.outputs {
				wo.Outputs = append(wo.Outputs, wireBinding{Slot: out.Slot, Args: nonNil(out.Args)})
			}
			for _, name := range op.AttrNames() {
				wa, err := encodeAttr(name, op.attrs[name])
				if err != nil {
					return nil, errors.WithMessagef(err, "block %d op %s", b.idx, op.typ)
				}
				wo.Attrs = append(wo.Attrs, wa)
			}
			wb.Ops = append(wb.Ops, wo)
		}
		wp.Blocks = append(wp.Blocks, wb)
	}

	body, err := msgpack.Marshal(&wp)
	if err != nil {
		return nil, errors.Wrap(err, "encoding program description")
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(body) + checksumSize)
	buf.WriteString(magic)
	_ = binary.Write(&buf, binary.BigEndian, uint16(ir.DescFormatVersion))
	buf.Write(body)
	sum := sha256.Sum256(body)
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// Parse decodes a blob produced by MarshalBinary and validates it.
func Parse(data []byte) (*ProgramDesc, error) {
	if len(data) < headerSize+checksumSize {
		return nil, errors.Errorf("program description too short: %d bytes", len(data))
	}
	if string(data[:len(magic)]) != magic {
		return nil, errors.Errorf("bad magic %q", data[:len(magic)])
	}
	version := binary.BigEndian.Uint16(data[len(magic):headerSize])
	if version != ir.DescFormatVersion {
		return nil, errors.Errorf("unsupported description format version %d (want %d)", version, ir.DescFormatVersion)
	}
	body := data[headerSize : len(data)-checksumSize]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], data[len(data)-checksumSize:]) {
		return nil, errors.New("program description checksum mismatch")
	}

	var wp wireProgram
	if err := msgpack.Unmarshal(body, &wp); err != nil {
		return nil, errors.Wrap(err, "decoding program description")
	}

	p := &ProgramDesc{id: wp.ID, nextHandle: wp.NextHandle}
	for _, wb := range wp.Blocks {
		b := newBlockDesc(p, wb.Idx, wb.Parent)
		b.forward = wb.Forward
		for _, wv := range wb.Vars {
			v := &VarDesc{
				name:          wv.Name,
				kind:          ir.VarKind(wv.Kind),
				shape:         wv.Shape,
				dtype:         dtypes.DType(wv.DType),
				lodLevel:      wv.LoDLevel,
				persistable:   wv.Persistable,
				isParameter:   wv.IsParameter,
				stopGradient:  wv.StopGradient,
				needCheckFeed: wv.NeedCheckFeed,
				block:         b,
			}
			b.vars = append(b.vars, v)
			b.byName[v.name] = v
		}
		for _, wo := range wb.Ops {
			op := &OpDesc{handle: wo.Handle, typ: wo.Type, attrs: make(map[string]ir.Attr, len(wo.Attrs)), block: b}
			for _, in := range wo.Inputs {
				op.inputs = append(op.inputs, Binding{Slot: in.Slot, Args: in.Args})
			}
			for _, out := range wo.Outputs {
				op.outputs = append(op.outputs, Binding{Slot: out.Slot, Args: out.Args})
			}
			for _, wa := range wo.Attrs {
				a, err := decodeAttr(wa)
				if err != nil {
					return nil, errors.WithMessagef(err, "block %d op %s", wb.Idx, wo.Type)
				}
				op.attrs[wa.Name] = a
			}
			b.ops = append(b.ops, op)
		}
		p.blocks = append(p.blocks, b)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid program description")
	}
	return p, nil
}

func encodeAttr(name string, a ir.Attr) (wireAttr, error) {
	wa := wireAttr{Name: name, T: uint8(a.Type())}
	switch v := a.(type) {
	case ir.Bool:
		wa.B = bool(v)
	case ir.Int32:
		wa.I = int64(v)
	case ir.Int64:
		wa.I = int64(v)
	case ir.Float32:
		wa.F = float64(v)
	case ir.Float64:
		wa.F = float64(v)
	case ir.String:
		wa.S = string(v)
	case ir.VarRef:
		wa.S = string(v)
	case ir.BlockRef:
		wa.I = int64(v)
	case ir.Bools:
		wa.Bs = v
	case ir.Int32s:
		wa.Is = convertSlice(v, func(x int32) int64 { return int64(x) })
	case ir.Int64s:
		wa.Is = v
	case ir.BlockRefs:
		wa.Is = convertSlice(v, func(x int) int64 { return int64(x) })
	case ir.Float32s:
		wa.Fs = convertSlice(v, func(x float32) float64 { return float64(x) })
	case ir.Float64s:
		wa.Fs = v
	case ir.Strings:
		wa.Ss = v
	case ir.VarRefs:
		wa.Ss = v
	case ir.Scalar:
		wa.Sc = []wireScalar{encodeScalar(v)}
	case ir.Scalars:
		wa.Sc = convertSlice(v, encodeScalar)
	default:
		return wa, errors.Errorf("attribute %q: unsupported value %T", name, a)
	}
	return wa, nil
}

func decodeAttr(wa wireAttr) (ir.Attr, error) {
	switch ir.AttrType(wa.T) {
	case ir.AttrBool:
		return ir.Bool(wa.B), nil
	case ir.AttrInt:
		return ir.Int32(wa.I), nil
	case ir.AttrLong:
		return ir.Int64(wa.I), nil
	case ir.AttrFloat:
		return ir.Float32(wa.F), nil
	case ir.AttrFloat64:
		return ir.Float64(wa.F), nil
	case ir.AttrString:
		return ir.String(wa.S), nil
	case ir.AttrVar:
		return ir.VarRef(wa.S), nil
	case ir.AttrBlock:
		return ir.BlockRef(wa.I), nil
	case ir.AttrBools:
		return ir.Bools(nonNil(wa.Bs)), nil
	case ir.AttrInts:
		return ir.Int32s(convertSlice(wa.Is, func(x int64) int32 { return int32(x) })), nil
	case ir.AttrLongs:
		return ir.Int64s(nonNil(wa.Is)), nil
	case ir.AttrBlocks:
		return ir.BlockRefs(convertSlice(wa.Is, func(x int64) int { return int(x) })), nil
	case ir.AttrFloats:
		return ir.Float32s(convertSlice(wa.Fs, func(x float64) float32 { return float32(x) })), nil
	case ir.AttrFloat64s:
		return ir.Float64s(nonNil(wa.Fs)), nil
	case ir.AttrStrings:
		return ir.Strings(nonNil(wa.Ss)), nil
	case ir.AttrVars:
		return ir.VarRefs(nonNil(wa.Ss)), nil
	case ir.AttrScalar:
		if len(wa.Sc) != 1 {
			return nil, errors.Errorf("attribute %q: scalar payload has %d entries", wa.Name, len(wa.Sc))
		}
		return decodeScalar(wa.Sc[0])
	case ir.AttrScalars:
		out := make(ir.Scalars, len(wa.Sc))
		for i, ws := range wa.Sc {
			s, err := decodeScalar(ws)
			if err != nil {
				return nil, errors.WithMessagef(err, "attribute %q[%d]", wa.Name, i)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, errors.Errorf("attribute %q: unknown type tag %d", wa.Name, wa.T)
}

func encodeScalar(s ir.Scalar) wireScalar {
	ws := wireScalar{K: uint8(s.Kind())}
	switch s.Kind() {
	case ir.ScalarBool:
		ws.B = s.Bool()
	case ir.ScalarInt:
		ws.I = s.Int()
	case ir.ScalarFloat:
		ws.F = s.Float()
	case ir.ScalarComplex:
		c := s.Complex()
		ws.F, ws.Im = real(c), imag(c)
	}
	return ws
}

func decodeScalar(ws wireScalar) (ir.Scalar, error) {
	switch ir.ScalarKind(ws.K) {
	case ir.ScalarBool:
		return ir.BoolScalar(ws.B), nil
	case ir.ScalarInt:
		return ir.IntScalar(ws.I), nil
	case ir.ScalarFloat:
		return ir.FloatScalar(ws.F), nil
	case ir.ScalarComplex:
		return ir.ComplexScalar(complex(ws.F, ws.Im)), nil
	}
	return ir.Scalar{}, errors.Errorf("unknown scalar kind %d", ws.K)
}

func convertSlice[S ~[]E, E, T any](in S, f func(E) T) []T {
	out := make([]T, len(in))
	for i, x := range in {
		out[i] = f(x)
	}
	return out
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
