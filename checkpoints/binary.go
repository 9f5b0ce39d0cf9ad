package checkpoints

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// binaryMagic prefixes every binary checkpoint.
var binaryMagic = []byte("GRCKPT\x00")

// binaryFormatVersion is bumped on incompatible layout changes.
const binaryFormatVersion = 1

// Checkpoint message fields.
const (
	fieldFormatVersion protowire.Number = 1
	fieldFramework     protowire.Number = 2
	fieldVersion       protowire.Number = 3
	fieldCreatedAt     protowire.Number = 4
	fieldDescription   protowire.Number = 5
	fieldTags          protowire.Number = 6
	fieldWeights       protowire.Number = 7
	fieldState         protowire.Number = 8
)

// WeightTensor message fields.
const (
	fieldWeightName  protowire.Number = 1
	fieldWeightShape protowire.Number = 2
	fieldWeightData  protowire.Number = 3
)

// TrainingState message fields.
const (
	fieldStateEpoch        protowire.Number = 1
	fieldStateBestLoss     protowire.Number = 2
	fieldStateBestAccuracy protowire.Number = 3
	fieldStateLearningRate protowire.Number = 4
)

func marshalBinary(c *Checkpoint) []byte {
	b := append([]byte(nil), binaryMagic...)
	b = protowire.AppendTag(b, fieldFormatVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, binaryFormatVersion)
	b = appendString(b, fieldFramework, c.Metadata.Framework)
	b = appendString(b, fieldVersion, c.Metadata.Version)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Metadata.CreatedAt.UnixNano()))
	b = appendString(b, fieldDescription, c.Metadata.Description)
	for _, tag := range c.Metadata.Tags {
		b = protowire.AppendTag(b, fieldTags, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	for _, w := range c.Weights {
		b = protowire.AppendTag(b, fieldWeights, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalWeight(w))
	}
	b = protowire.AppendTag(b, fieldState, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalState(c.TrainingState))
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func marshalWeight(w WeightTensor) []byte {
	var b []byte
	b = appendString(b, fieldWeightName, w.Name)

	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, fieldWeightShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 0, 8*len(w.Data))
	for _, v := range w.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, fieldWeightData, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

func marshalState(s TrainingState) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldStateEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(s.Epoch)))
	b = protowire.AppendTag(b, fieldStateBestLoss, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.BestLoss))
	b = protowire.AppendTag(b, fieldStateBestAccuracy, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.BestAccuracy))
	b = protowire.AppendTag(b, fieldStateLearningRate, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(s.LearningRate))
}

// fieldReader walks the fields of one message.
type fieldReader struct {
	b []byte
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool, error) {
	if len(r.b) == 0 {
		return 0, 0, false, nil
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		return 0, 0, false, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return num, typ, true, nil
}

func (r *fieldReader) varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) fixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(r.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) bytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		return protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return nil
}

func expectType(num protowire.Number, got, want protowire.Type) error {
	if got != want {
		return errors.Errorf("field %d: wire type %d, want %d", num, got, want)
	}
	return nil
}

func unmarshalBinary(data []byte) (*Checkpoint, error) {
	r := &fieldReader{b: data[len(binaryMagic):]}
	c := &Checkpoint{}
	sawVersion := false

	for {
		num, typ, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch num {
		case fieldFormatVersion:
			if err := expectType(num, typ, protowire.VarintType); err != nil {
				return nil, err
			}
			v, err := r.varint()
			if err != nil {
				return nil, err
			}
			if v != binaryFormatVersion {
				return nil, errors.Errorf("unsupported checkpoint format version %d", v)
			}
			sawVersion = true
		case fieldFramework, fieldVersion, fieldDescription, fieldTags:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return nil, err
			}
			v, err := r.bytes()
			if err != nil {
				return nil, err
			}
			switch num {
			case fieldFramework:
				c.Metadata.Framework = string(v)
			case fieldVersion:
				c.Metadata.Version = string(v)
			case fieldDescription:
				c.Metadata.Description = string(v)
			default:
				c.Metadata.Tags = append(c.Metadata.Tags, string(v))
			}
		case fieldCreatedAt:
			if err := expectType(num, typ, protowire.VarintType); err != nil {
				return nil, err
			}
			v, err := r.varint()
			if err != nil {
				return nil, err
			}
			c.Metadata.CreatedAt = time.Unix(0, int64(v))
		case fieldWeights:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return nil, err
			}
			v, err := r.bytes()
			if err != nil {
				return nil, err
			}
			w, err := unmarshalWeight(v)
			if err != nil {
				return nil, errors.Wrapf(err, "weight %d", len(c.Weights))
			}
			c.Weights = append(c.Weights, w)
		case fieldState:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return nil, err
			}
			v, err := r.bytes()
			if err != nil {
				return nil, err
			}
			if c.TrainingState, err = unmarshalState(v); err != nil {
				return nil, errors.Wrap(err, "training state")
			}
		default:
			if err := r.skip(num, typ); err != nil {
				return nil, err
			}
		}
	}

	if !sawVersion {
		return nil, errors.New("missing format version")
	}
	return c, nil
}

func unmarshalWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	r := &fieldReader{b: b}
	for {
		num, typ, ok, err := r.next()
		if err != nil {
			return w, err
		}
		if !ok {
			return w, nil
		}
		switch num {
		case fieldWeightName:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return w, err
			}
			v, err := r.bytes()
			if err != nil {
				return w, err
			}
			w.Name = string(v)
		case fieldWeightShape:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return w, err
			}
			v, err := r.bytes()
			if err != nil {
				return w, err
			}
			shape := &fieldReader{b: v}
			w.Shape = []int{}
			for len(shape.b) > 0 {
				d, err := shape.varint()
				if err != nil {
					return w, err
				}
				if d > math.MaxInt32 {
					return w, errors.Errorf("dimension %d too large", d)
				}
				w.Shape = append(w.Shape, int(d))
			}
		case fieldWeightData:
			if err := expectType(num, typ, protowire.BytesType); err != nil {
				return w, err
			}
			v, err := r.bytes()
			if err != nil {
				return w, err
			}
			if len(v)%8 != 0 {
				return w, errors.Errorf("data length %d is not a multiple of 8", len(v))
			}
			data := &fieldReader{b: v}
			w.Data = make([]float64, 0, len(v)/8)
			for len(data.b) > 0 {
				bits, err := data.fixed64()
				if err != nil {
					return w, err
				}
				w.Data = append(w.Data, math.Float64frombits(bits))
			}
		default:
			if err := r.skip(num, typ); err != nil {
				return w, err
			}
		}
	}
}

func unmarshalState(b []byte) (TrainingState, error) {
	var s TrainingState
	r := &fieldReader{b: b}
	for {
		num, typ, ok, err := r.next()
		if err != nil {
			return s, err
		}
		if !ok {
			return s, nil
		}
		switch num {
		case fieldStateEpoch:
			if err := expectType(num, typ, protowire.VarintType); err != nil {
				return s, err
			}
			v, err := r.varint()
			if err != nil {
				return s, err
			}
			s.Epoch = int(protowire.DecodeZigZag(v))
		case fieldStateBestLoss, fieldStateBestAccuracy, fieldStateLearningRate:
			if err := expectType(num, typ, protowire.Fixed64Type); err != nil {
				return s, err
			}
			v, err := r.fixed64()
			if err != nil {
				return s, err
			}
			f := math.Float64frombits(v)
			switch num {
			case fieldStateBestLoss:
				s.BestLoss = f
			case fieldStateBestAccuracy:
				s.BestAccuracy = f
			default:
				s.LearningRate = f
			}
		default:
			if err := r.skip(num, typ); err != nil {
				return s, err
			}
		}
	}
}
