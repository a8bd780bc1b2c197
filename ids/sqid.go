package ids

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sqids/sqids-go"
)

// DefaultAlphabet is the 62-character alphabet used when no seed is
// configured. Seeded codecs shuffle this deterministically so every
// namespace gets its own alphabet without storing it anywhere.
const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultMinLength pads encoded sqids to at least this many characters.
const DefaultMinLength = 8

// ErrInvalidSqid is returned when a sqid segment does not decode to a
// recognized component list.
var ErrInvalidSqid = errors.New("invalid sqid")

// Codec encodes and decodes integer lists as URL-safe sqid strings.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	s         *sqids.Sqids
	alphabet  string
	minLength uint8
}

// NewCodec builds a codec over the default alphabet. A minLength of zero
// selects DefaultMinLength.
func NewCodec(minLength uint8) (*Codec, error) {
	return newCodec(DefaultAlphabet, minLength)
}

// NewSeededCodec builds a codec whose alphabet is the default alphabet
// shuffled by seed. The same seed always yields the same alphabet, so ids
// encoded by one process decode in any other configured with that seed.
func NewSeededCodec(minLength uint8, seed uint32) (*Codec, error) {
	return newCodec(ShuffleAlphabet(DefaultAlphabet, seed), minLength)
}

func newCodec(alphabet string, minLength uint8) (*Codec, error) {
	if minLength == 0 {
		minLength = DefaultMinLength
	}
	s, err := sqids.New(sqids.Options{
		Alphabet:  alphabet,
		MinLength: minLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build sqid codec: %w", err)
	}
	return &Codec{s: s, alphabet: alphabet, minLength: minLength}, nil
}

// Alphabet returns the alphabet the codec encodes over.
func (c *Codec) Alphabet() string { return c.alphabet }

// Encode produces a sqid for the given non-negative integer list.
func (c *Codec) Encode(numbers []uint64) (string, error) {
	id, err := c.s.Encode(numbers)
	if err != nil {
		return "", fmt.Errorf("failed to encode sqid: %w", err)
	}
	return id, nil
}

// Decode recovers the integer list from a sqid. An unrecognized string
// yields an empty slice, matching the underlying codec's behavior.
func (c *Codec) Decode(id string) []uint64 {
	return c.s.Decode(id)
}

// ShuffleAlphabet deterministically permutes alphabet using a 32-bit-seeded
// linear-congruential Fisher-Yates. The LCG constants are the Numerical
// Recipes pair; uint32 arithmetic wraps, which is the intended modulus.
func ShuffleAlphabet(alphabet string, seed uint32) string {
	chars := []byte(alphabet)
	state := seed
	for i := len(chars) - 1; i > 0; i-- {
		state = state*1664525 + 1013904223
		j := int(state % uint32(i+1))
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars)
}

// Components is the fixed integer payload carried by an entity sqid. The
// wire order is [typeNum, timestamp, random] or, when a namespace is in
// play, [typeNum, namespace, timestamp, random].
type Components struct {
	TypeNum      uint64
	Namespace    uint64
	Timestamp    uint64
	Random       uint64
	HasNamespace bool
}

// List returns the components in wire order.
func (c Components) List() []uint64 {
	if c.HasNamespace {
		return []uint64{c.TypeNum, c.Namespace, c.Timestamp, c.Random}
	}
	return []uint64{c.TypeNum, c.Timestamp, c.Random}
}

// EncodeComponents encodes a component struct as a sqid.
func (c *Codec) EncodeComponents(comp Components) (string, error) {
	return c.Encode(comp.List())
}

// DecodeComponents decodes a sqid back into components. Only the two wire
// layouts are accepted.
func (c *Codec) DecodeComponents(sqid string) (Components, error) {
	nums := c.Decode(sqid)
	switch len(nums) {
	case 3:
		return Components{TypeNum: nums[0], Timestamp: nums[1], Random: nums[2]}, nil
	case 4:
		return Components{TypeNum: nums[0], Namespace: nums[1], Timestamp: nums[2], Random: nums[3], HasNamespace: true}, nil
	default:
		return Components{}, fmt.Errorf("%w: %q decodes to %d components", ErrInvalidSqid, sqid, len(nums))
	}
}

// Mint generates a fresh identifier for the given model name: the registry
// supplies the type number, the timestamp is the current unix millisecond,
// and the random component decorrelates ids minted in the same millisecond.
func Mint(reg *TypeRegistry, codec *Codec, typeName string) (string, error) {
	num, ok := reg.NumFor(typeName)
	if !ok {
		return "", fmt.Errorf("unknown model type %q", typeName)
	}
	sqid, err := codec.EncodeComponents(Components{
		TypeNum:   uint64(num),
		Timestamp: uint64(time.Now().UnixMilli()),
		Random:    uint64(rand.Uint32()),
	})
	if err != nil {
		return "", err
	}
	return typeName + "_" + sqid, nil
}
