package compiler

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// image is the persisted chunk layout: the 2-byte opcode stream, string and
// integer pools, the per-method register count, the line table, and the
// captured-variable descriptor table, nested per sub.
type image struct {
	Name     string             `cbor:"1,keyasint"`
	Package  string             `cbor:"2,keyasint"`
	File     string             `cbor:"3,keyasint"`
	Code     []uint16           `cbor:"4,keyasint"`
	Strs     []string           `cbor:"5,keyasint"`
	Ints     []int64            `cbor:"6,keyasint"`
	Nums     []float64          `cbor:"7,keyasint"`
	NReg     int                `cbor:"8,keyasint"`
	Captures []imageCap         `cbor:"9,keyasint"`
	Lines    []int32            `cbor:"10,keyasint"`
	Subs     []*image           `cbor:"11,keyasint"`
	TokenMap map[int32]imagePos `cbor:"12,keyasint"`
}

type imageCap struct {
	Name  string `cbor:"1,keyasint"`
	Src   uint8  `cbor:"2,keyasint"`
	Index int    `cbor:"3,keyasint"`
	PName string `cbor:"4,keyasint"`
}

type imagePos struct {
	File string `cbor:"1,keyasint"`
	Line int    `cbor:"2,keyasint"`
}

type imageEnvelope struct {
	Version  int    `cbor:"1,keyasint"`
	Checksum []byte `cbor:"2,keyasint"`
	Payload  []byte `cbor:"3,keyasint"`
}

const imageVersion = 1

// Serialize renders the chunk tree into a self-checking byte image.
// Transliteration specs are not part of the image, so chunks holding
// compiled tr/// specs lose them and must be recompiled; a chunk with none
// round-trips completely.
func Serialize(c *Chunk) ([]byte, error) {
	payload, err := cbor.Marshal(toImage(c))
	if err != nil {
		return nil, errors.Wrap(err, "encoding bytecode image")
	}
	sum := blake2b.Sum256(payload)
	return cbor.Marshal(imageEnvelope{
		Version:  imageVersion,
		Checksum: sum[:],
		Payload:  payload,
	})
}

// Deserialize verifies the checksum and rebuilds the chunk tree.
func Deserialize(data []byte) (*Chunk, error) {
	var env imageEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decoding bytecode image")
	}
	if env.Version != imageVersion {
		return nil, errors.Errorf("bytecode image version %d not supported", env.Version)
	}
	sum := blake2b.Sum256(env.Payload)
	if string(sum[:]) != string(env.Checksum) {
		return nil, errors.New("bytecode image checksum mismatch")
	}
	var img image
	if err := cbor.Unmarshal(env.Payload, &img); err != nil {
		return nil, errors.Wrap(err, "decoding bytecode payload")
	}
	return fromImage(&img), nil
}

func toImage(c *Chunk) *image {
	img := &image{
		Name: c.Name, Package: c.Package, File: c.File,
		Code: c.Code, Strs: c.Strs, Ints: c.Ints, Nums: c.Nums,
		NReg: c.NReg, Lines: c.Lines,
	}
	for _, cap := range c.Captures {
		img.Captures = append(img.Captures, imageCap{
			Name: cap.Name, Src: uint8(cap.Src), Index: cap.Index, PName: cap.PName,
		})
	}
	img.TokenMap = make(map[int32]imagePos, len(c.TokenLines))
	for tok, lp := range c.TokenLines {
		img.TokenMap[tok] = imagePos{File: lp.File, Line: lp.Line}
	}
	for _, sub := range c.Subs {
		img.Subs = append(img.Subs, toImage(sub))
	}
	return img
}

func fromImage(img *image) *Chunk {
	c := &Chunk{
		Name: img.Name, Package: img.Package, File: img.File,
		Code: img.Code, Strs: img.Strs, Ints: img.Ints, Nums: img.Nums,
		NReg: img.NReg, Lines: img.Lines,
		TokenLines: map[int32]LinePos{},
	}
	for _, cap := range img.Captures {
		c.Captures = append(c.Captures, CapDesc{
			Name: cap.Name, Src: CapSrc(cap.Src), Index: cap.Index, PName: cap.PName,
		})
	}
	for tok, lp := range img.TokenMap {
		c.TokenLines[tok] = LinePos{File: lp.File, Line: lp.Line}
	}
	for _, sub := range img.Subs {
		c.Subs = append(c.Subs, fromImage(sub))
	}
	return c
}
