package ecjpake

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

// schnorrProof is an RFC 8235 proof of knowledge of the discrete log of a
// public key against a given generator.
type schnorrProof struct {
	// v is the ephemeral commitment point.
	v *point

	// r is the response scalar.
	r []byte
}

// makeProof proves knowledge of priv where pub = priv*gen.
func makeProof(gen *point, priv *big.Int, pub *point, id []byte) (*schnorrProof, error) {
	n := curve.Params().N

	v, err := randomScalar()
	if err != nil {
		return nil, err
	}
	vPoint := scalarMult(gen, v)

	h := proofChallenge(gen, vPoint, pub, id)

	// r = v - priv*h mod n
	r := new(big.Int).Mul(priv, h)
	r.Sub(v, r)
	r.Mod(r, n)

	rBytes := make([]byte, 32)
	r.FillBytes(rBytes)

	return &schnorrProof{v: vPoint, r: rBytes}, nil
}

// verifyProof checks that proof demonstrates knowledge of x where
// pub = x*gen. The check is V == r*gen + h*pub.
func verifyProof(gen, pub *point, proof *schnorrProof, id []byte) error {
	h := proofChallenge(gen, proof.v, pub, id)

	r := new(big.Int).SetBytes(proof.r)
	if r.Cmp(curve.Params().N) >= 0 {
		return ErrInvalidProof
	}

	lhs := addPoints(scalarMult(gen, r), scalarMult(pub, h))
	if lhs.x.Cmp(proof.v.x) != 0 || lhs.y.Cmp(proof.v.y) != 0 {
		return ErrInvalidProof
	}
	return nil
}

// proofChallenge computes the Schnorr challenge scalar:
// SHA-256 over generator, commitment, public key and prover identity,
// each with a 4-byte big-endian length prefix.
func proofChallenge(gen, v, pub *point, id []byte) *big.Int {
	h := sha256.New()
	for _, p := range []*point{gen, v, pub} {
		b := marshalPoint(p)
		writeLen32(h, len(b))
		h.Write(b)
	}
	writeLen32(h, len(id))
	h.Write(id)

	c := new(big.Int).SetBytes(h.Sum(nil))
	return c.Mod(c, curve.Params().N)
}

// marshalPoint returns the uncompressed encoding of p.
func marshalPoint(p *point) []byte {
	b := make([]byte, PointSize)
	b[0] = 0x04
	p.x.FillBytes(b[1:33])
	p.y.FillBytes(b[33:65])
	return b
}

// writeLen32 writes a 4-byte big-endian length.
func writeLen32(w interface{ Write([]byte) (int, error) }, n int) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	w.Write(b[:])
}

// writeTo appends the proof's wire form: length-prefixed commitment point
// followed by a length-prefixed response scalar.
func (p *schnorrProof) writeTo(buf *bytes.Buffer) {
	writePoint(buf, p.v)
	buf.WriteByte(byte(len(p.r)))
	buf.Write(p.r)
}

// readProof parses a proof and returns the bytes consumed.
func readProof(data []byte) (*schnorrProof, int, error) {
	v, off, err := readPoint(data)
	if err != nil {
		return nil, 0, err
	}

	if len(data) < off+1 {
		return nil, 0, ErrTruncated
	}
	rlen := int(data[off])
	off++
	if rlen == 0 || len(data) < off+rlen {
		return nil, 0, ErrTruncated
	}

	r := make([]byte, rlen)
	copy(r, data[off:off+rlen])
	off += rlen

	return &schnorrProof{v: v, r: r}, off, nil
}
