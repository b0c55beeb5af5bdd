package ecjpake

import (
	"bytes"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Protocol constants.
const (
	// PointSize is the size of an uncompressed P-256 point on the wire.
	PointSize = 65

	// SecretSize is the size of the derived premaster secret in bytes.
	SecretSize = 32
)

// EC-JPAKE errors.
var (
	ErrInvalidPoint  = errors.New("invalid curve point")
	ErrInvalidProof  = errors.New("schnorr proof verification failed")
	ErrTruncated     = errors.New("truncated ecjpake message")
	ErrRoundOrder    = errors.New("round received out of order")
	ErrWrongCurve    = errors.New("unsupported curve parameters")
	ErrEmptyPassword = errors.New("password must not be empty")
)

// Curve parameters for P-256.
var curve = elliptic.P256()

// Role identifies which side of the exchange this context drives.
// The role strings are bound into the Schnorr proofs, so the two sides
// must use opposite roles.
type Role uint8

const (
	// RoleClient is the TLS client (the commissioner).
	RoleClient Role = iota

	// RoleServer is the TLS server (the border router).
	RoleServer
)

// id returns the proof identity string for the role.
func (r Role) id() []byte {
	if r == RoleServer {
		return []byte("server")
	}
	return []byte("client")
}

// String returns the role name.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Context holds the state of one side of an EC-JPAKE exchange.
// A Context is single-use: after DeriveSecret or Zeroize it cannot be
// reused for another exchange.
type Context struct {
	role Role

	// s is the password as a scalar (mod n).
	s *big.Int

	// Ephemeral private scalars.
	x1, x2 *big.Int

	// Our round-one public keys.
	myX1, myX2 *point

	// Peer's round-one public keys.
	peerX1, peerX2 *point

	// Peer's round-two combined point.
	peerRound2 *point

	// Tracks which rounds have been generated/consumed.
	wroteRound1 bool
	readRound1  bool
	readRound2  bool
}

// point represents a point on the elliptic curve.
type point struct {
	x, y *big.Int
}

// NewContext creates an EC-JPAKE context for the given role and password.
// The password is used as the low-entropy shared secret; for Thread
// commissioning it is the admin code's ASCII digits.
func NewContext(role Role, password []byte) (*Context, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}

	n := curve.Params().N

	// Password as a scalar. A zero residue would make round two the
	// identity; map it to 1 like the reference engine does.
	s := new(big.Int).SetBytes(password)
	s.Mod(s, n)
	if s.Sign() == 0 {
		s.SetInt64(1)
	}

	x1, err := randomScalar()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	x2, err := randomScalar()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	c := &Context{
		role: role,
		s:    s,
		x1:   x1,
		x2:   x2,
	}
	c.myX1 = baseMult(x1)
	c.myX2 = baseMult(x2)

	return c, nil
}

// Role returns the context's role.
func (c *Context) Role() Role {
	return c.role
}

// WriteRound1 produces the round-one body: our two public keys, each with a
// Schnorr proof against the curve base point. For the client this is the
// ecjpake_kkpp hello-extension body; for the server the same layout answers
// in its hello extension.
func (c *Context) WriteRound1() ([]byte, error) {
	var buf bytes.Buffer

	for _, kp := range []struct {
		pub  *point
		priv *big.Int
	}{
		{c.myX1, c.x1},
		{c.myX2, c.x2},
	} {
		proof, err := makeProof(basePoint(), kp.priv, kp.pub, c.role.id())
		if err != nil {
			return nil, err
		}
		writePoint(&buf, kp.pub)
		proof.writeTo(&buf)
	}

	c.wroteRound1 = true
	return buf.Bytes(), nil
}

// ReadRound1 consumes the peer's round-one body, verifying both proofs.
func (c *Context) ReadRound1(data []byte) error {
	peerID := c.peerRole().id()
	base := basePoint()

	off := 0
	var pts [2]*point
	for i := 0; i < 2; i++ {
		pt, n, err := readPoint(data[off:])
		if err != nil {
			return err
		}
		off += n

		proof, n, err := readProof(data[off:])
		if err != nil {
			return err
		}
		off += n

		if err := verifyProof(base, pt, proof, peerID); err != nil {
			return err
		}
		pts[i] = pt
	}

	c.peerX1, c.peerX2 = pts[0], pts[1]
	c.readRound1 = true
	return nil
}

// WriteRound2 produces the round-two body: the combined point
// G' * (x2 * s) with a proof against the combined generator
// G' = myX1 + peerX1 + peerX2. When the role is server the body is
// prefixed with the TLS ECParameters for secp256r1, matching the
// ServerKeyExchange layout.
func (c *Context) WriteRound2() ([]byte, error) {
	if !c.readRound1 {
		return nil, ErrRoundOrder
	}

	gen := addPoints(addPoints(c.myX1, c.peerX1), c.peerX2)
	xs := mulScalars(c.x2, c.s)
	combined := scalarMult(gen, xs)

	var buf bytes.Buffer
	if c.role == RoleServer {
		writeECParams(&buf)
	}

	proof, err := makeProof(gen, xs, combined, c.role.id())
	if err != nil {
		return nil, err
	}
	writePoint(&buf, combined)
	proof.writeTo(&buf)

	return buf.Bytes(), nil
}

// ReadRound2 consumes the peer's round-two body, verifying the proof
// against the peer's combined generator peerX1 + myX1 + myX2. When the
// peer is the server the body begins with ECParameters, which must name
// secp256r1.
func (c *Context) ReadRound2(data []byte) error {
	if !c.readRound1 || !c.wroteRound1 {
		return ErrRoundOrder
	}

	off := 0
	if c.peerRole() == RoleServer {
		n, err := readECParams(data)
		if err != nil {
			return err
		}
		off += n
	}

	pt, n, err := readPoint(data[off:])
	if err != nil {
		return err
	}
	off += n

	proof, _, err := readProof(data[off:])
	if err != nil {
		return err
	}

	gen := addPoints(addPoints(c.peerX1, c.myX1), c.myX2)
	if err := verifyProof(gen, pt, proof, c.peerRole().id()); err != nil {
		return err
	}

	c.peerRound2 = pt
	c.readRound2 = true
	return nil
}

// DeriveSecret computes the premaster secret:
// SHA-256 of the x-coordinate of K = (peerRound2 - peerX2*(x2*s)) * x2.
func (c *Context) DeriveSecret() ([]byte, error) {
	if !c.readRound2 {
		return nil, ErrRoundOrder
	}

	xs := mulScalars(c.x2, c.s)

	// peerRound2 - peerX2 * (x2*s)
	mask := scalarMult(c.peerX2, xs)
	k := addPoints(c.peerRound2, negPoint(mask))

	// K = ... * x2
	k = scalarMult(k, c.x2)

	kx := make([]byte, 32)
	k.x.FillBytes(kx)

	sum := sha256.Sum256(kx)
	return sum[:], nil
}

// Zeroize clears the password scalar and ephemeral private keys.
// The context is unusable afterwards.
func (c *Context) Zeroize() {
	for _, v := range []*big.Int{c.s, c.x1, c.x2} {
		if v != nil {
			v.SetInt64(0)
		}
	}
	c.s, c.x1, c.x2 = nil, nil, nil
	c.peerRound2 = nil
	c.readRound2 = false
}

// peerRole returns the opposite role.
func (c *Context) peerRole() Role {
	if c.role == RoleClient {
		return RoleServer
	}
	return RoleClient
}

// --- scalar and point helpers ---

// randomScalar returns a uniformly random scalar in [1, n-1].
func randomScalar() (*big.Int, error) {
	nMinusOne := new(big.Int).Sub(curve.Params().N, big.NewInt(1))
	k, err := rand.Int(rand.Reader, nMinusOne)
	if err != nil {
		return nil, err
	}
	return k.Add(k, big.NewInt(1)), nil
}

// mulScalars returns a*b mod n.
func mulScalars(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Mod(r, curve.Params().N)
}

// basePoint returns the curve generator.
func basePoint() *point {
	return &point{x: curve.Params().Gx, y: curve.Params().Gy}
}

// baseMult returns k*G.
func baseMult(k *big.Int) *point {
	x, y := curve.ScalarBaseMult(k.Bytes())
	return &point{x: x, y: y}
}

// scalarMult returns k*P.
func scalarMult(p *point, k *big.Int) *point {
	x, y := curve.ScalarMult(p.x, p.y, k.Bytes())
	return &point{x: x, y: y}
}

// addPoints returns a+b.
func addPoints(a, b *point) *point {
	x, y := curve.Add(a.x, a.y, b.x, b.y)
	return &point{x: x, y: y}
}

// negPoint returns -p (y-coordinate inverted mod p).
func negPoint(p *point) *point {
	yNeg := new(big.Int).Neg(p.y)
	yNeg.Mod(yNeg, curve.Params().P)
	return &point{x: p.x, y: yNeg}
}

// --- wire helpers ---

// writePoint appends a length-prefixed uncompressed point.
func writePoint(buf *bytes.Buffer, p *point) {
	b := elliptic.Marshal(curve, p.x, p.y)
	buf.WriteByte(byte(len(b)))
	buf.Write(b)
}

// readPoint parses a length-prefixed uncompressed point and validates it
// is on the curve. Returns the point and the number of bytes consumed.
func readPoint(data []byte) (*point, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}
	plen := int(data[0])
	if len(data) < 1+plen {
		return nil, 0, ErrTruncated
	}
	if plen != PointSize {
		return nil, 0, ErrInvalidPoint
	}

	x, y := elliptic.Unmarshal(curve, data[1:1+plen])
	if x == nil {
		return nil, 0, ErrInvalidPoint
	}
	if !curve.IsOnCurve(x, y) {
		return nil, 0, ErrInvalidPoint
	}

	return &point{x: x, y: y}, 1 + plen, nil
}

// ECParameters for named_curve secp256r1.
const (
	ecCurveTypeNamed = 3
	ecCurveSecp256r1 = 23
	ecParamsLen      = 3
)

// writeECParams appends the TLS ECParameters structure for secp256r1.
func writeECParams(buf *bytes.Buffer) {
	buf.WriteByte(ecCurveTypeNamed)
	var named [2]byte
	binary.BigEndian.PutUint16(named[:], ecCurveSecp256r1)
	buf.Write(named[:])
}

// readECParams validates the ECParameters prefix and returns its length.
func readECParams(data []byte) (int, error) {
	if len(data) < ecParamsLen {
		return 0, ErrTruncated
	}
	if data[0] != ecCurveTypeNamed || binary.BigEndian.Uint16(data[1:3]) != ecCurveSecp256r1 {
		return 0, ErrWrongCurve
	}
	return ecParamsLen, nil
}
