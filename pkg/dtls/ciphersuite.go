package dtls

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
	"github.com/pion/dtls/v3/pkg/crypto/prf"
)

// TLS_ECJPAKE_WITH_AES_128_CCM_8 parameters.
const (
	// cipherSuiteECJPAKE is the IANA number of the only suite offered.
	cipherSuiteECJPAKE uint16 = 0xC0FF

	ccmTagLength   = 8
	ccmKeyLength   = 16
	ccmImplicitIV  = 4
	ccmExplicitIV  = 8
	ccmNonceLength = ccmImplicitIV + ccmExplicitIV
)

// recordCipher protects and unprotects records once the handshake keys
// are available. AES-128-CCM with an 8-byte tag; the 12-byte nonce is the
// 4-byte implicit write IV followed by the 8-byte explicit epoch+sequence.
type recordCipher struct {
	localAEAD  cipher.AEAD
	remoteAEAD cipher.AEAD
	localIV    []byte
	remoteIV   []byte
}

// deriveKeys runs the TLS 1.2 key schedule for the CCM-8 suite and returns
// a ready record cipher. The suite has no MAC key (AEAD only) and 4-byte
// write IVs.
func deriveKeys(masterSecret, clientRandom, serverRandom []byte) (*recordCipher, error) {
	keys, err := prf.GenerateEncryptionKeys(masterSecret, clientRandom, serverRandom,
		0, ccmKeyLength, ccmImplicitIV, sha256.New)
	if err != nil {
		return nil, fmt.Errorf("key expansion failed: %w", err)
	}

	localBlock, err := aes.NewCipher(keys.ClientWriteKey)
	if err != nil {
		return nil, err
	}
	remoteBlock, err := aes.NewCipher(keys.ServerWriteKey)
	if err != nil {
		return nil, err
	}

	localAEAD, err := ccm.NewCCM(localBlock, ccmTagLength, ccmNonceLength)
	if err != nil {
		return nil, fmt.Errorf("ccm setup failed: %w", err)
	}
	remoteAEAD, err := ccm.NewCCM(remoteBlock, ccmTagLength, ccmNonceLength)
	if err != nil {
		return nil, fmt.Errorf("ccm setup failed: %w", err)
	}

	return &recordCipher{
		localAEAD:  localAEAD,
		remoteAEAD: remoteAEAD,
		localIV:    keys.ClientWriteIV,
		remoteIV:   keys.ServerWriteIV,
	}, nil
}

// encrypt seals plaintext for an outgoing record. The returned record
// payload starts with the 8-byte explicit nonce.
func (rc *recordCipher) encrypt(typ contentType, epoch uint16, seq uint64, plaintext []byte) []byte {
	explicit := explicitNonce(epoch, seq)

	nonce := make([]byte, 0, ccmNonceLength)
	nonce = append(nonce, rc.localIV...)
	nonce = append(nonce, explicit...)

	aad := additionalData(typ, epoch, seq, len(plaintext))

	sealed := rc.localAEAD.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, 0, ccmExplicitIV+len(sealed))
	out = append(out, explicit...)
	out = append(out, sealed...)
	return out
}

// decrypt opens an incoming record payload.
func (rc *recordCipher) decrypt(r record) ([]byte, error) {
	if len(r.payload) < ccmExplicitIV+ccmTagLength {
		return nil, fmt.Errorf("%w: record too short to decrypt", ErrReceiveFailed)
	}

	nonce := make([]byte, 0, ccmNonceLength)
	nonce = append(nonce, rc.remoteIV...)
	nonce = append(nonce, r.payload[:ccmExplicitIV]...)

	plaintextLen := len(r.payload) - ccmExplicitIV - ccmTagLength
	aad := additionalData(r.typ, r.epoch, r.seq, plaintextLen)

	plaintext, err := rc.remoteAEAD.Open(nil, nonce, r.payload[ccmExplicitIV:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReceiveFailed, err)
	}
	return plaintext, nil
}

// explicitNonce returns the 8-byte epoch||sequence explicit nonce.
func explicitNonce(epoch uint16, seq uint64) []byte {
	out := make([]byte, ccmExplicitIV)
	binary.BigEndian.PutUint16(out[0:2], epoch)
	putUint48(out[2:8], seq)
	return out
}

// additionalData builds the TLS 1.2 AEAD additional data:
// seq_num(8) || type(1) || version(2) || length(2).
func additionalData(typ contentType, epoch uint16, seq uint64, length int) []byte {
	out := make([]byte, 13)
	binary.BigEndian.PutUint16(out[0:2], epoch)
	putUint48(out[2:8], seq)
	out[8] = byte(typ)
	binary.BigEndian.PutUint16(out[9:11], versionDTLS12)
	binary.BigEndian.PutUint16(out[11:13], uint16(length))
	return out
}
