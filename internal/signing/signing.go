// Package signing reproduces the vendor's client-side request signature and
// device identifiers.
//
// The AES key and IV below are the vendor web client's obfuscation constants.
// They are a compatibility requirement, not a secret, and protect nothing.
package signing

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/murmur3"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

var (
	signKey = []byte("5FA2MKT7miJ/sGTb")
	signIV  = []byte("Aryx2NC77xtTX8Ju")
)

// DeviceIDSeed is the murmur3 seed the vendor client hashes fingerprints with.
const DeviceIDSeed = 31

// SignatureError means the cipher could not be set up or the padding was wrong.
// It indicates a defect, never a transient condition.
type SignatureError struct {
	Stage string
	Err   error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signing: %s: %v", e.Stage, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }

// DeriveDeviceID hashes fingerprint into a 32 character lowercase hex e_id.
// An empty fingerprint is replaced by 16 random bytes, hex encoded.
func DeriveDeviceID(fingerprint string) string {
	if fingerprint == "" {
		fingerprint = randomFingerprint()
	}
	h1, h2 := murmur3.SeedSum128(DeviceIDSeed, DeviceIDSeed, []byte(fingerprint))
	// The vendor reads the digest as one little-endian 128-bit integer, so the
	// high word comes first when printed.
	return fmt.Sprintf("%016x%016x", h2, h1)
}

func randomFingerprint() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms; keep the id unique anyway.
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}

// NowMillis is the clock used when no timestamp is supplied.
var NowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// Sign computes base64(AES-CBC(pkcs7(md5hex(img) + ts))). A nil timestamp means now.
func Sign(img []byte, timestampMs *int64) (schemas.Signature, error) {
	ts := NowMillis()
	if timestampMs != nil {
		ts = *timestampMs
	}

	digest := md5.Sum(img)
	plaintext := []byte(hex.EncodeToString(digest[:]) + strconv.FormatInt(ts, 10))

	block, err := aes.NewCipher(signKey)
	if err != nil {
		return schemas.Signature{}, &SignatureError{Stage: "cipher", Err: err}
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	if len(padded)%block.BlockSize() != 0 {
		return schemas.Signature{}, &SignatureError{Stage: "padding", Err: fmt.Errorf("length %d", len(padded))}
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, signIV).CryptBlocks(out, padded)

	return schemas.Signature{
		Sign:        base64.StdEncoding.EncodeToString(out),
		TimestampMs: ts,
	}, nil
}

// MustSign is Sign for callers that treat a signing failure as fatal.
func MustSign(img []byte, timestampMs *int64) schemas.Signature {
	sig, err := Sign(img, timestampMs)
	if err != nil {
		panic(err)
	}
	return sig
}

// pkcs7Pad always adds between 1 and blockSize bytes.
func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}
