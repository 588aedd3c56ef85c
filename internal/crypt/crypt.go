// package crypt implements the streaming password+salt transform applied to
// snapshot files in the external drop folder.
//
// Wire format: AES-256-CTR ciphertext followed by a 32-byte HMAC-SHA256 tag
// computed over the ciphertext. Key material is derived with PBKDF2-SHA256
// from the per-file password and the shared salt: 32 bytes cipher key,
// 16 bytes IV, 32 bytes MAC key.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// TagSize is the length of the trailing HMAC tag.
	TagSize = 32

	keyIterations = 10000
	derivedLen    = 32 + aes.BlockSize + 32
)

// Error is the fatal per-file decryption error kind: truncated payloads and
// tag mismatches both surface as *Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypt: %s: %v", e.Op, e.Err)
	}
	return "crypt: " + e.Op
}

func (e *Error) Unwrap() error { return e.Err }

type keys struct {
	cipherKey []byte
	iv        []byte
	macKey    []byte
}

func deriveKeys(password, salt string) keys {
	d := pbkdf2.Key([]byte(password), []byte(salt), keyIterations, derivedLen, sha256.New)
	return keys{
		cipherKey: d[:32],
		iv:        d[32 : 32+aes.BlockSize],
		macKey:    d[32+aes.BlockSize:],
	}
}

// Decrypt consumes at most encryptedLength bytes from src and streams the
// decrypted plaintext to dst without materializing the payload. It returns
// the number of plaintext bytes written. Truncated input and tag mismatches
// return *Error.
func Decrypt(dst io.Writer, src io.Reader, password, salt string, encryptedLength int64) (int64, error) {
	if encryptedLength < TagSize {
		return 0, &Error{Op: "decrypt", Err: fmt.Errorf("encrypted length %d shorter than tag", encryptedLength)}
	}

	k := deriveKeys(password, salt)
	block, err := aes.NewCipher(k.cipherKey)
	if err != nil {
		return 0, &Error{Op: "decrypt", Err: err}
	}
	stream := cipher.NewCTR(block, k.iv)
	mac := hmac.New(sha256.New, k.macKey)

	limited := io.LimitReader(src, encryptedLength)
	var (
		written int64
		read    int64
		// carry holds the trailing bytes that may turn out to be the tag.
		carry []byte
		buf   = make([]byte, 32*1024)
		out   = make([]byte, 0, 32*1024+TagSize)
	)

	for {
		n, rerr := limited.Read(buf)
		if n > 0 {
			read += int64(n)
			combined := append(carry, buf[:n]...)
			if body := len(combined) - TagSize; body > 0 {
				chunk := combined[:body]
				mac.Write(chunk)
				if cap(out) < body {
					out = make([]byte, 0, body)
				}
				plain := out[:body]
				stream.XORKeyStream(plain, chunk)
				wn, werr := dst.Write(plain)
				written += int64(wn)
				if werr != nil {
					return written, fmt.Errorf("write plaintext: %w", werr)
				}
				carry = append(carry[:0], combined[body:]...)
			} else {
				carry = combined
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read ciphertext: %w", rerr)
		}
	}

	if read != encryptedLength {
		return written, &Error{Op: "decrypt", Err: fmt.Errorf("truncated: read %d of %d bytes", read, encryptedLength)}
	}
	if len(carry) != TagSize {
		return written, &Error{Op: "decrypt", Err: fmt.Errorf("truncated: %d tag bytes", len(carry))}
	}
	if !hmac.Equal(mac.Sum(nil), carry) {
		return written, &Error{Op: "decrypt", Err: fmt.Errorf("authentication tag mismatch")}
	}
	return written, nil
}

// Encrypt is the inverse transform, used by tooling and tests to produce
// payloads Decrypt accepts. It returns the encrypted length including the tag.
func Encrypt(dst io.Writer, src io.Reader, password, salt string) (int64, error) {
	k := deriveKeys(password, salt)
	block, err := aes.NewCipher(k.cipherKey)
	if err != nil {
		return 0, &Error{Op: "encrypt", Err: err}
	}
	stream := cipher.NewCTR(block, k.iv)
	mac := hmac.New(sha256.New, k.macKey)

	var written int64
	buf := make([]byte, 32*1024)
	ct := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			stream.XORKeyStream(ct[:n], buf[:n])
			mac.Write(ct[:n])
			wn, werr := dst.Write(ct[:n])
			written += int64(wn)
			if werr != nil {
				return written, fmt.Errorf("write ciphertext: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read plaintext: %w", rerr)
		}
	}
	wn, err := dst.Write(mac.Sum(nil))
	written += int64(wn)
	if err != nil {
		return written, fmt.Errorf("write tag: %w", err)
	}
	return written, nil
}
