// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transform

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"strings"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/scrypt"

	"github.com/walteh/deployrc/pkg/errdefs"
)

// DefaultAlgorithm is used when no algorithm is configured
const DefaultAlgorithm = "aes-256-ctr"

const (
	saltSize = 16
	macSize  = sha256.Size
)

// magic prefixes every encrypted payload
var magic = []byte("DRC\x01")

// scrypt cost parameters; tests lower scryptN
var (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrNotEncrypted is returned when restoring a payload without the
// encryption header
var ErrNotEncrypted = errors.Base("payload is not encrypted")

// PasswordOptions configure password encryption
type PasswordOptions struct {
	Password  string
	Algorithm string
}

type algorithm struct {
	keySize int
	aead    bool
}

var algorithms = map[string]algorithm{
	"aes-256-ctr": {keySize: 32},
	"aes-128-ctr": {keySize: 16},
	"aes-256-gcm": {keySize: 32, aead: true},
}

// Algorithms returns the supported cipher names
func Algorithms() []string {
	return []string{"aes-128-ctr", "aes-256-ctr", "aes-256-gcm"}
}

// WithPassword composes base with password encryption. On upload the base
// transform runs first and its output is encrypted; on download the payload
// is decrypted first and then restored by base. Without a password the
// result is the bare safe base transform.
//
// Every encryption draws a fresh salt and IV, so equal payloads never
// produce equal ciphertexts. CTR payloads carry an HMAC-SHA256 tag so a
// wrong password fails instead of yielding garbage.
func WithPassword(base Func, opts PasswordOptions) (Func, error) {
	safe := Safe(base)
	if opts.Password == "" {
		return safe, nil
	}

	name := strings.ToLower(strings.TrimSpace(opts.Algorithm))
	if name == "" {
		name = DefaultAlgorithm
	}
	algo, ok := algorithms[name]
	if !ok {
		return nil, errors.Errorf("unsupported encryption algorithm %q (supported: %s)", name, strings.Join(Algorithms(), ", "))
	}
	password := []byte(opts.Password)

	return func(ctx context.Context, data []byte, tctx Context) ([]byte, error) {
		switch tctx.Mode {
		case ModeTransform:
			out, err := safe(ctx, data, tctx)
			if err != nil || len(out) == 0 {
				return out, err
			}
			enc, err := encrypt(algo, password, out)
			if err != nil {
				return nil, errdefs.Transform("encrypt", err)
			}
			return enc, nil
		default:
			if len(data) == 0 {
				return safe(ctx, data, tctx)
			}
			dec, err := decrypt(algo, password, data)
			if err != nil {
				return nil, errdefs.Transform("decrypt", err)
			}
			return safe(ctx, dec, tctx)
		}
	}, nil
}

func deriveKeys(algo algorithm, password, salt []byte) (encKey, macKey []byte, err error) {
	size := algo.keySize
	if !algo.aead {
		size += macSize
	}
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, size)
	if err != nil {
		return nil, nil, errors.Errorf("deriving key: %w", err)
	}
	return key[:algo.keySize], key[algo.keySize:], nil
}

// encrypt returns magic | salt | iv | ciphertext [| mac]
func encrypt(algo algorithm, password, plain []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Errorf("reading salt: %w", err)
	}
	encKey, macKey, err := deriveKeys(algo, password, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, errors.Errorf("creating cipher: %w", err)
	}

	header := append(append([]byte{}, magic...), salt...)

	if algo.aead {
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.Errorf("creating gcm: %w", err)
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, errors.Errorf("reading nonce: %w", err)
		}
		header = append(header, nonce...)
		aad := append([]byte{}, header...)
		return gcm.Seal(header, nonce, plain, aad), nil
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, errors.Errorf("reading iv: %w", err)
	}
	out := append(header, iv...)
	body := make([]byte, len(plain))
	cipher.NewCTR(block, iv).XORKeyStream(body, plain)
	out = append(out, body...)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(out)
	return mac.Sum(out), nil
}

func decrypt(algo algorithm, password, data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, magic) || len(data) < len(magic)+saltSize {
		return nil, errors.WithStack(ErrNotEncrypted)
	}
	salt := data[len(magic) : len(magic)+saltSize]
	encKey, macKey, err := deriveKeys(algo, password, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, errors.Errorf("creating cipher: %w", err)
	}
	rest := data[len(magic)+saltSize:]

	if algo.aead {
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.Errorf("creating gcm: %w", err)
		}
		if len(rest) < gcm.NonceSize()+gcm.Overhead() {
			return nil, errors.Errorf("payload too short")
		}
		header := data[:len(magic)+saltSize+gcm.NonceSize()]
		nonce := rest[:gcm.NonceSize()]
		plain, err := gcm.Open(nil, nonce, rest[gcm.NonceSize():], header)
		if err != nil {
			return nil, errors.Errorf("wrong password or corrupted payload: %w", err)
		}
		return plain, nil
	}

	if len(rest) < aes.BlockSize+macSize {
		return nil, errors.Errorf("payload too short")
	}
	signed, tag := data[:len(data)-macSize], data[len(data)-macSize:]
	mac := hmac.New(sha256.New, macKey)
	mac.Write(signed)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, errors.Errorf("wrong password or corrupted payload")
	}

	iv := rest[:aes.BlockSize]
	body := rest[aes.BlockSize : len(rest)-macSize]
	plain := make([]byte, len(body))
	cipher.NewCTR(block, iv).XORKeyStream(plain, body)
	return plain, nil
}
