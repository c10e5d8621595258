package delegate

import (
	"bytes"
	"crypto/sha256"
	"io"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// File layout of a store (and of its exports):
//
//	magic[8] version[1] flags[1] level[1] | plain: snapshot
//	                                      | sealed: salt[16] nonce[24] ciphertext
//
// The header is authenticated as additional data of the sealed payload.
const (
	fileMagic   = "KVDSTORE"
	fileVersion = 1
	flagSealed  = 1 << 0
	headerLen   = len(fileMagic) + 3
	saltLen     = 16
	hkdfInfo    = "kvds store file v1"
)

type fileHeader struct {
	sealed bool
	level  byte
}

func (h fileHeader) bytes() []byte {
	var flags byte
	if h.sealed {
		flags |= flagSealed
	}
	b := make([]byte, 0, headerLen)
	b = append(b, fileMagic...)
	return append(b, fileVersion, flags, h.level)
}

// deriveFileKey stretches the store secret into the AEAD key for one file.
func deriveFileKey(secret, salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, errors.Wrap(err, "derive file key")
	}
	return key, nil
}

// encodeFile wraps a snapshot into the file format, sealing it when secret is not empty.
func encodeFile(snapshot []byte, secret []byte, level byte) ([]byte, error) {
	header := fileHeader{sealed: len(secret) > 0, level: level}.bytes()
	if len(secret) == 0 {
		return append(header, snapshot...), nil
	}

	salt := crypto.GetRandomKey(saltLen)
	key, err := deriveFileKey(secret, salt)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	nonce := crypto.GetRandomKey(aead.NonceSize())

	out := make([]byte, 0, len(header)+saltLen+len(nonce)+len(snapshot)+aead.Overhead())
	out = append(out, header...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, snapshot, header), nil
}

// decodeFile returns the snapshot stored in data.
// Every mismatch between the file and the given secret is reported as ErrInvalidPasswdOrCorrupted.
func decodeFile(data []byte, secret []byte) ([]byte, fileHeader, error) {
	if len(data) < headerLen || !bytes.Equal(data[:len(fileMagic)], []byte(fileMagic)) {
		return nil, fileHeader{}, errors.Wrap(ErrInvalidPasswdOrCorrupted, "bad file header")
	}
	if data[len(fileMagic)] != fileVersion {
		return nil, fileHeader{}, errors.Wrapf(ErrInvalidPasswdOrCorrupted, "unsupported file version %d", data[len(fileMagic)])
	}
	header := fileHeader{
		sealed: data[len(fileMagic)+1]&flagSealed != 0,
		level:  data[len(fileMagic)+2],
	}
	body := data[headerLen:]

	switch {
	case !header.sealed && len(secret) > 0:
		return nil, header, errors.Wrap(ErrInvalidPasswdOrCorrupted, "store is not encrypted")
	case !header.sealed:
		return body, header, nil
	case len(secret) == 0:
		return nil, header, errors.Wrap(ErrInvalidPasswdOrCorrupted, "store is encrypted")
	}

	if len(body) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, header, errors.Wrap(ErrInvalidPasswdOrCorrupted, "truncated file")
	}
	key, err := deriveFileKey(secret, body[:saltLen])
	if err != nil {
		return nil, header, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, header, errors.Wrap(err, "init cipher")
	}
	nonce := body[saltLen : saltLen+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, body[saltLen+aead.NonceSize():], data[:headerLen])
	if err != nil {
		return nil, header, errors.Wrap(ErrInvalidPasswdOrCorrupted, "decrypt store")
	}
	return plain, header, nil
}
