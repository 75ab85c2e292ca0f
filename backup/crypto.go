package backup

import (
	"crypto"
	"crypto/hmac"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/binary"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// backupExportInfo is the HKDF info parameter the Signal Android client
// uses to expand the backup key into the cipher and MAC keys.
var backupExportInfo = []byte("Backup Export")

// deriveBackupKey implements the 250,000-round SHA-512 stretch used to
// turn a passphrase (and optional salt) into a 32-byte intermediate key:
// round 0 hashes salt‖passphrase‖passphrase, every subsequent round
// hashes prev‖passphrase.
func deriveBackupKey(passphrase string, salt []byte) []byte {
	digest := crypto.SHA512.New()
	input := []byte(strings.ReplaceAll(strings.TrimSpace(passphrase), " ", ""))
	hash := input

	if salt != nil {
		digest.Write(salt)
	}

	for i := 0; i < 250000; i++ {
		digest.Write(hash)
		digest.Write(input)
		hash = digest.Sum(nil)
		digest.Reset()
	}

	return hash[:32]
}

// expandSecrets runs HKDF-SHA-256 over the backup key with an empty salt
// and info="Backup Export", producing 64 bytes: the first 32 are the AES
// key, the next 32 are the MAC key.
func expandSecrets(backupKey []byte) (cipherKey, macKey []byte, err error) {
	sha := crypto.SHA256.New
	salt := make([]byte, sha().Size())
	okm := make([]byte, 64)

	kdf := hkdf.New(sha, backupKey, salt, backupExportInfo)
	if _, err := io.ReadFull(kdf, okm); err != nil {
		return nil, nil, err
	}
	return okm[:32], okm[32:], nil
}

// deriveKeys runs the full key-derivation pipeline: 250k-round SHA-512
// stretch, then HKDF-SHA-256 expansion.
func deriveKeys(passphrase string, salt []byte) (cipherKey, macKey []byte, err error) {
	backupKey := deriveBackupKey(passphrase, salt)
	return expandSecrets(backupKey)
}

// ivForCounter returns a new 16-byte IV equal to base with its first four
// bytes replaced by counter in big-endian order. It does not mutate base.
func ivForCounter(base []byte, counter uint32) []byte {
	iv := make([]byte, len(base))
	copy(iv, base)
	binary.BigEndian.PutUint32(iv[0:4], counter)
	return iv
}

// verifyTruncatedMAC reports whether the first 10 bytes of a HMAC-SHA-256 digest
// over data (keyed by macKey) equal tag.
func verifyTruncatedMAC(macKey, data, tag []byte) bool {
	mac := hmac.New(crypto.SHA256.New, macKey)
	mac.Write(data)
	sum := mac.Sum(nil)
	return hmac.Equal(sum[:10], tag)
}
