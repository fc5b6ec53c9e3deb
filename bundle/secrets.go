package bundle

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"

	"airgap-bundler/checksum"

	"golang.org/x/crypto/scrypt"
)

//
// @Author yfy2001
// @Date 2026/2/3 14 25
//

// 快照加密格式: salt(16) | nonce(12) | AES-256-GCM密文
const (
	saltSize = 16
	scryptN  = 1 << 15
	scryptR  = 8
	scryptP  = 1
	keySize  = 32
)

// EncryptFile 用口令派生密钥加密src，原子写入dst，权限0600
func EncryptFile(src, dst, passphrase string) error {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("读取 %s 失败: %w", src, err)
	}
	ciphertext, err := Encrypt(plaintext, passphrase)
	if err != nil {
		return err
	}
	if err := checksum.AtomicWrite(dst, ciphertext, 0600); err != nil {
		return fmt.Errorf("写入加密快照 %s 失败: %w", dst, err)
	}
	return nil
}

// Encrypt AES-256-GCM加密，密钥由scrypt从口令派生
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt 解密Encrypt产出的数据
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltSize {
		return nil, fmt.Errorf("加密数据过短")
	}
	salt := data[:saltSize]
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	rest := data[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("加密数据过短")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("解密失败（口令错误或数据损坏）: %w", err)
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
