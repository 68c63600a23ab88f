package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey 使用 HKDF 派生密钥
// 用于从主密钥 + 记录信息派生出记录专用密钥
func DeriveKey(masterKey []byte, salt string, info string) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, masterKey, []byte(salt), []byte(info))

	derivedKey := make([]byte, 32) // AES-256
	if _, err := io.ReadFull(hkdfReader, derivedKey); err != nil {
		return nil, err
	}
	return derivedKey, nil
}

// EncryptAESGCM 使用 AES-GCM 加密数据
func EncryptAESGCM(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	// nonce 附加在密文前面
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptAESGCM 使用 AES-GCM 解密数据
func DecryptAESGCM(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Vault 凭证保险箱
// 每条记录使用 HKDF(主密钥, 记录ID, 用途) 派生独立密钥，密文以 base64 存储
type Vault struct {
	masterKey []byte
}

// NewVault 从 hex 编码的主密钥创建保险箱
func NewVault(masterKeyHex string) (*Vault, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("主密钥格式错误: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("主密钥必须是 32 字节")
	}
	return &Vault{masterKey: key}, nil
}

// Seal 加密 recordID 对应的凭证
func (v *Vault) Seal(recordID, purpose string, plaintext []byte) (string, error) {
	key, err := DeriveKey(v.masterKey, recordID, purpose)
	if err != nil {
		return "", err
	}
	ciphertext, err := EncryptAESGCM(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open 解密；recordID 或 purpose 不匹配时失败
func (v *Vault) Open(recordID, purpose, sealed string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(v.masterKey, recordID, purpose)
	if err != nil {
		return nil, err
	}
	return DecryptAESGCM(ciphertext, key)
}

// SHA256Hash 计算 SHA256 哈希
func SHA256Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// SHA256HashString 计算字符串的 SHA256 哈希
func SHA256HashString(s string) string {
	return SHA256Hash([]byte(s))
}
