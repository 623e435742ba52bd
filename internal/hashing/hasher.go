package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"webgrave/internal/config"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

const algorithm = "argon2id"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value   string
	Version int
}

// Hasher produces self-describing argon2id hashes:
//
//	argon2id$v=19$m=65536,t=3,p=2,pv=0$<salt>$<hash>
//
// pv is the pepper version (0 means unpeppered, used for passwords).
type Hasher struct {
	passwordParams Argon2Params
	otpParams      Argon2Params
	currentPepper  *Pepper
	oldPeppers     []*Pepper
}

func NewHasher(cfg *config.Config) *Hasher {
	pw := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}
	// OTPs are short-lived and verified often; a lighter profile is enough.
	otp := pw
	if otp.Memory > 19*1024 {
		otp.Memory = 19 * 1024
	}
	otp.Iterations = 2
	otp.Parallelism = 1

	version := max(cfg.Hashing.OTPPepperVersion, 1)
	h := &Hasher{
		passwordParams: pw,
		otpParams:      otp,
		currentPepper:  &Pepper{Value: cfg.Hashing.OTPPepper, Version: version},
	}
	if cfg.Hashing.OTPPepperPrevious != "" && version > 1 {
		h.oldPeppers = []*Pepper{{Value: cfg.Hashing.OTPPepperPrevious, Version: version - 1}}
	}
	return h
}

func (h *Hasher) HashPassword(password string) (string, error) {
	return h.hash(password, h.passwordParams, 0, "")
}

func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	return h.verify(password, encoded, "")
}

// HashOTP hashes a code with the current pepper; purpose is mixed in so a
// reset code can never satisfy an email verification challenge.
func (h *Hasher) HashOTP(code, purpose string) (string, error) {
	pepper := h.currentPepper
	return h.hash(code+pepper.Value, h.otpParams, pepper.Version, purpose)
}

func (h *Hasher) VerifyOTP(code, purpose, encoded string) (bool, error) {
	return h.verify(code, encoded, purpose)
}

func (h *Hasher) hash(data string, p Argon2Params, pepperVersion int, context string) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(data+context), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("%s$v=%d$m=%d,t=%d,p=%d,pv=%d$%s$%s",
		algorithm, argon2.Version, p.Memory, p.Iterations, p.Parallelism, pepperVersion,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Hasher) verify(data, encoded, context string) (bool, error) {
	p, pepperVersion, salt, expected, err := decode(encoded)
	if err != nil {
		return false, err
	}

	if pepperVersion > 0 {
		pepper, err := h.getPepper(pepperVersion)
		if err != nil {
			return false, err
		}
		data += pepper
	}

	computed := argon2.IDKey([]byte(data+context), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func decode(encoded string) (Argon2Params, int, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != algorithm {
		return p, 0, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return p, 0, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return p, 0, nil, nil, ErrIncompatibleVersion
	}

	var pepperVersion int
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d,pv=%d", &p.Memory, &p.Iterations, &p.Parallelism, &pepperVersion); err != nil {
		return p, 0, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return p, 0, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return p, 0, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, pepperVersion, salt, key, nil
}

func (h *Hasher) getPepper(version int) (string, error) {
	if h.currentPepper != nil && h.currentPepper.Version == version {
		return h.currentPepper.Value, nil
	}
	for _, pepper := range h.oldPeppers {
		if pepper.Version == version {
			return pepper.Value, nil
		}
	}
	return "", ErrUnknownPepper
}
