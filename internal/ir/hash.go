package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// The version suffix leaves room for algorithm migration.
const (
	DomainProgram    = "graphir/program/v1"
	DomainPassConfig = "graphir/pass-config/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramFingerprint hashes a serialized program description.
// Two programs with equal fingerprints have byte-identical descriptions.
func ProgramFingerprint(blob []byte) string {
	return hashWithDomain(DomainProgram, blob)
}

// ConfigHash hashes a pass configuration through its canonical JSON form.
func ConfigHash(config map[string]any) (string, error) {
	canonical, err := MarshalCanonical(config)
	if err != nil {
		return "", fmt.Errorf("ConfigHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPassConfig, canonical), nil
}

// MustConfigHash is like ConfigHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustConfigHash(config map[string]any) string {
	h, err := ConfigHash(config)
	if err != nil {
		panic(err)
	}
	return h
}
