package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	machineTokenPrefix = "dds_"
	secretLength       = 32
)

// MachineTokenGenerator issues bench tokens for scripts and instruments
// that drive the synthesizer without an operator login.
type MachineTokenGenerator struct{}

func NewMachineTokenGenerator() *MachineTokenGenerator {
	return &MachineTokenGenerator{}
}

// GenerateMachineToken returns the token and its hash.
// Format: dds_<uuid>_<hex secret>
func (m *MachineTokenGenerator) GenerateMachineToken() (string, string, error) {
	id := uuid.New()

	secretBytes := make([]byte, secretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token := machineTokenPrefix + id.String() + "_" + hex.EncodeToString(secretBytes)
	return token, m.HashToken(token), nil
}

// HashToken hashes a bench token; only the hash goes into the config file.
func (m *MachineTokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat rejects anything that GenerateMachineToken could not
// have produced before a hash lookup is attempted.
func (m *MachineTokenGenerator) ValidateTokenFormat(token string) bool {
	rest, ok := strings.CutPrefix(token, machineTokenPrefix)
	if !ok {
		return false
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok {
		return false
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return false
	}
	if len(secret) != 2*secretLength {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}
