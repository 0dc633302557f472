package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"studylock/internal/constants"
)

// accessCodeAlphabet leaves out characters that are easy to misread.
const accessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const hintLength = 4

// GeneratedCode is a freshly minted access code. Code is shown to the admin
// once; only Hash and Hint are stored.
type GeneratedCode struct {
	Code string `json:"code"`
	Hash string `json:"-"`
	Hint string `json:"hint"`
}

// GenerateAccessCode creates a random registration code using crypto/rand.
func GenerateAccessCode() (*GeneratedCode, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := 0; i < constants.AccessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("generating access code: %w", err)
		}
		b.WriteByte(accessCodeAlphabet[n.Int64()])
	}

	code := b.String()
	return &GeneratedCode{
		Code: code,
		Hash: HashAccessCode(code),
		Hint: code[len(code)-hintLength:],
	}, nil
}

// NormalizeAccessCode upper-cases a code and drops spaces and dashes users
// tend to type.
func NormalizeAccessCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, code)
}

func HashAccessCode(code string) string {
	return hashToken(NormalizeAccessCode(code))
}
