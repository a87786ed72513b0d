package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"batteryswap/backend/services/reservations-service/internal/repository"
)

const (
	scheduledCodePrefix = "BK"
	instantCodePrefix   = "INST"
	codeTimeDigits      = 8
	codeSuffixLength    = 6
	// MaxCodeLength bounds every generated code.
	MaxCodeLength = 20

	maxCodeAttempts = 5
)

// Crockford-like alphabet without 0/O and 1/I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var codeEntropy = uuid.New

// CodeGenerator builds short human-typeable booking codes.
type CodeGenerator struct {
	now func() time.Time
}

// NewCodeGenerator returns generator reading time from now.
func NewCodeGenerator(now func() time.Time) *CodeGenerator {
	if now == nil {
		now = time.Now
	}
	return &CodeGenerator{now: now}
}

// Generate returns prefix + low time digits + random suffix.
func (g *CodeGenerator) Generate(instant bool) string {
	prefix := scheduledCodePrefix
	if instant {
		prefix = instantCodePrefix
	}

	digits := strconv.FormatInt(g.now().UnixMilli(), 10)
	if len(digits) > codeTimeDigits {
		digits = digits[len(digits)-codeTimeDigits:]
	}

	entropy := codeEntropy()
	suffix := make([]byte, codeSuffixLength)
	for i := range suffix {
		suffix[i] = codeAlphabet[int(entropy[i])%len(codeAlphabet)]
	}
	return prefix + digits + string(suffix)
}

// unique draws codes until one is unused in storage.
func (g *CodeGenerator) unique(ctx context.Context, tx repository.Tx, instant bool) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := g.Generate(instant)
		exists, err := tx.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free reservation code after %d attempts", maxCodeAttempts)
}
