package ledger

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// MaxIdempotencyKeyLength bounds caller-supplied keys
const MaxIdempotencyKeyLength = 128

// IdempotencyRecord permanently ties an external request to the transaction
// it produced. Records never expire.
type IdempotencyRecord struct {
	Key           string    `json:"key"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Fingerprint   string    `json:"fingerprint"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewIdempotencyRecord creates a reservation for key
func NewIdempotencyRecord(key string, txID uuid.UUID, fingerprint string) *IdempotencyRecord {
	return &IdempotencyRecord{
		Key:           key,
		TransactionID: txID,
		Fingerprint:   fingerprint,
		CreatedAt:     time.Now().UTC(),
	}
}

// Matches reports whether a retried request carries the same payload
func (r *IdempotencyRecord) Matches(fingerprint string) bool {
	return r.Fingerprint == "" || r.Fingerprint == fingerprint
}

// ValidateIdempotencyKey rejects empty, oversized or non-printable keys
func ValidateIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" || len(key) > MaxIdempotencyKeyLength {
		return ErrInvalidIdempotency.WithDetail("length", strconv.Itoa(len(key)))
	}
	for _, r := range key {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return ErrInvalidIdempotency
		}
	}
	return nil
}

// Fingerprint hashes the economically relevant parts of a posting so that a
// key reused for a different request can be told apart from a retry
func Fingerprint(p PostingParams) string {
	var b strings.Builder
	b.WriteString(p.Type.String())
	b.WriteByte('|')
	b.WriteString(p.Currency.String())
	b.WriteByte('|')
	b.WriteString(p.Amount.String())
	b.WriteByte('|')
	if p.Reference != nil {
		b.WriteString(p.Reference.String())
	}

	legs := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		legs = append(legs, e.AccountID.String()+":"+e.EntryType.String()+":"+e.Amount.String())
	}
	sort.Strings(legs)
	for _, leg := range legs {
		b.WriteByte('|')
		b.WriteString(leg)
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
