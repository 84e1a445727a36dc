package domain

import "time"

// Credential is a read-only copy of one bearer token's state in the pool.
// The live record is owned by the token pool and never handed out.
type Credential struct {
	Token      string
	Active     bool
	LastUsedAt time.Time // zero if never used
	LastError  string
	CallsMade  int
}

// Masked returns the token in its display form.
func (c Credential) Masked() string {
	return MaskToken(c.Token)
}

// MaskToken returns "abcd...wxyz" for tokens longer than 8 characters and
// the token unchanged otherwise.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// TokenCheck is the result of probing one credential against the vendor.
type TokenCheck struct {
	Token   string // masked
	OK      bool
	Message string
}
