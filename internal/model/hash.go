package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows changing the
// canonical form later without colliding with old digests.
const (
	DomainSnapshot = "todosync/snapshot/v1"
	DomainRecord   = "todosync/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest hashes the canonical JSON form of v under domain.
func Digest(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}

// Canonical returns the todo as a canonical map. The identity is rendered
// with its display form so pending and confirmed records stay distinct.
func (t Todo) Canonical() map[string]any {
	return map[string]any{
		"id":          t.ID.String(),
		"pending":     t.ID.IsPending(),
		"user_id":     t.Owner,
		"title":       t.Title,
		"is_complete": t.IsComplete,
		"created_at":  t.CreatedAt,
		"updated_at":  t.UpdatedAt,
	}
}

// Canonical returns the category as a canonical map.
func (c Category) Canonical() map[string]any {
	return map[string]any{
		"id":         c.ID.String(),
		"pending":    c.ID.IsPending(),
		"user_id":    c.Owner,
		"title":      c.Title,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
}

// Canonical returns the association as a canonical map.
func (a Association) Canonical() map[string]any {
	return map[string]any{
		"id":          a.ID.String(),
		"pending":     a.ID.IsPending(),
		"user_id":     a.Owner,
		"todo_id":     a.TodoID,
		"category_id": a.CategoryID,
		"created_at":  a.CreatedAt,
	}
}
