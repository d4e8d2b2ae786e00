package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"aerogate/pkg/models"
)

// ComputeHash returns the integrity hash of a trace: sha256 over the
// canonical JSON of the identity fields and the full event chain. Two
// traces with the same id, user, query and events hash identically
// regardless of map ordering.
func ComputeHash(t *models.ExecutionTrace) (string, error) {
	payload := map[string]interface{}{
		"trace_id": t.TraceID,
		"user_id":  t.UserID,
		"query":    t.Query,
		"events":   t.Events,
	}
	canon, err := models.CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
