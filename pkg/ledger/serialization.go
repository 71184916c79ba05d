package ledger

import (
	"fmt"
	"strconv"
)

// ReviewToHash converts a Review to a Redis hash.
func ReviewToHash(r *Review) map[string]interface{} {
	return map[string]interface{}{
		"user_id":          r.UserID,
		"thread_id":        r.ThreadID,
		"category":         r.Category,
		"channel_id":       r.ChannelID,
		"bucket_role_id":   r.BucketRoleID,
		"pending_category": r.PendingCategory,
		"archived":         strconv.FormatBool(r.Archived),
		"locked":           strconv.FormatBool(r.Locked),
		"archived_at_ms":   r.ArchivedAtMs,
		"updated_at_ms":    r.UpdatedAtMs,
	}
}

// HashToReview converts a Redis hash back to a Review.
func HashToReview(hash map[string]string) (*Review, error) {
	archived, err := parseBool(hash["archived"])
	if err != nil {
		return nil, fmt.Errorf("invalid archived field: %w", err)
	}
	locked, err := parseBool(hash["locked"])
	if err != nil {
		return nil, fmt.Errorf("invalid locked field: %w", err)
	}
	archivedAt, _ := strconv.ParseInt(hash["archived_at_ms"], 10, 64)
	updatedAt, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	r := &Review{
		UserID:          hash["user_id"],
		ThreadID:        hash["thread_id"],
		Category:        hash["category"],
		ChannelID:       hash["channel_id"],
		BucketRoleID:    hash["bucket_role_id"],
		PendingCategory: hash["pending_category"],
		Archived:        archived,
		Locked:          locked,
		ArchivedAtMs:    archivedAt,
		UpdatedAtMs:     updatedAt,
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid review hash: %w", err)
	}
	return r, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
