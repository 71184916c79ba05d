package reviews

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dyluth/warden/pkg/ledger"
)

// Get writes the review owned by userID as indented JSON.
func Get(ctx context.Context, client *ledger.Client, userID string, w io.Writer) error {
	if _, err := strconv.ParseUint(userID, 10, 64); err != nil {
		return fmt.Errorf("invalid user id %q: must be a numeric snowflake", userID)
	}

	r, err := client.GetReview(ctx, userID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return &NotFoundError{UserID: userID}
		}
		return fmt.Errorf("failed to fetch review: %w", err)
	}

	return FormatSingleJSON(w, r)
}

// NotFoundError is returned when the user has no review in the ledger.
type NotFoundError struct {
	UserID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no review recorded for user %s", e.UserID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
