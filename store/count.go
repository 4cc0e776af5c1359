package store

import (
	"context"
	"errors"
	"fmt"

	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
)

// UnreadCount returns the number of unread notifications for a user, for the
// notification badge. Served by a Firestore aggregation query so the
// documents themselves are never loaded.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if s.localPath != "" {
		return s.localUnreadCount(userID)
	}

	query := s.client.Collection("users").Doc(userID).Collection("notifications").
		Where("read", "==", false)

	results, err := query.NewAggregationQuery().WithCount("unread").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}

	value, ok := results["unread"]
	if !ok {
		return 0, errors.New("aggregation result missing count")
	}
	count, ok := value.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected aggregation result type %T", value)
	}

	return count.GetIntegerValue(), nil
}
