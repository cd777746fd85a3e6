// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

// EventRepository exposes the part of the space_events table the ban
// cascade touches.
type EventRepository struct {
	db DB
}

var _ auth.OrganizedResources = (*EventRepository)(nil)

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db DB) *EventRepository {
	return &EventRepository{db: db}
}

// InvalidateByOrganizer marks every valid event organized by userID invalid.
func (r *EventRepository) InvalidateByOrganizer(ctx context.Context, userID ulid.ULID) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE space_events SET is_valid = FALSE, updated_at = now()
		WHERE organizer_id = $1 AND is_valid
	`, userID.String())
	if err != nil {
		return 0, oops.Code("EVENT_INVALIDATE_FAILED").
			With("operation", "invalidate organized events").
			With("organizer_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}
