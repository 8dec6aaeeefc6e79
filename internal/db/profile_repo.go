package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"trekmate/internal/types"
)

// ProfileRepository provides data access for user profiles and their
// emergency contact lists.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a ProfileRepository backed by the given
// database connection (pool or transaction).
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile retrieves a user's profile with emergency contacts ordered by
// priority. Returns a not_found_user error when the user does not exist; a
// user with zero contacts is not an error here, callers decide whether an
// empty contact list is fatal.
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var p types.Profile
	var phone *string
	err := r.db.QueryRow(ctx,
		`SELECT id, name, phone
		 FROM users
		 WHERE id = $1`,
		userID,
	).Scan(&p.UserID, &p.Name, &phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve profile", err)
	}
	if phone != nil {
		p.Phone = *phone
	}

	rows, err := r.db.Query(ctx,
		`SELECT name, phone
		 FROM emergency_contacts
		 WHERE user_id = $1
		 ORDER BY priority ASC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query emergency contacts", err)
	}
	defer rows.Close()

	p.EmergencyContacts = []types.EmergencyContact{}
	for rows.Next() {
		var c types.EmergencyContact
		var name *string
		if err := rows.Scan(&name, &c.Phone); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan emergency contact row", err)
		}
		if name != nil {
			c.Name = *name
		}
		p.EmergencyContacts = append(p.EmergencyContacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating emergency contact rows", err)
	}
	return &p, nil
}

// PhoneNumber returns the user's own phone number, empty when the user has
// not set one. Used by the nearby notifier to reach bystander trekkers.
func (r *ProfileRepository) PhoneNumber(ctx context.Context, userID string) (string, error) {
	var phone *string
	err := r.db.QueryRow(ctx,
		`SELECT phone FROM users WHERE id = $1`,
		userID,
	).Scan(&phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve phone number", err)
	}
	if phone == nil {
		return "", nil
	}
	return *phone, nil
}
