package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"trekmate/internal/types"
)

// TrekRepository provides data access for active treks and the location
// fixes reported against them. It backs both the nearby-trekker search and
// the club analysis.
type TrekRepository struct {
	db DBTX
}

// NewTrekRepository creates a TrekRepository backed by the given database
// connection (pool or transaction).
func NewTrekRepository(db DBTX) *TrekRepository {
	return &TrekRepository{db: db}
}

// memberColumns is the standard projection for active-member queries. The
// lateral join picks each trek's newest location fix; treks with no fix yet
// produce NULLs, which scanMember maps to a nil LastLocation.
const memberColumns = `u.id, u.name, t.distance_m, t.avg_speed_mps, t.started_at,
	l.latitude, l.longitude, l.recorded_at`

const latestLocationJoin = `LEFT JOIN LATERAL (
	SELECT latitude, longitude, recorded_at
	FROM trek_locations
	WHERE trek_id = t.id
	ORDER BY recorded_at DESC
	LIMIT 1
) l ON true`

// scanMember scans one row of memberColumns into an ActiveMember. The
// location columns are nullable as a unit: a trek either has a latest fix
// or it does not.
func scanMember(rows pgx.Rows) (types.ActiveMember, error) {
	var m types.ActiveMember
	var (
		lat, lon   *float64
		recordedAt *time.Time
	)
	err := rows.Scan(
		&m.UserID,
		&m.Name,
		&m.DistanceTraveledM,
		&m.AvgSpeedMPS,
		&m.StartTime,
		&lat,
		&lon,
		&recordedAt,
	)
	if err != nil {
		return m, err
	}
	if lat != nil && lon != nil && recordedAt != nil {
		m.LastLocation = &types.LocationPoint{
			Latitude:  *lat,
			Longitude: *lon,
			Timestamp: *recordedAt,
		}
	}
	return m, nil
}

// ActiveTrekkers returns every user with an in-progress trek except
// excludeUserID, each with their latest location fix if one exists.
// Freshness and radius filtering happen in the caller; the repository only
// guarantees "latest fix per trek".
func (r *TrekRepository) ActiveTrekkers(ctx context.Context, excludeUserID string) ([]types.ActiveMember, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+memberColumns+`
		 FROM treks t
		 JOIN users u ON u.id = t.user_id
		 `+latestLocationJoin+`
		 WHERE t.status = 'active' AND u.id <> $1`,
		excludeUserID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query active trekkers", err)
	}
	defer rows.Close()

	members := []types.ActiveMember{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan active trekker row", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating active trekker rows", err)
	}
	return members, nil
}

// RecordLocation appends a location fix to an active trek. The insert is
// rejected when the trek is not active so late fixes from a finished trek
// cannot resurrect it.
func (r *TrekRepository) RecordLocation(ctx context.Context, trekID string, p types.LocationPoint) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO trek_locations (trek_id, latitude, longitude, altitude_m, accuracy_m, speed_mps, heading_deg, recorded_at)
		 SELECT t.id, $2, $3, $4, $5, $6, $7, $8
		 FROM treks t
		 WHERE t.id = $1 AND t.status = 'active'`,
		trekID,
		p.Latitude,
		p.Longitude,
		p.AltitudeM,
		p.AccuracyM,
		p.SpeedMPS,
		p.HeadingDeg,
		p.Timestamp,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record location", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundActivity, "no active trek for location fix", nil)
	}
	return nil
}

// ClubRepository provides data access for clubs and their members.
type ClubRepository struct {
	db DBTX
}

// NewClubRepository creates a ClubRepository backed by the given database
// connection (pool or transaction).
func NewClubRepository(db DBTX) *ClubRepository {
	return &ClubRepository{db: db}
}

// GetClub retrieves a club by id. Returns a not_found_club error when the
// club does not exist.
func (r *ClubRepository) GetClub(ctx context.Context, clubID string) (*types.Club, error) {
	var c types.Club
	err := r.db.QueryRow(ctx,
		`SELECT id, name, leader_user_id
		 FROM clubs
		 WHERE id = $1`,
		clubID,
	).Scan(&c.ID, &c.Name, &c.LeaderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundClub, "club not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve club", err)
	}
	return &c, nil
}

// ActiveMembers returns the club members with an in-progress trek, each
// with their latest location fix. IsLeader is derived from the club's
// leader_user_id so callers never re-join to find the leader.
func (r *ClubRepository) ActiveMembers(ctx context.Context, clubID string) ([]types.ActiveMember, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+memberColumns+`, (u.id = c.leader_user_id) AS is_leader
		 FROM clubs c
		 JOIN club_members cm ON cm.club_id = c.id
		 JOIN users u ON u.id = cm.user_id
		 JOIN treks t ON t.user_id = u.id AND t.status = 'active'
		 `+latestLocationJoin+`
		 WHERE c.id = $1`,
		clubID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query club members", err)
	}
	defer rows.Close()

	members := []types.ActiveMember{}
	for rows.Next() {
		var m types.ActiveMember
		var (
			lat, lon   *float64
			recordedAt *time.Time
		)
		err := rows.Scan(
			&m.UserID,
			&m.Name,
			&m.DistanceTraveledM,
			&m.AvgSpeedMPS,
			&m.StartTime,
			&lat,
			&lon,
			&recordedAt,
			&m.IsLeader,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan club member row", err)
		}
		if lat != nil && lon != nil && recordedAt != nil {
			m.LastLocation = &types.LocationPoint{
				Latitude:  *lat,
				Longitude: *lon,
				Timestamp: *recordedAt,
			}
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating club member rows", err)
	}
	return members, nil
}
