package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l5tracks"
	"github.com/banshee-data/fusion.report/internal/fusion/l6query"
	"github.com/banshee-data/fusion.report/internal/fusion/pipeline"
	"github.com/banshee-data/fusion.report/internal/monitoring"
	"github.com/banshee-data/fusion.report/internal/timeutil"
)

// TrackObservation is one stored sample of a track, written for every cycle
// in which the track was created or updated.
type TrackObservation struct {
	TrackID        string
	Cycle          uint64
	Timestamp      time.Time
	Position       r3.Vec
	Velocity       *r3.Vec
	SpeedMps       *float64
	Classification string
	Confidence     float64
	Sources        []string
}

// CycleRecord is one row of cycle statistics. Failed cycles have Cycle 0
// and a non-empty ErrorKind.
type CycleRecord struct {
	ID         int64
	Cycle      uint64
	Time       time.Time
	RecordedAt time.Time
	Duration   time.Duration
	Readings   int
	Detections int
	Clusters   int
	Accepted   int
	Filtered   int
	Created    int
	Updated    int
	Expired    int
	Rejected   int

	ErrorKind    string
	ErrorMessage string
}

// TrackStore writes published cycles to the database. It implements
// pipeline.CycleObserver; write failures are logged and never reach the
// engine.
type TrackStore struct {
	db    *DB
	clock timeutil.Clock
}

var _ pipeline.CycleObserver = (*TrackStore)(nil)

// NewTrackStore returns a store over db. A nil clock means wall time; the
// clock only stamps RecordedAt.
func NewTrackStore(db *DB, clock timeutil.Clock) *TrackStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &TrackStore{db: db, clock: clock}
}

// CycleCompleted implements pipeline.CycleObserver.
func (s *TrackStore) CycleCompleted(result pipeline.CycleResult, snap *l6query.Snapshot) {
	if err := s.RecordCycle(result, snap); err != nil {
		monitoring.Logf("[store] cycle %d: %v", result.Cycle, err)
		return
	}
	monitoring.Debugf("[store] cycle %d: %d tracks, %d observations", result.Cycle, snap.Len(), len(result.Created)+len(result.Updated))
}

// CycleFailed implements pipeline.CycleObserver.
func (s *TrackStore) CycleFailed(err error) {
	if werr := s.RecordFailure(err); werr != nil {
		monitoring.Logf("[store] record failure: %v", werr)
		return
	}
	monitoring.Debugf("[store] recorded failed cycle (%s)", fusion.ErrorKind(err))
}

// RecordCycle upserts every track in snap and in result.Expired, appends an
// observation for each created or updated track, and stores the cycle
// statistics, all in one transaction.
func (s *TrackStore) RecordCycle(result pipeline.CycleResult, snap *l6query.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	touched := make(map[string]bool, len(result.Created)+len(result.Updated))
	for _, id := range result.Created {
		touched[id] = true
	}
	for _, id := range result.Updated {
		touched[id] = true
	}

	for _, tr := range snap.Tracks() {
		if err := upsertTrack(tx, &tr); err != nil {
			return err
		}
		if touched[tr.ID] {
			if err := insertObservation(tx, result.Cycle, &tr); err != nil {
				return err
			}
		}
	}
	for i := range result.Expired {
		if err := upsertTrack(tx, &result.Expired[i]); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		INSERT INTO fusion_cycles (
			cycle, ts_unix_nanos, recorded_unix_nanos, duration_nanos,
			readings, detections, clusters, accepted, filtered,
			created, updated, expired, rejected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(result.Cycle),
		result.Time.UnixNano(),
		s.clock.Now().UnixNano(),
		int64(result.Duration),
		result.Readings,
		result.Detections,
		result.Clusters,
		result.Accepted,
		result.Filtered,
		len(result.Created),
		len(result.Updated),
		len(result.Expired),
		result.Rejected,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordFailure stores a failed cycle attempt.
func (s *TrackStore) RecordFailure(cycleErr error) error {
	_, err := s.db.Exec(`
		INSERT INTO fusion_cycles (recorded_unix_nanos, error_kind, error_message)
		VALUES (?, ?, ?)
	`, s.clock.Now().UnixNano(), fusion.ErrorKind(cycleErr), cycleErr.Error())
	if err != nil {
		return fmt.Errorf("insert failed cycle: %w", err)
	}
	return nil
}

func upsertTrack(tx *sql.Tx, t *l5tracks.Track) error {
	// ON CONFLICT DO UPDATE keeps observations; INSERT OR REPLACE would
	// cascade-delete them.
	_, err := tx.Exec(`
		INSERT INTO fusion_tracks (
			track_id, track_state, start_unix_nanos, end_unix_nanos, update_count,
			x, y, z, velocity_x, velocity_y, velocity_z,
			length, width, height, object_class, confidence, sources
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			track_state = excluded.track_state,
			end_unix_nanos = excluded.end_unix_nanos,
			update_count = excluded.update_count,
			x = excluded.x,
			y = excluded.y,
			z = excluded.z,
			velocity_x = excluded.velocity_x,
			velocity_y = excluded.velocity_y,
			velocity_z = excluded.velocity_z,
			length = excluded.length,
			width = excluded.width,
			height = excluded.height,
			object_class = excluded.object_class,
			confidence = excluded.confidence,
			sources = excluded.sources
	`,
		t.ID,
		string(t.State),
		t.FirstDetected.UnixNano(),
		t.LastUpdated.UnixNano(),
		t.Updates,
		t.Position.X, t.Position.Y, t.Position.Z,
		vecX(t.Velocity), vecY(t.Velocity), vecZ(t.Velocity),
		vecX(t.Dimensions), vecY(t.Dimensions), vecZ(t.Dimensions),
		nullString(t.Classification),
		t.Confidence,
		strings.Join(t.Sources, ","),
	)
	if err != nil {
		return fmt.Errorf("upsert track %s: %w", t.ID, err)
	}
	return nil
}

func insertObservation(tx *sql.Tx, cycle uint64, t *l5tracks.Track) error {
	var speed interface{}
	if t.Velocity != nil {
		speed = t.Speed()
	}
	_, err := tx.Exec(`
		INSERT INTO fusion_track_obs (
			track_id, cycle, ts_unix_nanos, x, y, z,
			velocity_x, velocity_y, velocity_z, speed_mps,
			object_class, confidence, sources
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		int64(cycle),
		t.LastUpdated.UnixNano(),
		t.Position.X, t.Position.Y, t.Position.Z,
		vecX(t.Velocity), vecY(t.Velocity), vecZ(t.Velocity),
		speed,
		nullString(t.Classification),
		t.Confidence,
		strings.Join(t.Sources, ","),
	)
	if err != nil {
		return fmt.Errorf("insert observation %s: %w", t.ID, err)
	}
	return nil
}

const trackColumns = `
	track_id, track_state, start_unix_nanos, end_unix_nanos, update_count,
	x, y, z, velocity_x, velocity_y, velocity_z,
	length, width, height, object_class, confidence, sources
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row rowScanner) (l5tracks.Track, error) {
	var (
		t                      l5tracks.Track
		state, sources         string
		startNanos, endNanos   int64
		vx, vy, vz, dl, dw, dh sql.NullFloat64
		objectClass            sql.NullString
	)
	err := row.Scan(
		&t.ID, &state, &startNanos, &endNanos, &t.Updates,
		&t.Position.X, &t.Position.Y, &t.Position.Z,
		&vx, &vy, &vz,
		&dl, &dw, &dh,
		&objectClass, &t.Confidence, &sources,
	)
	if err != nil {
		return l5tracks.Track{}, err
	}
	t.State = l5tracks.TrackState(state)
	t.FirstDetected = time.Unix(0, startNanos).UTC()
	t.LastUpdated = time.Unix(0, endNanos).UTC()
	t.Velocity = nullVec(vx, vy, vz)
	t.Dimensions = nullVec(dl, dw, dh)
	t.Classification = objectClass.String
	t.Sources = splitSources(sources)
	return t, nil
}

// GetTrack returns the stored track, or sql.ErrNoRows (wrapped) when absent.
func (s *TrackStore) GetTrack(trackID string) (l5tracks.Track, error) {
	row := s.db.QueryRow(`SELECT `+trackColumns+` FROM fusion_tracks WHERE track_id = ?`, trackID)
	t, err := scanTrack(row)
	if err != nil {
		return l5tracks.Track{}, fmt.Errorf("get track %s: %w", trackID, err)
	}
	return t, nil
}

// ListTracks returns stored tracks newest-updated first. An empty state
// lists every state; limit <= 0 means no limit.
func (s *TrackStore) ListTracks(state l5tracks.TrackState, limit int) ([]l5tracks.Track, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + trackColumns + ` FROM fusion_tracks`
	args := []interface{}{}
	if state != "" {
		query += ` WHERE track_state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY end_unix_nanos DESC, track_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []l5tracks.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	return tracks, nil
}

// GetTrackObservations returns up to limit observations of trackID, newest
// first.
func (s *TrackStore) GetTrackObservations(trackID string, limit int) ([]TrackObservation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT track_id, cycle, ts_unix_nanos, x, y, z,
			velocity_x, velocity_y, velocity_z, speed_mps,
			object_class, confidence, sources
		FROM fusion_track_obs
		WHERE track_id = ?
		ORDER BY ts_unix_nanos DESC, obs_id DESC
		LIMIT ?
	`, trackID, limit)
	if err != nil {
		return nil, fmt.Errorf("query track observations: %w", err)
	}
	defer rows.Close()

	var observations []TrackObservation
	for rows.Next() {
		var (
			obs         TrackObservation
			cycle, ts   int64
			vx, vy, vz  sql.NullFloat64
			speed       sql.NullFloat64
			objectClass sql.NullString
			sources     string
		)
		err := rows.Scan(
			&obs.TrackID, &cycle, &ts,
			&obs.Position.X, &obs.Position.Y, &obs.Position.Z,
			&vx, &vy, &vz, &speed,
			&objectClass, &obs.Confidence, &sources,
		)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs.Cycle = uint64(cycle)
		obs.Timestamp = time.Unix(0, ts).UTC()
		obs.Velocity = nullVec(vx, vy, vz)
		if speed.Valid {
			v := speed.Float64
			obs.SpeedMps = &v
		}
		obs.Classification = objectClass.String
		obs.Sources = splitSources(sources)
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return observations, nil
}

// RecentCycles returns up to limit cycle records, newest first.
func (s *TrackStore) RecentCycles(limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT cycle_id, cycle, ts_unix_nanos, recorded_unix_nanos, duration_nanos,
			readings, detections, clusters, accepted, filtered,
			created, updated, expired, rejected,
			error_kind, error_message
		FROM fusion_cycles
		ORDER BY cycle_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var (
			r                       CycleRecord
			cycle, ts, rec, dur     int64
			errorKind, errorMessage sql.NullString
		)
		err := rows.Scan(
			&r.ID, &cycle, &ts, &rec, &dur,
			&r.Readings, &r.Detections, &r.Clusters, &r.Accepted, &r.Filtered,
			&r.Created, &r.Updated, &r.Expired, &r.Rejected,
			&errorKind, &errorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		r.Cycle = uint64(cycle)
		if ts != 0 {
			r.Time = time.Unix(0, ts).UTC()
		}
		r.RecordedAt = time.Unix(0, rec).UTC()
		r.Duration = time.Duration(dur)
		r.ErrorKind = errorKind.String
		r.ErrorMessage = errorMessage.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return records, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func vecX(v *r3.Vec) interface{} {
	if v == nil {
		return nil
	}
	return v.X
}

func vecY(v *r3.Vec) interface{} {
	if v == nil {
		return nil
	}
	return v.Y
}

func vecZ(v *r3.Vec) interface{} {
	if v == nil {
		return nil
	}
	return v.Z
}

func nullVec(x, y, z sql.NullFloat64) *r3.Vec {
	if !x.Valid || !y.Valid || !z.Valid {
		return nil
	}
	return &r3.Vec{X: x.Float64, Y: y.Float64, Z: z.Float64}
}

func splitSources(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
