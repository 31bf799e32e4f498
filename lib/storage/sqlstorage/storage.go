package sqlstorage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/mattn/go-sqlite3"
)

var log = logger.GetLogger(common.LoggerStorage)

type storageImpl struct {
	db *sql.DB
}

// NewStorage opens (or creates) the SQLite database at path. The special
// path ":memory:" creates a private in-memory database.
func NewStorage(path string) (storage.IStorage, error) {
	values := url.Values{}
	values.Add("_foreign_keys", "on")
	values.Add("_busy_timeout", "5000")
	if path != ":memory:" {
		values.Add("_journal_mode", "WAL")
		values.Add("_synchronous", "NORMAL")
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// go-sqlite3 does not cope well with concurrent writers, and an in-memory
	// database only exists for the connection that created it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	log.Debugf("sqlstorage: opened %s", path)
	return &storageImpl{db: db}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// querier is implemented by *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// internalError wraps database errors that are not storage errors already
func internalError(err error) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return err
	}
	return storage.Errorf(storage.RetCInternalError, "sqlite: %v", err)
}

// tx runs fn in a transaction. It commits if fn succeeds and rolls back otherwise.
func (s *storageImpl) tx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return internalError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return internalError(err)
	}
	return internalError(tx.Commit())
}

func toNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

// value_type of the objective value columns
const (
	valueFinite = iota + 1
	valueInfPos
	valueInfNeg
	valueNaN
)

// encodeFloat splits v into the REAL column (NULL unless finite) and its value_type.
func encodeFloat(v float64) (sql.NullFloat64, int) {
	switch {
	case math.IsNaN(v):
		return sql.NullFloat64{}, valueNaN
	case math.IsInf(v, 1):
		return sql.NullFloat64{}, valueInfPos
	case math.IsInf(v, -1):
		return sql.NullFloat64{}, valueInfNeg
	}
	return sql.NullFloat64{Float64: v, Valid: true}, valueFinite
}

func decodeFloat(v sql.NullFloat64, valueType int) (float64, error) {
	switch valueType {
	case valueFinite:
		if !v.Valid {
			return 0, errors.New("finite value is NULL")
		}
		return v.Float64, nil
	case valueInfPos:
		return math.Inf(1), nil
	case valueInfNeg:
		return math.Inf(-1), nil
	case valueNaN:
		return math.NaN(), nil
	default:
		return 0, fmt.Errorf("unknown value type %d", valueType)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func loadAttrs(q querier, query string, id int64) (user, system record.Attrs, err error) {
	rows, err := q.Query(query, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	user, system = record.Attrs{}, record.Attrs{}
	for rows.Next() {
		var isSystem int
		var key, raw string
		if err := rows.Scan(&isSystem, &key, &raw); err != nil {
			return nil, nil, err
		}
		v, err := record.DecodeValue([]byte(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("decode attr %q: %w", key, err)
		}
		if isSystem == 1 {
			system[key] = v
		} else {
			user[key] = v
		}
	}
	return user, system, rows.Err()
}

func loadStudy(q querier, id record.StudyID) (record.Study, error) {
	st := record.Study{ID: id}
	var direction int
	err := q.QueryRow(`SELECT name, direction FROM studies WHERE study_id = ?`, int64(id)).Scan(&st.Name, &direction)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Study{}, storage.Errorf(storage.RetCNotFound, "study %d not found", id)
	}
	if err != nil {
		return record.Study{}, err
	}
	st.Direction = record.StudyDirection(direction)
	st.UserAttrs, st.SystemAttrs, err = loadAttrs(q, `SELECT system, key, value_json FROM study_attrs WHERE study_id = ?`, int64(id))
	return st, err
}

func loadTrial(q querier, id record.TrialID) (record.Trial, record.StudyID, error) {
	t := record.Trial{ID: id}
	var studyID int64
	var state int
	var value sql.NullFloat64
	var valueType sql.NullInt64
	var start, complete sql.NullInt64
	err := q.QueryRow(
		`SELECT study_id, number, state, value, value_type, datetime_start, datetime_complete FROM trials WHERE trial_id = ?`,
		int64(id),
	).Scan(&studyID, &t.Number, &state, &value, &valueType, &start, &complete)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Trial{}, 0, storage.Errorf(storage.RetCNotFound, "trial %d not found", id)
	}
	if err != nil {
		return record.Trial{}, 0, err
	}
	t.State = record.TrialState(state)
	if valueType.Valid {
		v, err := decodeFloat(value, int(valueType.Int64))
		if err != nil {
			return record.Trial{}, 0, fmt.Errorf("value of trial %d: %w", id, err)
		}
		t.Value = &v
	}
	t.DatetimeStart = fromNanos(start)
	t.DatetimeComplete = fromNanos(complete)

	// intermediate values
	t.IntermediateValues = map[int]float64{}
	rows, err := q.Query(`SELECT step, value, value_type FROM trial_intermediate_values WHERE trial_id = ?`, int64(id))
	if err != nil {
		return record.Trial{}, 0, err
	}
	for rows.Next() {
		var step, valueType int
		var raw sql.NullFloat64
		if err := rows.Scan(&step, &raw, &valueType); err != nil {
			rows.Close()
			return record.Trial{}, 0, err
		}
		v, err := decodeFloat(raw, valueType)
		if err != nil {
			rows.Close()
			return record.Trial{}, 0, fmt.Errorf("intermediate value of trial %d at step %d: %w", id, step, err)
		}
		t.IntermediateValues[step] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return record.Trial{}, 0, err
	}

	// params
	t.Params = map[string]any{}
	t.Distributions = map[string]record.Distribution{}
	rows, err = q.Query(`SELECT name, internal, distribution_json FROM trial_params WHERE trial_id = ?`, int64(id))
	if err != nil {
		return record.Trial{}, 0, err
	}
	for rows.Next() {
		var name, raw string
		var internal float64
		if err := rows.Scan(&name, &internal, &raw); err != nil {
			rows.Close()
			return record.Trial{}, 0, err
		}
		dist, err := record.UnmarshalDistribution([]byte(raw))
		if err != nil {
			rows.Close()
			return record.Trial{}, 0, fmt.Errorf("param %q: %w", name, err)
		}
		external, err := dist.ToExternal(internal)
		if err != nil {
			rows.Close()
			return record.Trial{}, 0, fmt.Errorf("param %q: %w", name, err)
		}
		t.Params[name] = external
		t.Distributions[name] = dist
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return record.Trial{}, 0, err
	}

	t.UserAttrs, t.SystemAttrs, err = loadAttrs(q, `SELECT system, key, value_json FROM trial_attrs WHERE trial_id = ?`, int64(id))
	return t, record.StudyID(studyID), err
}

func upsertAttr(q querier, table, idColumn string, id int64, system bool, key string, value any) error {
	raw, err := record.EncodeValue(value)
	if err != nil {
		return storage.Errorf(storage.RetCInvalidOperation, "attr %q is not JSON representable: %v", key, err)
	}
	_, err = q.Exec(fmt.Sprintf(
		`INSERT INTO %s (%s, system, key, value_json) VALUES (?, ?, ?, ?)
		 ON CONFLICT (%s, system, key) DO UPDATE SET value_json = excluded.value_json`, table, idColumn, idColumn),
		id, boolInt(system), key, string(raw))
	return err
}

func insertParam(q querier, id record.TrialID, name string, internal float64, dist record.Distribution) error {
	raw, err := record.MarshalDistribution(dist)
	if err != nil {
		return storage.Errorf(storage.RetCInvalidOperation, "param %q: %v", name, err)
	}
	_, err = q.Exec(`INSERT INTO trial_params (trial_id, name, internal, distribution_json) VALUES (?, ?, ?, ?)`,
		int64(id), name, internal, string(raw))
	return err
}

func insertIntermediateValue(q querier, id record.TrialID, step int, v float64) error {
	value, valueType := encodeFloat(v)
	_, err := q.Exec(`INSERT INTO trial_intermediate_values (trial_id, step, value, value_type) VALUES (?, ?, ?, ?)`,
		int64(id), step, value, valueType)
	return err
}

// insertTrial writes a complete trial record including all child rows.
func insertTrial(q querier, studyID record.StudyID, t record.Trial) (record.TrialID, error) {
	var value sql.NullFloat64
	var valueType sql.NullInt64
	if t.Value != nil {
		var typ int
		value, typ = encodeFloat(*t.Value)
		valueType = sql.NullInt64{Int64: int64(typ), Valid: true}
	}
	res, err := q.Exec(
		`INSERT INTO trials (study_id, number, state, value, value_type, datetime_start, datetime_complete) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(studyID), t.Number, int(t.State), value, valueType, toNanos(t.DatetimeStart), toNanos(t.DatetimeComplete))
	if err != nil {
		return 0, err
	}
	raw, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	id := record.TrialID(raw)

	for step, v := range t.IntermediateValues {
		if err := insertIntermediateValue(q, id, step, v); err != nil {
			return 0, err
		}
	}
	for name, external := range t.Params {
		dist := t.Distributions[name]
		internal, err := dist.ToInternal(external)
		if err != nil {
			return 0, storage.Errorf(storage.RetCInvalidOperation, "param %q: %v", name, err)
		}
		if err := insertParam(q, id, name, internal, dist); err != nil {
			return 0, err
		}
	}
	for k, v := range t.UserAttrs {
		if err := upsertAttr(q, "trial_attrs", "trial_id", raw, false, k, v); err != nil {
			return 0, err
		}
	}
	for k, v := range t.SystemAttrs {
		if err := upsertAttr(q, "trial_attrs", "trial_id", raw, true, k, v); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// updateTrial loads the trial, validates the change with fn and persists it with write.
func (s *storageImpl) updateTrial(id record.TrialID, fn func(t *record.Trial) error, write func(tx *sql.Tx, t record.Trial) error) error {
	return s.tx(func(tx *sql.Tx) error {
		t, _, err := loadTrial(tx, id)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		return write(tx, t)
	})
}

// --------------------------------------------------------------------------
// Interface Methods (docs see storage/interface.go)
// --------------------------------------------------------------------------

func (s *storageImpl) CreateStudy(name string) (record.StudyID, error) {
	res, err := s.db.Exec(`INSERT INTO studies (name) VALUES (?)`, name)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return 0, storage.Errorf(storage.RetCAlreadyExists, "study %q already exists", name)
		}
		return 0, internalError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, internalError(err)
	}
	return record.StudyID(id), nil
}

func (s *storageImpl) GetStudyIDByName(name string) (record.StudyID, error) {
	var id int64
	err := s.db.QueryRow(`SELECT study_id FROM studies WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.Errorf(storage.RetCNotFound, "study %q not found", name)
	}
	if err != nil {
		return 0, internalError(err)
	}
	return record.StudyID(id), nil
}

func (s *storageImpl) GetStudy(id record.StudyID) (st record.Study, err error) {
	err = s.tx(func(tx *sql.Tx) error {
		st, err = loadStudy(tx, id)
		return err
	})
	return st, err
}

func (s *storageImpl) GetAllStudies() (studies []record.Study, err error) {
	err = s.tx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT study_id FROM studies ORDER BY study_id`)
		if err != nil {
			return err
		}
		var ids []record.StudyID
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, record.StudyID(id))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			st, err := loadStudy(tx, id)
			if err != nil {
				return err
			}
			studies = append(studies, st)
		}
		return nil
	})
	return studies, err
}

func (s *storageImpl) SetStudyDirection(id record.StudyID, direction record.StudyDirection) error {
	return s.tx(func(tx *sql.Tx) error {
		st, err := loadStudy(tx, id)
		if err != nil {
			return err
		}
		if st.Direction != record.DirectionNotSet && st.Direction != direction {
			return storage.Errorf(storage.RetCInvalidOperation,
				"direction of study %q is already %s", st.Name, st.Direction)
		}
		_, err = tx.Exec(`UPDATE studies SET direction = ? WHERE study_id = ?`, int(direction), int64(id))
		return err
	})
}

func (s *storageImpl) setStudyAttr(id record.StudyID, system bool, key string, value any) error {
	return s.tx(func(tx *sql.Tx) error {
		if _, err := loadStudy(tx, id); err != nil {
			return err
		}
		return upsertAttr(tx, "study_attrs", "study_id", int64(id), system, key, value)
	})
}

func (s *storageImpl) SetStudyUserAttr(id record.StudyID, key string, value any) error {
	return s.setStudyAttr(id, false, key, value)
}

func (s *storageImpl) SetStudySystemAttr(id record.StudyID, key string, value any) error {
	return s.setStudyAttr(id, true, key, value)
}

func (s *storageImpl) CreateTrial(studyID record.StudyID, template *record.Trial) (id record.TrialID, err error) {
	err = s.tx(func(tx *sql.Tx) error {
		if _, err := loadStudy(tx, studyID); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM trials WHERE study_id = ?`, int64(studyID)).Scan(&count); err != nil {
			return err
		}
		t, err := storage.NewTrialFromTemplate(0, count, template, time.Now())
		if err != nil {
			return err
		}
		id, err = insertTrial(tx, studyID, t)
		return err
	})
	return id, err
}

func (s *storageImpl) GetTrialNumberFromID(id record.TrialID) (int, error) {
	var number int
	err := s.db.QueryRow(`SELECT number FROM trials WHERE trial_id = ?`, int64(id)).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.Errorf(storage.RetCNotFound, "trial %d not found", id)
	}
	return number, internalError(err)
}

func (s *storageImpl) GetTrial(id record.TrialID) (t record.Trial, err error) {
	err = s.tx(func(tx *sql.Tx) error {
		t, _, err = loadTrial(tx, id)
		return err
	})
	return t, err
}

func (s *storageImpl) GetAllTrials(studyID record.StudyID) (trials []record.Trial, err error) {
	err = s.tx(func(tx *sql.Tx) error {
		if _, err := loadStudy(tx, studyID); err != nil {
			return err
		}
		rows, err := tx.Query(`SELECT trial_id FROM trials WHERE study_id = ? ORDER BY number`, int64(studyID))
		if err != nil {
			return err
		}
		var ids []record.TrialID
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, record.TrialID(id))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		trials = make([]record.Trial, 0, len(ids))
		for _, id := range ids {
			t, _, err := loadTrial(tx, id)
			if err != nil {
				return err
			}
			trials = append(trials, t)
		}
		return nil
	})
	return trials, err
}

func (s *storageImpl) SetTrialState(id record.TrialID, state record.TrialState) error {
	return s.updateTrial(id,
		func(t *record.Trial) error { return storage.ApplyTrialState(t, state, time.Now()) },
		func(tx *sql.Tx, t record.Trial) error {
			_, err := tx.Exec(`UPDATE trials SET state = ?, datetime_complete = ? WHERE trial_id = ?`,
				int(t.State), toNanos(t.DatetimeComplete), int64(id))
			return err
		})
}

func (s *storageImpl) SetTrialValue(id record.TrialID, value float64) error {
	return s.updateTrial(id,
		func(t *record.Trial) error { return storage.ApplyTrialValue(t, value) },
		func(tx *sql.Tx, _ record.Trial) error {
			raw, valueType := encodeFloat(value)
			_, err := tx.Exec(`UPDATE trials SET value = ?, value_type = ? WHERE trial_id = ?`, raw, valueType, int64(id))
			return err
		})
}

func (s *storageImpl) SetTrialIntermediateValue(id record.TrialID, step int, value float64) error {
	return s.updateTrial(id,
		func(t *record.Trial) error { return storage.ApplyTrialIntermediateValue(t, step, value) },
		func(tx *sql.Tx, _ record.Trial) error {
			return insertIntermediateValue(tx, id, step, value)
		})
}

func (s *storageImpl) SetTrialParam(id record.TrialID, name string, internal float64, dist record.Distribution) error {
	var existed bool
	return s.updateTrial(id,
		func(t *record.Trial) error {
			_, existed = t.Params[name]
			return storage.ApplyTrialParam(t, name, internal, dist)
		},
		func(tx *sql.Tx, _ record.Trial) error {
			if existed {
				// same value and distribution, nothing to write
				return nil
			}
			return insertParam(tx, id, name, internal, dist)
		})
}

func (s *storageImpl) SetTrialUserAttr(id record.TrialID, key string, value any) error {
	return s.updateTrial(id,
		func(t *record.Trial) error { return storage.ApplyTrialAttr(t, false, key, value) },
		func(tx *sql.Tx, _ record.Trial) error {
			return upsertAttr(tx, "trial_attrs", "trial_id", int64(id), false, key, value)
		})
}

func (s *storageImpl) SetTrialSystemAttr(id record.TrialID, key string, value any) error {
	return s.updateTrial(id,
		func(t *record.Trial) error { return storage.ApplyTrialAttr(t, true, key, value) },
		func(tx *sql.Tx, _ record.Trial) error {
			return upsertAttr(tx, "trial_attrs", "trial_id", int64(id), true, key, value)
		})
}

func (s *storageImpl) Close() error {
	return s.db.Close()
}
