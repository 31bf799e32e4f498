package sqlstorage

// schema creates the tables of a fresh database. Attribute values and
// distributions are stored as JSON text, parameters as their internal
// representation. Timestamps are unix nanoseconds. Objective values carry a
// value_type next to the REAL column because SQLite can not store NaN or ±Inf.
const schema = `
CREATE TABLE IF NOT EXISTS studies (
	study_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT    NOT NULL UNIQUE,
	direction INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS study_attrs (
	study_id   INTEGER NOT NULL REFERENCES studies(study_id) ON DELETE CASCADE,
	system     INTEGER NOT NULL,
	key        TEXT    NOT NULL,
	value_json TEXT    NOT NULL,
	PRIMARY KEY (study_id, system, key)
);

CREATE TABLE IF NOT EXISTS trials (
	trial_id          INTEGER PRIMARY KEY AUTOINCREMENT,
	study_id          INTEGER NOT NULL REFERENCES studies(study_id) ON DELETE CASCADE,
	number            INTEGER NOT NULL,
	state             INTEGER NOT NULL,
	value             REAL,
	value_type        INTEGER,
	datetime_start    INTEGER,
	datetime_complete INTEGER,
	UNIQUE (study_id, number)
);

CREATE TABLE IF NOT EXISTS trial_params (
	trial_id          INTEGER NOT NULL REFERENCES trials(trial_id) ON DELETE CASCADE,
	name              TEXT    NOT NULL,
	internal          REAL    NOT NULL,
	distribution_json TEXT    NOT NULL,
	PRIMARY KEY (trial_id, name)
);

CREATE TABLE IF NOT EXISTS trial_intermediate_values (
	trial_id INTEGER NOT NULL REFERENCES trials(trial_id) ON DELETE CASCADE,
	step     INTEGER NOT NULL,
	value      REAL,
	value_type INTEGER NOT NULL,
	PRIMARY KEY (trial_id, step)
);

CREATE TABLE IF NOT EXISTS trial_attrs (
	trial_id   INTEGER NOT NULL REFERENCES trials(trial_id) ON DELETE CASCADE,
	system     INTEGER NOT NULL,
	key        TEXT    NOT NULL,
	value_json TEXT    NOT NULL,
	PRIMARY KEY (trial_id, system, key)
);
`
