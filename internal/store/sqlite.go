package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/nutridex/nutridex/api"
	_ "modernc.org/sqlite"
)

// The store persists between process runs as a plain SQLite file. Only the
// normalized tables and scores are written; indexes are a pure function of
// them and are rebuilt on load.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS food_category (
	id INTEGER PRIMARY KEY,
	code INTEGER,
	description TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS nutrient (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	unit_name TEXT NOT NULL,
	nutrient_nbr TEXT,
	rank REAL
);
CREATE TABLE IF NOT EXISTS measure_unit (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS food (
	fdc_id INTEGER PRIMARY KEY,
	data_type TEXT NOT NULL,
	description TEXT NOT NULL,
	category_id INTEGER,
	publication_date TEXT
);
CREATE TABLE IF NOT EXISTS food_nutrient (
	id INTEGER PRIMARY KEY,
	fdc_id INTEGER NOT NULL,
	nutrient_id INTEGER NOT NULL,
	amount REAL,
	data_points INTEGER,
	derivation_id INTEGER,
	min REAL,
	max REAL,
	median REAL,
	loq REAL,
	min_year_acquired INTEGER,
	percent_daily_value REAL
);
CREATE TABLE IF NOT EXISTS branded_food (
	fdc_id INTEGER PRIMARY KEY,
	brand_owner TEXT,
	brand_name TEXT,
	ingredients TEXT,
	serving_size REAL,
	serving_size_unit TEXT,
	household_serving_fulltext TEXT,
	branded_food_category TEXT,
	modified_date TEXT,
	available_date TEXT
);
CREATE TABLE IF NOT EXISTS foundation_food (
	fdc_id INTEGER PRIMARY KEY,
	ndb_number TEXT,
	footnote TEXT
);
CREATE TABLE IF NOT EXISTS food_attribute (
	id INTEGER PRIMARY KEY,
	fdc_id INTEGER NOT NULL,
	seq_num INTEGER,
	name TEXT,
	value TEXT
);
CREATE TABLE IF NOT EXISTS density_score (
	fdc_id INTEGER PRIMARY KEY,
	score REAL NOT NULL,
	completeness REAL NOT NULL,
	kcal_per_100g REAL,
	weights_version TEXT NOT NULL
);
`

// SaveSnapshot writes the snapshot's tables and scores to a SQLite file at
// path, replacing any previous contents.
func SaveSnapshot(path string, snap *Snapshot) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	// Bulk-load tuning; durability comes from the final fsync on close.
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		return err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	for _, table := range []string{
		"meta", "food_category", "nutrient", "measure_unit", "food",
		"food_nutrient", "branded_food", "foundation_food",
		"food_attribute", "density_score",
	} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := writeMeta(tx, snap); err != nil {
		return err
	}
	if err := writeTables(tx, snap.Tables); err != nil {
		return err
	}
	if err := writeScores(tx, snap.Tables, snap.Scores); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	// Index after bulk load for speed.
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS idx_food_nutrient_fdc ON food_nutrient(fdc_id)")
	return err
}

func writeMeta(tx *sql.Tx, snap *Snapshot) error {
	stmt, err := tx.Prepare("INSERT INTO meta (key, value) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	kv := map[string]string{
		"version":         strconv.FormatUint(snap.Version, 10),
		"built_at":        snap.BuiltAt.UTC().Format(time.RFC3339Nano),
		"weights_version": snap.Scores.WeightsVersion,
	}
	for k, v := range kv {
		if _, err := stmt.Exec(k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return nil
}

func writeTables(tx *sql.Tx, t *Tables) error {
	catStmt, err := tx.Prepare("INSERT INTO food_category (id, code, description) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = catStmt.Close() }()
	for _, c := range t.CategoryList {
		if _, err := catStmt.Exec(c.ID, optInt(c.Code), c.Description); err != nil {
			return fmt.Errorf("write category %d: %w", c.ID, err)
		}
	}

	nutStmt, err := tx.Prepare("INSERT INTO nutrient (id, name, unit_name, nutrient_nbr, rank) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = nutStmt.Close() }()
	for _, n := range t.NutrientList {
		if _, err := nutStmt.Exec(n.ID, n.Name, n.UnitName, nullStr(n.Number), optFloat(n.Rank)); err != nil {
			return fmt.Errorf("write nutrient %d: %w", n.ID, err)
		}
	}

	muStmt, err := tx.Prepare("INSERT INTO measure_unit (id, name) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = muStmt.Close() }()
	for id, mu := range t.MeasureUnits {
		if _, err := muStmt.Exec(id, mu.Name); err != nil {
			return fmt.Errorf("write measure unit %d: %w", id, err)
		}
	}

	foodStmt, err := tx.Prepare("INSERT INTO food (fdc_id, data_type, description, category_id, publication_date) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = foodStmt.Close() }()
	for _, f := range t.Foods {
		if _, err := foodStmt.Exec(f.FDCID, string(f.DataType), f.Description,
			optInt(f.CategoryID), nullStr(f.PublicationDate)); err != nil {
			return fmt.Errorf("write food %d: %w", f.FDCID, err)
		}
	}

	mStmt, err := tx.Prepare(`INSERT INTO food_nutrient
		(id, fdc_id, nutrient_id, amount, data_points, derivation_id,
		 min, max, median, loq, min_year_acquired, percent_daily_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = mStmt.Close() }()
	for _, m := range t.Measurements {
		if _, err := mStmt.Exec(m.ID, m.FDCID, m.NutrientID,
			optFloat(m.Amount), optInt(m.DataPoints), optInt(m.DerivationID),
			optFloat(m.Min), optFloat(m.Max), optFloat(m.Median),
			optFloat(m.LOQ), optInt(m.MinYearAcquired), optFloat(m.PercentDV)); err != nil {
			return fmt.Errorf("write measurement %d: %w", m.ID, err)
		}
	}

	bStmt, err := tx.Prepare(`INSERT INTO branded_food
		(fdc_id, brand_owner, brand_name, ingredients, serving_size,
		 serving_size_unit, household_serving_fulltext, branded_food_category,
		 modified_date, available_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = bStmt.Close() }()
	for _, b := range t.Branded {
		if _, err := bStmt.Exec(b.FDCID, nullStr(b.BrandOwner), nullStr(b.BrandName),
			nullStr(b.Ingredients), optFloat(b.ServingSize), nullStr(b.ServingSizeUnit),
			nullStr(b.HouseholdServing), nullStr(b.BrandedCategory),
			nullStr(b.ModifiedDate), nullStr(b.AvailableDate)); err != nil {
			return fmt.Errorf("write branded %d: %w", b.FDCID, err)
		}
	}

	ffStmt, err := tx.Prepare("INSERT INTO foundation_food (fdc_id, ndb_number, footnote) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = ffStmt.Close() }()
	for _, ff := range t.Foundation {
		if _, err := ffStmt.Exec(ff.FDCID, nullStr(ff.NDBNumber), nullStr(ff.Footnote)); err != nil {
			return fmt.Errorf("write foundation %d: %w", ff.FDCID, err)
		}
	}

	aStmt, err := tx.Prepare("INSERT INTO food_attribute (id, fdc_id, seq_num, name, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = aStmt.Close() }()
	for _, attrs := range t.Attributes {
		for _, a := range attrs {
			if _, err := aStmt.Exec(a.ID, a.FDCID, optInt(a.SeqNum), nullStr(a.Name), nullStr(a.Value)); err != nil {
				return fmt.Errorf("write attribute %d: %w", a.ID, err)
			}
		}
	}
	return nil
}

func writeScores(tx *sql.Tx, t *Tables, s *Scores) error {
	stmt, err := tx.Prepare(`INSERT INTO density_score
		(fdc_id, score, completeness, kcal_per_100g, weights_version)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for p := range t.Foods {
		ds, ok := s.At(t, int32(p))
		if !ok {
			continue
		}
		if _, err := stmt.Exec(ds.FDCID, ds.Score, ds.Completeness,
			optFloat(ds.KcalPer100g), ds.WeightsVersion); err != nil {
			return fmt.Errorf("write score %d: %w", ds.FDCID, err)
		}
	}
	return nil
}

// LoadSnapshot restores tables and scores from a SQLite file written by
// SaveSnapshot. The returned snapshot has no Index; rebuild it with
// internal/index before serving.
func LoadSnapshot(path string) (*Snapshot, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	t := NewTables()
	snap := &Snapshot{Tables: t}

	var weightsVersion string
	rows, err := db.Query("SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return nil, err
		}
		switch k {
		case "version":
			snap.Version, _ = strconv.ParseUint(v, 10, 64)
		case "built_at":
			snap.BuiltAt, _ = time.Parse(time.RFC3339Nano, v)
		case "weights_version":
			weightsVersion = v
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	if err := readTables(db, t); err != nil {
		return nil, err
	}
	t.Finalize()

	scores := NewScores(len(t.Foods), weightsVersion)
	rows, err = db.Query("SELECT fdc_id, score, completeness, kcal_per_100g FROM density_score")
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	for rows.Next() {
		var fdcID int64
		var score, completeness float64
		var kcal sql.NullFloat64
		if err := rows.Scan(&fdcID, &score, &completeness, &kcal); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p, ok := t.FoodPos(fdcID)
		if !ok {
			continue // score for a food no longer in the store
		}
		scores.Valid[p] = true
		scores.Value[p] = score
		scores.Completeness[p] = completeness
		scores.Kcal[p] = api.OptFloat{Value: kcal.Float64, Valid: kcal.Valid}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	snap.Scores = scores
	return snap, nil
}

func readTables(db *sql.DB, t *Tables) error {
	rows, err := db.Query("SELECT id, code, description FROM food_category")
	if err != nil {
		return fmt.Errorf("query categories: %w", err)
	}
	for rows.Next() {
		var c api.FoodCategory
		var code sql.NullInt64
		if err := rows.Scan(&c.ID, &code, &c.Description); err != nil {
			_ = rows.Close()
			return err
		}
		c.Code = api.OptInt{Value: code.Int64, Valid: code.Valid}
		t.Categories[c.ID] = c
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = db.Query("SELECT id, name, unit_name, nutrient_nbr, rank FROM nutrient")
	if err != nil {
		return fmt.Errorf("query nutrients: %w", err)
	}
	for rows.Next() {
		var n api.Nutrient
		var nbr sql.NullString
		var rank sql.NullFloat64
		if err := rows.Scan(&n.ID, &n.Name, &n.UnitName, &nbr, &rank); err != nil {
			_ = rows.Close()
			return err
		}
		n.Number = nbr.String
		n.Rank = api.OptFloat{Value: rank.Float64, Valid: rank.Valid}
		t.Nutrients[n.ID] = n
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = db.Query("SELECT id, name FROM measure_unit")
	if err != nil {
		return fmt.Errorf("query measure units: %w", err)
	}
	for rows.Next() {
		var mu api.MeasureUnit
		if err := rows.Scan(&mu.ID, &mu.Name); err != nil {
			_ = rows.Close()
			return err
		}
		t.MeasureUnits[mu.ID] = mu
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = db.Query("SELECT fdc_id, data_type, description, category_id, publication_date FROM food")
	if err != nil {
		return fmt.Errorf("query foods: %w", err)
	}
	for rows.Next() {
		var f api.Food
		var dt string
		var cat sql.NullInt64
		var pub sql.NullString
		if err := rows.Scan(&f.FDCID, &dt, &f.Description, &cat, &pub); err != nil {
			_ = rows.Close()
			return err
		}
		f.DataType = api.DataType(dt)
		f.CategoryID = api.OptInt{Value: cat.Int64, Valid: cat.Valid}
		f.PublicationDate = pub.String
		t.Foods = append(t.Foods, f)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = db.Query(`SELECT id, fdc_id, nutrient_id, amount, data_points,
		derivation_id, min, max, median, loq, min_year_acquired,
		percent_daily_value FROM food_nutrient`)
	if err != nil {
		return fmt.Errorf("query measurements: %w", err)
	}
	for rows.Next() {
		var m api.Measurement
		var amount, min, max, median, loq, pdv sql.NullFloat64
		var dp, deriv, year sql.NullInt64
		if err := rows.Scan(&m.ID, &m.FDCID, &m.NutrientID, &amount, &dp,
			&deriv, &min, &max, &median, &loq, &year, &pdv); err != nil {
			_ = rows.Close()
			return err
		}
		m.Amount = api.OptFloat{Value: amount.Float64, Valid: amount.Valid}
		m.DataPoints = api.OptInt{Value: dp.Int64, Valid: dp.Valid}
		m.DerivationID = api.OptInt{Value: deriv.Int64, Valid: deriv.Valid}
		m.Min = api.OptFloat{Value: min.Float64, Valid: min.Valid}
		m.Max = api.OptFloat{Value: max.Float64, Valid: max.Valid}
		m.Median = api.OptFloat{Value: median.Float64, Valid: median.Valid}
		m.LOQ = api.OptFloat{Value: loq.Float64, Valid: loq.Valid}
		m.MinYearAcquired = api.OptInt{Value: year.Int64, Valid: year.Valid}
		m.PercentDV = api.OptFloat{Value: pdv.Float64, Valid: pdv.Valid}
		t.Measurements = append(t.Measurements, m)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = db.Query(`SELECT fdc_id, brand_owner, brand_name, ingredients,
		serving_size, serving_size_unit, household_serving_fulltext,
		branded_food_category, modified_date, available_date FROM branded_food`)
	if err != nil {
		return fmt.Errorf("query branded: %w", err)
	}
	for rows.Next() {
		var b api.BrandedFood
		var owner, name, ingr, unit, hh, cat, mod, avail sql.NullString
		var size sql.NullFloat64
		if err := rows.Scan(&b.FDCID, &owner, &name, &ingr, &size, &unit,
			&hh, &cat, &mod, &avail); err != nil {
			_ = rows.Close()
			return err
		}
		b.BrandOwner = owner.String
		b.BrandName = name.String
		b.Ingredients = ingr.String
		b.ServingSize = api.OptFloat{Value: size.Float64, Valid: size.Valid}
		b.ServingSizeUnit = unit.String
		b.HouseholdServing = hh.String
		b.BrandedCategory = cat.String
		b.ModifiedDate = mod.String
		b.AvailableDate = avail.String
		t.Branded[b.FDCID] = b
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = db.Query("SELECT fdc_id, ndb_number, footnote FROM foundation_food")
	if err != nil {
		return fmt.Errorf("query foundation: %w", err)
	}
	for rows.Next() {
		var ff api.FoundationFood
		var ndb, note sql.NullString
		if err := rows.Scan(&ff.FDCID, &ndb, &note); err != nil {
			_ = rows.Close()
			return err
		}
		ff.NDBNumber = ndb.String
		ff.Footnote = note.String
		t.Foundation[ff.FDCID] = ff
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = db.Query("SELECT id, fdc_id, seq_num, name, value FROM food_attribute ORDER BY fdc_id, id")
	if err != nil {
		return fmt.Errorf("query attributes: %w", err)
	}
	for rows.Next() {
		var a api.FoodAttribute
		var seq sql.NullInt64
		var name, value sql.NullString
		if err := rows.Scan(&a.ID, &a.FDCID, &seq, &name, &value); err != nil {
			_ = rows.Close()
			return err
		}
		a.SeqNum = api.OptInt{Value: seq.Int64, Valid: seq.Valid}
		a.Name = name.String
		a.Value = value.String
		t.Attributes[a.FDCID] = append(t.Attributes[a.FDCID], a)
	}
	return closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

func optFloat(v api.OptFloat) any {
	if !v.Valid {
		return nil
	}
	return v.Value
}

func optInt(v api.OptInt) any {
	if !v.Valid {
		return nil
	}
	return v.Value
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
