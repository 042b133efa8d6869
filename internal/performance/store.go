// Package performance stores breed performance standards in SQLite and
// answers structured lookups against them.
package performance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/entities"
)

// UnitSystem tags how a value was published
type UnitSystem string

const (
	UnitSystemMetric   UnitSystem = "metric"
	UnitSystemImperial UnitSystem = "imperial"
)

// Standard is one published target value for a breed, sex, age and metric
type Standard struct {
	ID         int64               `json:"id,omitempty" yaml:"-"`
	Breed      string              `json:"breed" yaml:"breed"`
	Sex        entities.Sex        `json:"sex" yaml:"sex"`
	AgeDays    int                 `json:"age_days" yaml:"age_days"`
	Metric     entities.MetricType `json:"metric" yaml:"metric"`
	Value      float64             `json:"value" yaml:"value"`
	Unit       string              `json:"unit" yaml:"unit"`
	UnitSystem UnitSystem          `json:"unit_system" yaml:"unit_system"`
	Source     string              `json:"source" yaml:"source"`
}

// Match is a standard returned by Search with its distance to the asked age
type Match struct {
	Standard
	AgeDistance int `json:"age_distance"`
}

// Filters narrows a structured search beyond the extracted entities
type Filters struct {
	// IgnoreSex drops the sex filter (relaxed matching)
	IgnoreSex bool
	// MaxAgeDistance limits |age - requested age| when positive
	MaxAgeDistance int
	// Metrics restricts the metric when the entities carry none
	Metrics []entities.MetricType
}

// Document is a free-text knowledge document indexed for keyword and
// semantic retrieval
type Document struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
	Breed   string `json:"breed,omitempty" yaml:"breed"`
	Species string `json:"species,omitempty" yaml:"species"`
	Topic   string `json:"topic,omitempty" yaml:"topic"`
}

// ErrMissingBreed is returned by lookups that need a breed
var ErrMissingBreed = errors.New("breed is required")

// Store handles queries to the SQLite performance database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a new performance store
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, logger: logger}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema creates the tables if they don't exist
func (s *Store) initSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS performance_standards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			breed TEXT NOT NULL,
			sex TEXT NOT NULL DEFAULT 'mixed',
			age_days INTEGER NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT,
			unit_system TEXT NOT NULL DEFAULT 'metric',
			source TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (breed, sex, age_days, metric, source)
		);
		CREATE INDEX IF NOT EXISTS idx_standards_lookup
			ON performance_standards (breed, metric, sex, age_days);
		CREATE TABLE IF NOT EXISTS documents (
			doc_id TEXT PRIMARY KEY,
			title TEXT,
			content TEXT NOT NULL,
			breed TEXT,
			species TEXT,
			topic TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	_, err := s.db.Exec(query)
	return err
}

// Upsert adds or replaces standards in a single transaction
func (s *Store) Upsert(ctx context.Context, standards []Standard) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO performance_standards
			(breed, sex, age_days, metric, value, unit, unit_system, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, std := range standards {
		if std.Breed == "" || std.Metric == "" || std.AgeDays <= 0 {
			return fmt.Errorf("invalid standard %q/%s at %d days", std.Breed, std.Metric, std.AgeDays)
		}
		sex := std.Sex
		if sex == "" {
			sex = entities.SexMixed
		}
		system := std.UnitSystem
		if system == "" {
			system = UnitSystemMetric
		}
		if _, err := stmt.ExecContext(ctx, std.Breed, string(sex), std.AgeDays, string(std.Metric),
			std.Value, std.Unit, string(system), std.Source); err != nil {
			return fmt.Errorf("failed to insert standard: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit standards: %w", err)
	}

	s.logger.Info("Performance standards upserted", zap.Int("count", len(standards)))
	return nil
}

const standardColumns = "id, breed, sex, age_days, metric, value, unit, unit_system, source"

// Search returns the standards closest in age to the requested entities.
// Breed is required. Sex and metric filter when present; without a sex the
// mixed-flock rows come first.
func (s *Store) Search(ctx context.Context, query string, e entities.Entities, filters Filters, topK int) ([]Match, error) {
	if e.Breed == "" {
		return nil, ErrMissingBreed
	}
	if topK <= 0 {
		topK = 10
	}

	conditions := []string{"breed = ?"}
	args := []interface{}{e.Breed}

	if e.Metric != "" {
		conditions = append(conditions, "metric = ?")
		args = append(args, string(e.Metric))
	} else if len(filters.Metrics) > 0 {
		placeholders := make([]string, len(filters.Metrics))
		for i, m := range filters.Metrics {
			placeholders[i] = "?"
			args = append(args, string(m))
		}
		conditions = append(conditions, "metric IN ("+strings.Join(placeholders, ", ")+")")
	}

	if e.Sex != "" && !filters.IgnoreSex {
		conditions = append(conditions, "sex = ?")
		args = append(args, string(e.Sex))
	}

	distance := "0"
	if e.AgeDays > 0 {
		distance = fmt.Sprintf("ABS(age_days - %d)", e.AgeDays)
		if filters.MaxAgeDistance > 0 {
			conditions = append(conditions, distance+" <= ?")
			args = append(args, filters.MaxAgeDistance)
		}
	}

	stmt := "SELECT " + standardColumns + ", " + distance + " AS distance FROM performance_standards" +
		" WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY distance ASC, CASE sex WHEN 'mixed' THEN 0 ELSE 1 END, age_days ASC, id ASC LIMIT ?"
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query standards: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := scanStandard(rows, &m.Standard, &m.AgeDistance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating standards: %w", err)
	}

	s.logger.Debug("Structured search completed",
		zap.String("query", query),
		zap.String("breed", e.Breed),
		zap.Int("age_days", e.AgeDays),
		zap.Int("results", len(matches)))
	return matches, nil
}

// Samples returns every standard for a breed and metric ordered by age.
// An empty sex returns all sexes.
func (s *Store) Samples(ctx context.Context, breed string, metric entities.MetricType, sex entities.Sex) ([]Standard, error) {
	if breed == "" {
		return nil, ErrMissingBreed
	}

	stmt := "SELECT " + standardColumns + " FROM performance_standards WHERE breed = ? AND metric = ?"
	args := []interface{}{breed, string(metric)}
	if sex != "" {
		stmt += " AND sex = ?"
		args = append(args, string(sex))
	}
	stmt += " ORDER BY age_days ASC, CASE sex WHEN 'mixed' THEN 0 ELSE 1 END, id ASC"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var standards []Standard
	for rows.Next() {
		var std Standard
		if err := scanStandard(rows, &std); err != nil {
			return nil, err
		}
		standards = append(standards, std)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}
	return standards, nil
}

// Metrics lists the metrics published for a breed
func (s *Store) Metrics(ctx context.Context, breed string) ([]entities.MetricType, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT metric FROM performance_standards WHERE breed = ? ORDER BY metric", breed)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []entities.MetricType
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, entities.MetricType(m))
	}
	return metrics, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStandard(row scanner, std *Standard, extra ...interface{}) error {
	var sex, metric, system string
	var unit sql.NullString
	dest := []interface{}{&std.ID, &std.Breed, &sex, &std.AgeDays, &metric, &std.Value, &unit, &system, &std.Source}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("failed to scan standard: %w", err)
	}
	std.Sex = entities.Sex(sex)
	std.Metric = entities.MetricType(metric)
	std.UnitSystem = UnitSystem(system)
	std.Unit = unit.String
	return nil
}

// AddDocument adds or replaces a knowledge document
func (s *Store) AddDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" || strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("document requires an id and content")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (doc_id, title, content, breed, species, topic)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Title, doc.Content, doc.Breed, doc.Species, doc.Topic)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Documents returns every knowledge document ordered by id
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_id, title, content, breed, species, topic FROM documents ORDER BY doc_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var title, breed, species, topic sql.NullString
		if err := rows.Scan(&doc.ID, &title, &doc.Content, &breed, &species, &topic); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Title, doc.Breed, doc.Species, doc.Topic = title.String, breed.String, species.String, topic.String
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// Stats returns row counts for health and CLI reporting
func (s *Store) Stats(ctx context.Context) (map[string]interface{}, error) {
	var standards, breeds, documents int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT breed) FROM performance_standards").Scan(&standards, &breeds); err != nil {
		return nil, fmt.Errorf("failed to count standards: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&documents); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	return map[string]interface{}{
		"standards": standards,
		"breeds":    breeds,
		"documents": documents,
	}, nil
}
