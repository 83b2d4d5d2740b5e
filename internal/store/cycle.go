package store

import (
	"database/sql"
	"errors"
	"time"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeRunning       Outcome = "running"
	OutcomePrinted       Outcome = "printed"
	OutcomeGenerated     Outcome = "generated"
	OutcomeCaptureFailed Outcome = "capture_failed"
	OutcomeAborted       Outcome = "aborted"
)

// Cycle is one recorded capture cycle.
type Cycle struct {
	ID           string     `json:"id"`
	Token        string     `json:"token"`
	Origin       string     `json:"origin"`
	Gesture      string     `json:"gesture,omitempty"`
	Mode         string     `json:"mode"`
	Strategy     string     `json:"strategy"`
	Outcome      Outcome    `json:"outcome"`
	PhotoPath    string     `json:"photo_path,omitempty"`
	PoemPath     string     `json:"poem_path,omitempty"`
	AnalysisPath string     `json:"analysis_path,omitempty"`
	Poem         string     `json:"poem,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// CycleRepository provides access to recorded cycles.
type CycleRepository struct {
	db *sql.DB
}

// Cycles returns the cycle repository for this store.
func (s *Store) Cycles() *CycleRepository {
	return &CycleRepository{db: s.db}
}

const cycleColumns = `id, token, origin, gesture, mode, strategy, outcome, photo_path, poem_path,
	analysis_path, poem, error, started_at, finished_at`

// Create inserts a new running cycle.
func (r *CycleRepository) Create(c *Cycle) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	if c.Outcome == "" {
		c.Outcome = OutcomeRunning
	}

	_, err := r.db.Exec(
		`INSERT INTO cycles (`+cycleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Token, c.Origin, c.Gesture, c.Mode, c.Strategy, string(c.Outcome),
		c.PhotoPath, c.PoemPath, c.AnalysisPath, c.Poem, c.Error, c.StartedAt, c.FinishedAt,
	)
	return err
}

// Update writes every mutable field of c.
func (r *CycleRepository) Update(c *Cycle) error {
	result, err := r.db.Exec(
		`UPDATE cycles SET token = ?, outcome = ?, photo_path = ?, poem_path = ?, analysis_path = ?,
			poem = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		c.Token, string(c.Outcome), c.PhotoPath, c.PoemPath, c.AnalysisPath,
		c.Poem, c.Error, c.FinishedAt, c.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish marks c finished now with outcome and persists it.
func (r *CycleRepository) Finish(c *Cycle, outcome Outcome) error {
	now := time.Now()
	c.Outcome = outcome
	c.FinishedAt = &now
	return r.Update(c)
}

// GetByID retrieves a cycle by its ID.
func (r *CycleRepository) GetByID(id string) (*Cycle, error) {
	c, err := scanCycle(r.db.QueryRow(`SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// List retrieves the most recent cycles, newest first. A non-positive limit
// returns every cycle.
func (r *CycleRepository) List(limit int) ([]*Cycle, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT `+cycleColumns+` FROM cycles ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cycles, nil
}

// Count returns how many cycles ended with outcome. An empty outcome counts
// every cycle.
func (r *CycleRepository) Count(outcome Outcome) (int, error) {
	var n int
	var err error
	if outcome == "" {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n)
	} else {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM cycles WHERE outcome = ?`, string(outcome)).Scan(&n)
	}
	return n, err
}

// AbandonRunning marks cycles left running by a previous process as
// aborted and returns how many were changed.
func (r *CycleRepository) AbandonRunning() (int64, error) {
	result, err := r.db.Exec(
		`UPDATE cycles SET outcome = ?, error = 'interrupted', finished_at = ? WHERE outcome = ?`,
		string(OutcomeAborted), time.Now(), string(OutcomeRunning),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(row scanner) (*Cycle, error) {
	c := &Cycle{}
	var outcome string
	var finished sql.NullTime

	err := row.Scan(&c.ID, &c.Token, &c.Origin, &c.Gesture, &c.Mode, &c.Strategy, &outcome,
		&c.PhotoPath, &c.PoemPath, &c.AnalysisPath, &c.Poem, &c.Error, &c.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	c.Outcome = Outcome(outcome)
	if finished.Valid {
		t := finished.Time
		c.FinishedAt = &t
	}
	return c, nil
}
