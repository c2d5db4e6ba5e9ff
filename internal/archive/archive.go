package archive

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"lukechampine.com/blake3"
)

// ErrNotFound is returned by Lookup when no transcript matches the key.
var ErrNotFound = errors.New("transcript not archived")

const schema = `
create table if not exists transcripts (
	id          integer primary key autoincrement,
	blake3_hash text not null,
	backend     text not null,
	language    text not null,
	format      text not null,
	name        text not null,
	text        text not null,
	duration_ms integer not null,
	created_at  text not null,
	unique (blake3_hash, backend, language, format)
);
create table if not exists segments (
	transcript_id integer not null references transcripts(id) on delete cascade,
	idx           integer not null,
	start_ms      integer not null,
	end_ms        integer not null,
	text          text not null,
	primary key (transcript_id, idx)
);`

// Key identifies an archived transcript: the same audio rendered with the
// same backend, language and format.
type Key struct {
	Hash     string
	Backend  string
	Language string
	Format   string
}

type Segment struct {
	Index   int
	StartMs int64
	EndMs   int64
	Text    string
}

type Record struct {
	ID         int64
	Key        Key
	Name       string
	Text       string
	DurationMs int64
	CreatedAt  time.Time
	Segments   []Segment
}

// Archive is a SQLite store of finished transcripts.
type Archive struct {
	db *sql.DB
}

// Open opens (and migrates) the archive database at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	_, err = db.Exec(`
	PRAGMA busy_timeout = 10000;
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous  = NORMAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Lookup returns the transcript stored under key, without segments.
func (a *Archive) Lookup(ctx context.Context, key Key) (Record, error) {
	res := Record{Key: key}
	var created string

	err := a.db.
		QueryRowContext(
			ctx,
			`select id, name, text, duration_ms, created_at from transcripts
			where blake3_hash = $1 and backend = $2 and language = $3 and format = $4`,
			key.Hash, key.Backend, key.Language, key.Format,
		).
		Scan(&res.ID, &res.Name, &res.Text, &res.DurationMs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return res, ErrNotFound
	}
	if err != nil {
		return res, fmt.Errorf("get transcript by hash: %w", err)
	}
	res.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return res, nil
}

// Segments loads the per-segment texts of a stored transcript in index order.
func (a *Archive) Segments(ctx context.Context, transcriptID int64) ([]Segment, error) {
	rows, err := a.db.QueryContext(ctx,
		"select idx, start_ms, end_ms, text from segments where transcript_id = $1 order by idx",
		transcriptID)
	if err != nil {
		return nil, fmt.Errorf("get segments: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var s Segment
		if err := rows.Scan(&s.Index, &s.StartMs, &s.EndMs, &s.Text); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Save stores rec, replacing any transcript under the same key, and
// returns its id.
func (a *Archive) Save(ctx context.Context, rec Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("saving transcript: begin trx: %w", err)
	}

	id, err := a.save(ctx, tx, rec)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return 0, fmt.Errorf("rollback save transcript: %w", rbErr)
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("saving transcript: committing: %w", err)
	}
	return id, nil
}

func (a *Archive) save(ctx context.Context, tx *sql.Tx, rec Record) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		insert into transcripts (blake3_hash, backend, language, format, name, text, duration_ms, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (blake3_hash, backend, language, format) do update set
			name = excluded.name,
			text = excluded.text,
			duration_ms = excluded.duration_ms,
			created_at = excluded.created_at
		returning id`,
		rec.Key.Hash, rec.Key.Backend, rec.Key.Language, rec.Key.Format,
		rec.Name, rec.Text, rec.DurationMs, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("persisting transcript into sqlite: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "delete from segments where transcript_id = $1", id); err != nil {
		return 0, fmt.Errorf("clearing segments: %w", err)
	}
	if len(rec.Segments) == 0 {
		return id, nil
	}

	var b strings.Builder
	b.WriteString("insert into segments (transcript_id, idx, start_ms, end_ms, text) values ")
	args := make([]any, 0, 5*len(rec.Segments))
	for n, s := range rec.Segments {
		if n > 0 {
			b.WriteString(", ")
		}
		p := n * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5)
		args = append(args, id, s.Index, s.StartMs, s.EndMs, s.Text)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return 0, fmt.Errorf("inserting segments: %w", err)
	}
	return id, nil
}

// HashReader returns the hex BLAKE3-256 digest of r.
func HashReader(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("calculating blake3 hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex BLAKE3-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}
