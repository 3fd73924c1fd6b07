package pg

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"kbmigrate/logger"
	"kbmigrate/server/content"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" database/sql driver
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

//Store is the Postgres content store. All table names carry the configured prefix.
type Store struct {
	db     *sql.DB
	prefix string
}

var _ content.Store = (*Store)(nil)

//Open connects to the database, retrying with exponential backoff until the
//server answers or maxWait elapses.
func Open(ctx context.Context, dsn string, prefix string, maxWait time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pg: open")
	}
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(10)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxWait
	ping := func() error {
		return db.PingContext(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Postgres is not reachable (%s). Reconnecting in %s...", err.Error(), wait)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(policy, ctx), notify); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pg: connect")
	}
	return &Store{db: db, prefix: prefix}, nil
}

//NewStore wraps an already opened database.
func NewStore(db *sql.DB, prefix string) *Store {
	return &Store{db: db, prefix: prefix}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) table(name string) string {
	return pq.QuoteIdentifier(s.prefix + name)
}

//sql replaces {name} placeholders with the quoted prefixed table names.
func (s *Store) sql(query string) string {
	for _, name := range []string{"users", "terms", "termmeta", "posts", "postmeta", "term_relationships", "options"} {
		query = strings.ReplaceAll(query, "{"+name+"}", s.table(name))
	}
	return query
}

//Migrate creates the content tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := s.db.ExecContext(ctx, s.sql(statement)); err != nil {
			return errors.Wrapf(err, "pg: migrate")
		}
	}
	return nil
}

//Truncate empties every content table.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.sql(`TRUNCATE {term_relationships}, {postmeta}, {termmeta}, {posts}, {terms}, {users}, {options} RESTART IDENTITY`))
	return errors.Wrap(err, "pg: truncate")
}

func (s *Store) InsertUser(ctx context.Context, user *content.User) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.sql(`INSERT INTO {users} (login, email, display_name, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`),
		user.Login, user.Email, user.DisplayName, user.FirstName, user.LastName).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "pg: insert user '%s'", user.Login)
	}
	return id, nil
}

func (s *Store) ListAuthorIds(ctx context.Context, postType string) ([]int64, error) {
	return s.ids(ctx, s.sql(`SELECT DISTINCT p.author_id FROM {posts} p JOIN {users} u ON u.id = p.author_id
		WHERE p.type = $1 AND p.status = $2 ORDER BY 1`), postType, content.PostStatusPublic)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*content.User, error) {
	return s.user(ctx, s.sql(`SELECT id, login, email, display_name, first_name, last_name FROM {users} WHERE id = $1`), id)
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*content.User, error) {
	return s.user(ctx, s.sql(`SELECT id, login, email, display_name, first_name, last_name FROM {users} WHERE login = $1`), login)
}

func (s *Store) ListChildTermIds(ctx context.Context, taxonomy string, parent int64) ([]int64, error) {
	return s.ids(ctx, s.sql(`SELECT id FROM {terms} WHERE taxonomy = $1 AND parent = $2 ORDER BY name, id`), taxonomy, parent)
}

func (s *Store) GetTerm(ctx context.Context, taxonomy string, id int64) (*content.Term, error) {
	return s.term(ctx, s.sql(`SELECT id, taxonomy, name, slug, description, parent FROM {terms} WHERE taxonomy = $1 AND id = $2`), taxonomy, id)
}

func (s *Store) GetTermBySlug(ctx context.Context, taxonomy string, slug string) (*content.Term, error) {
	return s.term(ctx, s.sql(`SELECT id, taxonomy, name, slug, description, parent FROM {terms} WHERE taxonomy = $1 AND slug = $2`), taxonomy, slug)
}

func (s *Store) GetTermMeta(ctx context.Context, termId int64) (content.Meta, error) {
	if err := s.exists(ctx, s.sql(`SELECT 1 FROM {terms} WHERE id = $1`), termId); err != nil {
		return nil, errors.Wrapf(err, "term %d", termId)
	}
	return s.meta(ctx, s.sql(`SELECT meta_key, meta_value FROM {termmeta} WHERE term_id = $1`), termId)
}

func (s *Store) InsertTerm(ctx context.Context, term *content.Term) (int64, error) {
	slug := term.Slug
	if slug == "" {
		slug = content.Slugify(term.Name)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.sql(`INSERT INTO {terms} (taxonomy, name, slug, description, parent)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`),
		term.Taxonomy, term.Name, slug, term.Description, term.Parent).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Wrapf(content.ErrTermExists, "'%s'", slug)
		}
		return 0, errors.Wrapf(err, "pg: insert term '%s'", slug)
	}
	return id, nil
}

func (s *Store) UpdateTermMeta(ctx context.Context, termId int64, key string, value string) error {
	result, err := s.db.ExecContext(ctx, s.sql(`INSERT INTO {termmeta} (term_id, meta_key, meta_value)
		SELECT id, $2, $3 FROM {terms} WHERE id = $1
		ON CONFLICT (term_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`), termId, key, value)
	if err != nil {
		return errors.Wrapf(err, "pg: update term meta %d/%s", termId, key)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.Wrapf(content.ErrNotFound, "term %d", termId)
	}
	return nil
}

func (s *Store) DeleteTaxonomy(ctx context.Context, taxonomy string) (int, error) {
	result, err := s.db.ExecContext(ctx, s.sql(`DELETE FROM {terms} WHERE taxonomy = $1`), taxonomy)
	if err != nil {
		return 0, errors.Wrapf(err, "pg: delete taxonomy '%s'", taxonomy)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *Store) ListPostIds(ctx context.Context, postType string) ([]int64, error) {
	return s.ids(ctx, s.sql(`SELECT id FROM {posts} WHERE type = $1 ORDER BY id`), postType)
}

func (s *Store) GetPost(ctx context.Context, id int64) (*content.Post, error) {
	post := &content.Post{}
	err := s.db.QueryRowContext(ctx, s.sql(`SELECT id, author_id, post_date, post_date_gmt, content, title, excerpt,
		status, comment_status, ping_status, password, name, menu_order, type FROM {posts} WHERE id = $1`), id).Scan(
		&post.Id, &post.AuthorId, &post.Date, &post.DateGmt, &post.Content, &post.Title, &post.Excerpt,
		&post.Status, &post.CommentStatus, &post.PingStatus, &post.Password, &post.Name, &post.MenuOrder, &post.Type,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(content.ErrNotFound, "post %d", id)
	} else if err != nil {
		return nil, errors.Wrapf(err, "pg: get post %d", id)
	}
	return post, nil
}

func (s *Store) GetPostMeta(ctx context.Context, postId int64) (content.Meta, error) {
	if err := s.exists(ctx, s.sql(`SELECT 1 FROM {posts} WHERE id = $1`), postId); err != nil {
		return nil, errors.Wrapf(err, "post %d", postId)
	}
	return s.meta(ctx, s.sql(`SELECT meta_key, meta_value FROM {postmeta} WHERE post_id = $1`), postId)
}

func (s *Store) GetPostTerms(ctx context.Context, postId int64, taxonomy string) ([]*content.Term, error) {
	if err := s.exists(ctx, s.sql(`SELECT 1 FROM {posts} WHERE id = $1`), postId); err != nil {
		return nil, errors.Wrapf(err, "post %d", postId)
	}
	rows, err := s.db.QueryContext(ctx, s.sql(`SELECT t.id, t.taxonomy, t.name, t.slug, t.description, t.parent
		FROM {terms} t JOIN {term_relationships} r ON r.term_id = t.id
		WHERE r.post_id = $1 AND t.taxonomy = $2 ORDER BY t.id`), postId, taxonomy)
	if err != nil {
		return nil, errors.Wrapf(err, "pg: post terms %d", postId)
	}
	defer rows.Close()
	terms := make([]*content.Term, 0)
	for rows.Next() {
		term := &content.Term{}
		if err := rows.Scan(&term.Id, &term.Taxonomy, &term.Name, &term.Slug, &term.Description, &term.Parent); err != nil {
			return nil, errors.Wrap(err, "pg: scan term")
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

func (s *Store) InsertPost(ctx context.Context, post *content.Post, meta content.Meta) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "pg: begin")
	}
	name := post.Name
	if name == "" {
		name = content.Slugify(post.Title)
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.sql(`INSERT INTO {posts} (author_id, post_date, post_date_gmt, content, title, excerpt,
		status, comment_status, ping_status, password, name, menu_order, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`),
		post.AuthorId, post.Date, post.DateGmt, post.Content, post.Title, post.Excerpt,
		post.Status, post.CommentStatus, post.PingStatus, post.Password, name, post.MenuOrder, post.Type,
	).Scan(&id)
	if err != nil {
		tx.Rollback()
		return 0, errors.Wrapf(err, "pg: insert post '%s'", post.Title)
	}
	for _, key := range meta.Keys() {
		if _, err := tx.ExecContext(ctx, s.sql(`INSERT INTO {postmeta} (post_id, meta_key, meta_value) VALUES ($1, $2, $3)`), id, key, meta[key]); err != nil {
			tx.Rollback()
			return 0, errors.Wrapf(err, "pg: insert post meta '%s'", key)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "pg: commit")
	}
	return id, nil
}

func (s *Store) SetPostTerms(ctx context.Context, postId int64, taxonomy string, slugs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "pg: begin")
	}
	if _, err := tx.ExecContext(ctx, s.sql(`DELETE FROM {term_relationships}
		WHERE post_id = $1 AND term_id IN (SELECT id FROM {terms} WHERE taxonomy = $2)`), postId, taxonomy); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "pg: clear post terms %d", postId)
	}
	if len(slugs) > 0 {
		if _, err := tx.ExecContext(ctx, s.sql(`INSERT INTO {term_relationships} (post_id, term_id)
			SELECT $1, id FROM {terms} WHERE taxonomy = $2 AND slug = ANY($3::text[])`), postId, taxonomy, pq.Array(slugs)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "pg: set post terms %d", postId)
		}
	}
	return errors.Wrap(tx.Commit(), "pg: commit")
}

func (s *Store) DeletePost(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.sql(`DELETE FROM {posts} WHERE id = $1`), id)
	if err != nil {
		return errors.Wrapf(err, "pg: delete post %d", id)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.Wrapf(content.ErrNotFound, "post %d", id)
	}
	return nil
}

func (s *Store) DeletePostsByType(ctx context.Context, postType string) (int, error) {
	result, err := s.db.ExecContext(ctx, s.sql(`DELETE FROM {posts} WHERE type = $1`), postType)
	if err != nil {
		return 0, errors.Wrapf(err, "pg: delete posts of '%s'", postType)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *Store) GetOption(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.sql(`SELECT value FROM {options} WHERE name = $1`), name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Wrapf(err, "pg: get option '%s'", name)
	}
	return value, true, nil
}

func (s *Store) UpdateOption(ctx context.Context, name string, value string) error {
	_, err := s.db.ExecContext(ctx, s.sql(`INSERT INTO {options} (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`), name, value)
	return errors.Wrapf(err, "pg: update option '%s'", name)
}

func (s *Store) DeleteOption(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, s.sql(`DELETE FROM {options} WHERE name = $1`), name)
	return errors.Wrapf(err, "pg: delete option '%s'", name)
}

func (s *Store) ids(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "pg: list ids")
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "pg: scan id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) user(ctx context.Context, query string, arg interface{}) (*content.User, error) {
	user := &content.User{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.Id, &user.Login, &user.Email, &user.DisplayName, &user.FirstName, &user.LastName)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(content.ErrNotFound, "user %v", arg)
	} else if err != nil {
		return nil, errors.Wrapf(err, "pg: get user %v", arg)
	}
	return user, nil
}

func (s *Store) term(ctx context.Context, query string, taxonomy string, arg interface{}) (*content.Term, error) {
	term := &content.Term{}
	err := s.db.QueryRowContext(ctx, query, taxonomy, arg).Scan(&term.Id, &term.Taxonomy, &term.Name, &term.Slug, &term.Description, &term.Parent)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(content.ErrNotFound, "term %v of '%s'", arg, taxonomy)
	} else if err != nil {
		return nil, errors.Wrapf(err, "pg: get term %v", arg)
	}
	return term, nil
}

func (s *Store) meta(ctx context.Context, query string, id int64) (content.Meta, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, errors.Wrapf(err, "pg: meta of %d", id)
	}
	defer rows.Close()
	meta := make(content.Meta)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "pg: scan meta")
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

func (s *Store) exists(ctx context.Context, query string, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return content.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS {users} (
		id BIGSERIAL PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS {terms} (
		id BIGSERIAL PRIMARY KEY,
		taxonomy TEXT NOT NULL,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		parent BIGINT NOT NULL DEFAULT 0,
		UNIQUE (taxonomy, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS {termmeta} (
		term_id BIGINT NOT NULL REFERENCES {terms} (id) ON DELETE CASCADE,
		meta_key TEXT NOT NULL,
		meta_value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (term_id, meta_key)
	)`,
	`CREATE TABLE IF NOT EXISTS {posts} (
		id BIGSERIAL PRIMARY KEY,
		author_id BIGINT NOT NULL DEFAULT 0,
		post_date TEXT NOT NULL DEFAULT '',
		post_date_gmt TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		excerpt TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		comment_status TEXT NOT NULL DEFAULT '',
		ping_status TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		menu_order INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS {postmeta} (
		post_id BIGINT NOT NULL REFERENCES {posts} (id) ON DELETE CASCADE,
		meta_key TEXT NOT NULL,
		meta_value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (post_id, meta_key)
	)`,
	`CREATE TABLE IF NOT EXISTS {term_relationships} (
		post_id BIGINT NOT NULL REFERENCES {posts} (id) ON DELETE CASCADE,
		term_id BIGINT NOT NULL REFERENCES {terms} (id) ON DELETE CASCADE,
		PRIMARY KEY (post_id, term_id)
	)`,
	`CREATE TABLE IF NOT EXISTS {options} (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,
}

func (s *Store) String() string {
	return fmt.Sprintf("pg content store (prefix '%s')", s.prefix)
}
