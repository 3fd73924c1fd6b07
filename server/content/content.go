package content

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

const (
	PostTypeArticle  = "knowledgebase"
	PostTypePage     = "page"
	TaxonomySection  = "knowledgebase_cat"
	TaxonomyTag      = "knowledgebase_tag"
	PostStatusPublic = "publish"
)

var (
	ErrNotFound   = errors.New("content: record not found")
	ErrTermExists = errors.New("content: a term with the same slug already exists")
)

type User struct {
	Id          int64  `json:"id"`
	Login       string `json:"login"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

//Term is either a knowledge base, a section (a term with a parent) or a tag.
type Term struct {
	Id          int64  `json:"id"`
	Taxonomy    string `json:"taxonomy"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Parent      int64  `json:"parent"`
}

type Post struct {
	Id            int64  `json:"id"`
	AuthorId      int64  `json:"author_id"`
	Date          string `json:"date"`
	DateGmt       string `json:"date_gmt"`
	Content       string `json:"content"`
	Title         string `json:"title"`
	Excerpt       string `json:"excerpt"`
	Status        string `json:"status"`
	CommentStatus string `json:"comment_status"`
	PingStatus    string `json:"ping_status"`
	Password      string `json:"password"`
	Name          string `json:"name"`
	MenuOrder     int    `json:"menu_order"`
	Type          string `json:"type"`
}

//Meta holds the meta values of a term or a post. Values are stored as the
//store serialized them and are opaque to the migration.
type Meta map[string]string

//Keys returns the meta keys sorted, giving exports a stable element order.
func (m Meta) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

//Store is the content store a migration reads from and writes into.
//Lookups of missing records return an error wrapping ErrNotFound.
type Store interface {
	//ListAuthorIds returns the users owning at least one published post of postType.
	ListAuthorIds(ctx context.Context, postType string) ([]int64, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByLogin(ctx context.Context, login string) (*User, error)

	//ListChildTermIds returns the direct children of parent; parent 0 lists top-level terms.
	ListChildTermIds(ctx context.Context, taxonomy string, parent int64) ([]int64, error)
	GetTerm(ctx context.Context, taxonomy string, id int64) (*Term, error)
	GetTermBySlug(ctx context.Context, taxonomy string, slug string) (*Term, error)
	GetTermMeta(ctx context.Context, termId int64) (Meta, error)
	InsertTerm(ctx context.Context, term *Term) (int64, error)
	UpdateTermMeta(ctx context.Context, termId int64, key string, value string) error
	DeleteTaxonomy(ctx context.Context, taxonomy string) (int, error)

	ListPostIds(ctx context.Context, postType string) ([]int64, error)
	GetPost(ctx context.Context, id int64) (*Post, error)
	GetPostMeta(ctx context.Context, postId int64) (Meta, error)
	GetPostTerms(ctx context.Context, postId int64, taxonomy string) ([]*Term, error)
	InsertPost(ctx context.Context, post *Post, meta Meta) (int64, error)
	//SetPostTerms replaces the post terms of taxonomy with the terms behind slugs.
	//Unknown slugs are ignored.
	SetPostTerms(ctx context.Context, postId int64, taxonomy string, slugs []string) error
	DeletePost(ctx context.Context, id int64) error
	DeletePostsByType(ctx context.Context, postType string) (int, error)

	//GetOption returns the option value and whether it exists.
	GetOption(ctx context.Context, name string) (string, bool, error)
	UpdateOption(ctx context.Context, name string, value string) error
	DeleteOption(ctx context.Context, name string) error
}

func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
