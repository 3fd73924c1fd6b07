package content

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/getlantern/deepcopy"
	"github.com/pkg/errors"
)

//MemoryStore keeps the whole content set in process memory. Records handed out are
//detached copies, so callers can not mutate the store behind its back.
type MemoryStore struct {
	mutex sync.RWMutex

	lastUserId int64
	lastTermId int64
	lastPostId int64

	users     map[int64]*User
	terms     map[int64]*Term
	termMeta  map[int64]Meta
	posts     map[int64]*Post
	postMeta  map[int64]Meta
	postTerms map[int64]map[int64]bool
	options   map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*User),
		terms:     make(map[int64]*Term),
		termMeta:  make(map[int64]Meta),
		posts:     make(map[int64]*Post),
		postMeta:  make(map[int64]Meta),
		postTerms: make(map[int64]map[int64]bool),
		options:   make(map[string]string),
	}
}

func (ms *MemoryStore) InsertUser(_ context.Context, user *User) (int64, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	for _, existing := range ms.users {
		if existing.Login == user.Login {
			return 0, errors.Errorf("content: login '%s' is already taken", user.Login)
		}
	}
	ms.lastUserId++
	stored := &User{}
	if err := deepcopy.Copy(stored, user); err != nil {
		return 0, errors.Wrap(err, "content: copy user")
	}
	stored.Id = ms.lastUserId
	ms.users[stored.Id] = stored
	return stored.Id, nil
}

func (ms *MemoryStore) ListAuthorIds(_ context.Context, postType string) ([]int64, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	seen := make(map[int64]bool)
	ids := make([]int64, 0)
	for _, post := range ms.posts {
		if post.Type != postType || post.Status != PostStatusPublic || seen[post.AuthorId] {
			continue
		}
		if _, ok := ms.users[post.AuthorId]; !ok {
			continue
		}
		seen[post.AuthorId] = true
		ids = append(ids, post.AuthorId)
	}
	sortIds(ids)
	return ids, nil
}

func (ms *MemoryStore) GetUser(_ context.Context, id int64) (*User, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	user, ok := ms.users[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "user %d", id)
	}
	return copyUser(user)
}

func (ms *MemoryStore) GetUserByLogin(_ context.Context, login string) (*User, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	for _, user := range ms.users {
		if user.Login == login {
			return copyUser(user)
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "user '%s'", login)
}

func (ms *MemoryStore) ListChildTermIds(_ context.Context, taxonomy string, parent int64) ([]int64, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	children := make([]*Term, 0)
	for _, term := range ms.terms {
		if term.Taxonomy == taxonomy && term.Parent == parent {
			children = append(children, term)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Name != children[j].Name {
			return children[i].Name < children[j].Name
		}
		return children[i].Id < children[j].Id
	})
	ids := make([]int64, len(children))
	for i, term := range children {
		ids[i] = term.Id
	}
	return ids, nil
}

func (ms *MemoryStore) GetTerm(_ context.Context, taxonomy string, id int64) (*Term, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	term, ok := ms.terms[id]
	if !ok || term.Taxonomy != taxonomy {
		return nil, errors.Wrapf(ErrNotFound, "term %d of '%s'", id, taxonomy)
	}
	return copyTerm(term)
}

func (ms *MemoryStore) GetTermBySlug(_ context.Context, taxonomy string, slug string) (*Term, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	if term := ms.findTerm(taxonomy, slug); term != nil {
		return copyTerm(term)
	}
	return nil, errors.Wrapf(ErrNotFound, "term '%s' of '%s'", slug, taxonomy)
}

func (ms *MemoryStore) GetTermMeta(_ context.Context, termId int64) (Meta, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	if _, ok := ms.terms[termId]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "term %d", termId)
	}
	return copyMeta(ms.termMeta[termId]), nil
}

func (ms *MemoryStore) InsertTerm(_ context.Context, term *Term) (int64, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	slug := term.Slug
	if slug == "" {
		slug = Slugify(term.Name)
	}
	if ms.findTerm(term.Taxonomy, slug) != nil {
		return 0, errors.Wrapf(ErrTermExists, "'%s'", slug)
	}
	ms.lastTermId++
	stored, err := copyTerm(term)
	if err != nil {
		return 0, err
	}
	stored.Id = ms.lastTermId
	stored.Slug = slug
	ms.terms[stored.Id] = stored
	return stored.Id, nil
}

func (ms *MemoryStore) UpdateTermMeta(_ context.Context, termId int64, key string, value string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	if _, ok := ms.terms[termId]; !ok {
		return errors.Wrapf(ErrNotFound, "term %d", termId)
	}
	if ms.termMeta[termId] == nil {
		ms.termMeta[termId] = make(Meta)
	}
	ms.termMeta[termId][key] = value
	return nil
}

func (ms *MemoryStore) DeleteTaxonomy(_ context.Context, taxonomy string) (int, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	removed := 0
	for id, term := range ms.terms {
		if term.Taxonomy != taxonomy {
			continue
		}
		delete(ms.terms, id)
		delete(ms.termMeta, id)
		for _, assigned := range ms.postTerms {
			delete(assigned, id)
		}
		removed++
	}
	return removed, nil
}

func (ms *MemoryStore) ListPostIds(_ context.Context, postType string) ([]int64, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	ids := make([]int64, 0)
	for id, post := range ms.posts {
		if post.Type == postType {
			ids = append(ids, id)
		}
	}
	sortIds(ids)
	return ids, nil
}

func (ms *MemoryStore) GetPost(_ context.Context, id int64) (*Post, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	post, ok := ms.posts[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "post %d", id)
	}
	return copyPost(post)
}

func (ms *MemoryStore) GetPostMeta(_ context.Context, postId int64) (Meta, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	if _, ok := ms.posts[postId]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "post %d", postId)
	}
	return copyMeta(ms.postMeta[postId]), nil
}

func (ms *MemoryStore) GetPostTerms(_ context.Context, postId int64, taxonomy string) ([]*Term, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	if _, ok := ms.posts[postId]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "post %d", postId)
	}
	ids := make([]int64, 0)
	for termId := range ms.postTerms[postId] {
		if term, ok := ms.terms[termId]; ok && term.Taxonomy == taxonomy {
			ids = append(ids, termId)
		}
	}
	sortIds(ids)
	terms := make([]*Term, 0, len(ids))
	for _, id := range ids {
		term, err := copyTerm(ms.terms[id])
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func (ms *MemoryStore) InsertPost(_ context.Context, post *Post, meta Meta) (int64, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	if post.AuthorId != 0 {
		if _, ok := ms.users[post.AuthorId]; !ok {
			return 0, errors.Wrapf(ErrNotFound, "author %d", post.AuthorId)
		}
	}
	stored, err := copyPost(post)
	if err != nil {
		return 0, err
	}
	ms.lastPostId++
	stored.Id = ms.lastPostId
	if stored.Name == "" {
		stored.Name = Slugify(stored.Title)
	}
	ms.posts[stored.Id] = stored
	ms.postMeta[stored.Id] = copyMeta(meta)
	return stored.Id, nil
}

func (ms *MemoryStore) SetPostTerms(_ context.Context, postId int64, taxonomy string, slugs []string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	if _, ok := ms.posts[postId]; !ok {
		return errors.Wrapf(ErrNotFound, "post %d", postId)
	}
	assigned := ms.postTerms[postId]
	if assigned == nil {
		assigned = make(map[int64]bool)
		ms.postTerms[postId] = assigned
	}
	for termId := range assigned {
		if term, ok := ms.terms[termId]; ok && term.Taxonomy == taxonomy {
			delete(assigned, termId)
		}
	}
	for _, slug := range slugs {
		if term := ms.findTerm(taxonomy, slug); term != nil {
			assigned[term.Id] = true
		}
	}
	return nil
}

func (ms *MemoryStore) DeletePost(_ context.Context, id int64) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	if _, ok := ms.posts[id]; !ok {
		return errors.Wrapf(ErrNotFound, "post %d", id)
	}
	ms.deletePost(id)
	return nil
}

func (ms *MemoryStore) DeletePostsByType(_ context.Context, postType string) (int, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	removed := 0
	for id, post := range ms.posts {
		if post.Type == postType {
			ms.deletePost(id)
			removed++
		}
	}
	return removed, nil
}

func (ms *MemoryStore) GetOption(_ context.Context, name string) (string, bool, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	value, ok := ms.options[name]
	return value, ok, nil
}

func (ms *MemoryStore) UpdateOption(_ context.Context, name string, value string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.options[name] = value
	return nil
}

func (ms *MemoryStore) DeleteOption(_ context.Context, name string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	delete(ms.options, name)
	return nil
}

func (ms *MemoryStore) findTerm(taxonomy string, slug string) *Term {
	for _, term := range ms.terms {
		if term.Taxonomy == taxonomy && term.Slug == slug {
			return term
		}
	}
	return nil
}

func (ms *MemoryStore) deletePost(id int64) {
	delete(ms.posts, id)
	delete(ms.postMeta, id)
	delete(ms.postTerms, id)
}

func copyUser(user *User) (*User, error) {
	result := &User{}
	if err := deepcopy.Copy(result, user); err != nil {
		return nil, errors.Wrap(err, "content: copy user")
	}
	return result, nil
}

func copyTerm(term *Term) (*Term, error) {
	result := &Term{}
	if err := deepcopy.Copy(result, term); err != nil {
		return nil, errors.Wrap(err, "content: copy term")
	}
	return result, nil
}

func copyPost(post *Post) (*Post, error) {
	result := &Post{}
	if err := deepcopy.Copy(result, post); err != nil {
		return nil, errors.Wrap(err, "content: copy post")
	}
	return result, nil
}

func copyMeta(meta Meta) Meta {
	result := make(Meta, len(meta))
	for key, value := range meta {
		result[key] = value
	}
	return result
}

func sortIds(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

//Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteRune('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
