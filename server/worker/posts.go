package worker

import (
	"context"
	"kbmigrate/server/content"
	"kbmigrate/server/document"
	"kbmigrate/server/objects"

	"github.com/pkg/errors"
)

type authorHandler struct {
	store content.Store
}

func (h *authorHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	records := make([]interface{}, 0, len(ids))
	var failures []ItemFailure
	for _, id := range ids {
		user, err := h.store.GetUser(ctx, id)
		if err != nil {
			failures = append(failures, failure(id, err))
			continue
		}
		records = append(records, &document.AuthorRecord{
			Id:          user.Id,
			Login:       document.CData(user.Login),
			Email:       document.CData(user.Email),
			DisplayName: document.CData(user.DisplayName),
			FirstName:   document.CData(user.FirstName),
			LastName:    document.CData(user.LastName),
		})
	}
	data, err := document.Encode(records...)
	return data, failures, err
}

func (h *authorHandler) Deserialize(doc *document.Document, id int64) (interface{}, bool) {
	return doc.Author(id)
}

//Write does nothing: authors are never created, posts resolve them by login.
func (h *authorHandler) Write(context.Context, interface{}, *ImportEnv) error {
	return nil
}

type postHandler struct {
	store content.Store
}

func (h *postHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	records := make([]interface{}, 0, len(ids))
	var failures []ItemFailure
	for _, id := range ids {
		record, err := h.record(ctx, id)
		if err != nil {
			failures = append(failures, failure(id, err))
			continue
		}
		records = append(records, record)
	}
	data, err := document.Encode(records...)
	return data, failures, err
}

func (h *postHandler) record(ctx context.Context, id int64) (*document.PostRecord, error) {
	post, err := h.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Type != content.PostTypeArticle {
		return nil, notFound("article %d", id)
	}
	meta, err := h.store.GetPostMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	sections, err := h.slugs(ctx, id, content.TaxonomySection)
	if err != nil {
		return nil, err
	}
	tags, err := h.slugs(ctx, id, content.TaxonomyTag)
	if err != nil {
		return nil, err
	}
	return &document.PostRecord{
		Id:            post.Id,
		Author:        post.AuthorId,
		Date:          document.CData(post.Date),
		DateGmt:       document.CData(post.DateGmt),
		Content:       document.CData(post.Content),
		Title:         document.CData(post.Title),
		Excerpt:       document.CData(post.Excerpt),
		Status:        document.CData(post.Status),
		CommentStatus: document.CData(post.CommentStatus),
		PingStatus:    document.CData(post.PingStatus),
		Password:      document.CData(post.Password),
		Name:          document.CData(post.Name),
		MenuOrder:     post.MenuOrder,
		Type:          content.PostTypeArticle,
		Sections:      document.CDataList(sections),
		Tags:          document.CDataList(tags),
		Meta:          postMetaKeys.export(meta),
	}, nil
}

func (h *postHandler) slugs(ctx context.Context, postId int64, taxonomy string) ([]string, error) {
	terms, err := h.store.GetPostTerms(ctx, postId, taxonomy)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(terms))
	for _, term := range terms {
		slugs = append(slugs, term.Slug)
	}
	return slugs, nil
}

func (h *postHandler) Deserialize(doc *document.Document, id int64) (interface{}, bool) {
	return doc.Post(id)
}

func (h *postHandler) Write(ctx context.Context, record interface{}, env *ImportEnv) error {
	post := record.(*document.PostRecord)
	authorId, err := h.resolveAuthor(ctx, post.Author, env)
	if err != nil {
		return err
	}
	id, err := h.store.InsertPost(ctx, &content.Post{
		AuthorId:      authorId,
		Date:          string(post.Date),
		DateGmt:       string(post.DateGmt),
		Content:       env.Links.Rewrite(string(post.Content)),
		Title:         string(post.Title),
		Excerpt:       string(post.Excerpt),
		Status:        string(post.Status),
		CommentStatus: string(post.CommentStatus),
		PingStatus:    string(post.PingStatus),
		Password:      string(post.Password),
		Name:          string(post.Name),
		MenuOrder:     post.MenuOrder,
		Type:          content.PostTypeArticle,
	}, postMetaKeys.imported(post.Meta, env.Links))
	if err != nil {
		return err
	}
	if len(post.Sections) > 0 {
		if err := h.store.SetPostTerms(ctx, id, content.TaxonomySection, document.Strings(post.Sections)); err != nil {
			return errors.Wrap(err, "sections")
		}
	}
	if len(post.Tags) > 0 {
		if err := h.store.SetPostTerms(ctx, id, content.TaxonomyTag, document.Strings(post.Tags)); err != nil {
			return errors.Wrap(err, "tags")
		}
	}
	return nil
}

//resolveAuthor maps the origin author id to the destination user with the same login,
//falling back to the default author.
func (h *postHandler) resolveAuthor(ctx context.Context, originId int64, env *ImportEnv) (int64, error) {
	if originId == 0 {
		return env.DefaultAuthorId, nil
	}
	author, ok := env.Document.Author(originId)
	if !ok || author.Login == "" {
		return env.DefaultAuthorId, nil
	}
	user, err := h.store.GetUserByLogin(ctx, string(author.Login))
	if content.IsNotFound(err) {
		return env.DefaultAuthorId, nil
	} else if err != nil {
		return 0, err
	}
	return user.Id, nil
}

type entryPageHandler struct {
	store content.Store
}

func (h *entryPageHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	page, err := loadEntryPage(ctx, h.store)
	if err != nil {
		return nil, []ItemFailure{failure(ids[0], err)}, nil
	}
	record := &document.EntryPageRecord{
		Title:   document.CData(page.Title),
		Name:    document.CData(page.Name),
		Content: document.CData(page.Content),
	}
	data, err := record.Fragment()
	return data, nil, err
}

func (h *entryPageHandler) Deserialize(doc *document.Document, _ int64) (interface{}, bool) {
	return doc.EntryPage()
}

//Write creates the entry page unless the document has a settings section, which
//creates the page together with the settings referencing it.
func (h *entryPageHandler) Write(ctx context.Context, record interface{}, env *ImportEnv) error {
	if env.Document.Has(objects.Settings) {
		return nil
	}
	pageId, err := createEntryPage(ctx, h.store, record.(*document.EntryPageRecord), env)
	if err != nil {
		return err
	}
	settings, ok, err := content.LoadSettings(ctx, h.store)
	if err != nil {
		return err
	}
	if !ok {
		settings = content.Settings{}
	}
	settings["entry_page"] = pageId
	return content.SaveJSONOption(ctx, h.store, content.OptionSettings, settings)
}

func loadEntryPage(ctx context.Context, store content.Store) (*content.Post, error) {
	settings, ok, err := content.LoadSettings(ctx, store)
	if err != nil {
		return nil, err
	}
	if !ok || settings.EntryPageId() == 0 {
		return nil, notFound("entry page is not configured")
	}
	return store.GetPost(ctx, settings.EntryPageId())
}

func createEntryPage(ctx context.Context, store content.Store, page *document.EntryPageRecord, env *ImportEnv) (int64, error) {
	id, err := store.InsertPost(ctx, &content.Post{
		AuthorId: env.DefaultAuthorId,
		Title:    string(page.Title),
		Name:     string(page.Name),
		Content:  env.Links.Rewrite(string(page.Content)),
		Status:   content.PostStatusPublic,
		Type:     content.PostTypePage,
	}, nil)
	return id, errors.Wrap(err, "entry page")
}
