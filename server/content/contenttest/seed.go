//Package contenttest seeds content stores with a small knowledge base for tests.
package contenttest

import (
	"context"
	"kbmigrate/server/content"

	"github.com/pkg/errors"
)

const OriginUrl = "http://origin.example.com"

//Store is a content store that can also create users.
type Store interface {
	content.Store
	InsertUser(ctx context.Context, user *content.User) (int64, error)
}

//Dataset holds the ids of the seeded records.
type Dataset struct {
	Alice, Bob                  int64
	Product                     int64
	Basics, Advanced, Reference int64
	TagGo, TagHttp              int64
	Welcome, Deep               int64
	EntryPage                   int64
}

//Seed creates one knowledge base with nested sections, two tagged articles, an
//entry page, plugin settings and one sidebar widget.
func Seed(ctx context.Context, store Store) (*Dataset, error) {
	var err error
	d := &Dataset{}
	if d.Alice, err = store.InsertUser(ctx, &content.User{Login: "alice", Email: "alice@example.com", DisplayName: "Alice"}); err != nil {
		return nil, err
	}
	if d.Bob, err = store.InsertUser(ctx, &content.User{Login: "bob", Email: "bob@example.com"}); err != nil {
		return nil, err
	}

	if d.Product, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Product", Slug: "product", Description: "All about <b>Product</b>"}); err != nil {
		return nil, err
	}
	productMeta := map[string]string{
		"image":          OriginUrl + "/uploads/product.png",
		"sections_style": "boxed",
		"color":          "red",
		"layout":         "wide",
		"legacy_flag":    "1",
	}
	for key, value := range productMeta {
		if err := store.UpdateTermMeta(ctx, d.Product, key, value); err != nil {
			return nil, err
		}
	}
	if d.Basics, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Basics", Slug: "basics", Parent: d.Product}); err != nil {
		return nil, err
	}
	if err := store.UpdateTermMeta(ctx, d.Basics, "icon", "bp-star"); err != nil {
		return nil, err
	}
	if err := store.UpdateTermMeta(ctx, d.Basics, "sections_style", "list"); err != nil {
		return nil, err
	}
	if d.Advanced, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Advanced", Slug: "advanced", Parent: d.Basics}); err != nil {
		return nil, err
	}
	if d.Reference, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Reference", Slug: "reference", Parent: d.Product}); err != nil {
		return nil, err
	}
	if d.TagGo, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "Go", Slug: "go"}); err != nil {
		return nil, err
	}
	if d.TagHttp, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "HTTP", Slug: "http"}); err != nil {
		return nil, err
	}

	if d.Welcome, err = store.InsertPost(ctx, &content.Post{
		AuthorId: d.Alice, Title: "Welcome", Name: "welcome", Status: content.PostStatusPublic, Type: content.PostTypeArticle,
		Content: `<p>See <a href="` + OriginUrl + `/knowledge-base/product/">the docs</a> ]]> done</p>`,
		Date:    "2020-01-02 10:00:00", DateGmt: "2020-01-02 09:00:00", MenuOrder: 1,
	}, content.Meta{"basepress_views": "12", "basepress_votes": `{"like":3,"dislike":0}`, "_edit_lock": "1580000000:1"}); err != nil {
		return nil, err
	}
	if err := store.SetPostTerms(ctx, d.Welcome, content.TaxonomySection, []string{"basics"}); err != nil {
		return nil, err
	}
	if err := store.SetPostTerms(ctx, d.Welcome, content.TaxonomyTag, []string{"go", "http"}); err != nil {
		return nil, err
	}
	if d.Deep, err = store.InsertPost(ctx, &content.Post{
		AuthorId: d.Alice, Title: "Deep Dive", Name: "deep-dive", Status: content.PostStatusPublic, Type: content.PostTypeArticle,
		Content: "Deep content",
	}, content.Meta{"basepress_post_icon": "bp-rocket"}); err != nil {
		return nil, err
	}
	if err := store.SetPostTerms(ctx, d.Deep, content.TaxonomySection, []string{"advanced"}); err != nil {
		return nil, err
	}

	if d.EntryPage, err = store.InsertPost(ctx, &content.Post{
		AuthorId: d.Alice, Title: "Knowledge Base", Name: "knowledge-base", Status: content.PostStatusPublic, Type: content.PostTypePage,
		Content: `[basepress] <a href="` + OriginUrl + `/help">help</a>`,
	}, nil); err != nil {
		return nil, err
	}
	settings := content.Settings{"entry_page": d.EntryPage, "theme_style": "modern", "kbs_limit": 10}
	if err := content.SaveJSONOption(ctx, store, content.OptionSettings, settings); err != nil {
		return nil, err
	}
	if err := store.UpdateOption(ctx, content.ThemeOption("modern"), `{"accent":"#336699"}`); err != nil {
		return nil, err
	}
	if err := store.UpdateOption(ctx, content.OptionVersion, "2.1.0"); err != nil {
		return nil, err
	}
	if err := store.UpdateOption(ctx, content.WidgetOption("basepress_toc_widget"), `{"2":{"title":"On this page"},"_multiwidget":1}`); err != nil {
		return nil, err
	}
	if err := store.UpdateOption(ctx, content.OptionSidebars, `{"basepress-sidebar":["basepress_toc_widget-2"],"wp_inactive_widgets":[]}`); err != nil {
		return nil, err
	}
	return d, nil
}

//MustSeed panics when seeding fails.
func MustSeed(ctx context.Context, store Store) *Dataset {
	d, err := Seed(ctx, store)
	if err != nil {
		panic(errors.Wrap(err, "contenttest: seed"))
	}
	return d
}
