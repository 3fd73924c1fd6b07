package catalog

import (
	"context"
	"kbmigrate/logger"
	"kbmigrate/server/content"
	"kbmigrate/server/document"
	"kbmigrate/server/objects"

	"github.com/pkg/errors"
)

//Export enumerates what a knowledge base export of store will contain.
func Export(ctx context.Context, store content.Store) (objects.ObjectSet, error) {
	set := objects.NewObjectSet()

	settings, hasSettings, err := content.LoadSettings(ctx, store)
	if err != nil {
		return nil, err
	}
	if hasSettings {
		if pageId := settings.EntryPageId(); pageId > 0 {
			if _, err := store.GetPost(ctx, pageId); err == nil {
				set.Add(objects.EntryPage, objects.SingletonId)
			} else if !content.IsNotFound(err) {
				return nil, err
			}
		}
	}

	authors, err := store.ListAuthorIds(ctx, content.PostTypeArticle)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: authors")
	}
	set.Add(objects.Authors, authors...)

	kbs, err := store.ListChildTermIds(ctx, content.TaxonomySection, 0)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: knowledge bases")
	}
	set.Add(objects.KBs, kbs...)

	for _, kb := range kbs {
		sections, err := descendants(ctx, store, content.TaxonomySection, kb)
		if err != nil {
			return nil, errors.Wrap(err, "catalog: sections")
		}
		set.Add(objects.Sections, sections...)
	}

	tags, err := descendants(ctx, store, content.TaxonomyTag, 0)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: tags")
	}
	set.Add(objects.Tags, tags...)

	posts, err := store.ListPostIds(ctx, content.PostTypeArticle)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: posts")
	}
	set.Add(objects.Posts, posts...)

	widgets, err := content.ActiveWidgets(ctx, store)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: widgets")
	}
	if len(widgets) > 0 {
		set.Add(objects.Widgets, objects.SingletonId)
	}

	if hasSettings {
		set.Add(objects.Settings, objects.SingletonId)
	}
	return set, nil
}

//descendants flattens the term tree below parent so that every term follows its parent.
func descendants(ctx context.Context, store content.Store, taxonomy string, parent int64) ([]int64, error) {
	children, err := store.ListChildTermIds(ctx, taxonomy, parent)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(children))
	for _, child := range children {
		ids = append(ids, child)
		below, err := descendants(ctx, store, taxonomy, child)
		if err != nil {
			return nil, err
		}
		ids = append(ids, below...)
	}
	return ids, nil
}

var skippedOnImport = map[string]bool{
	"exporter_ver":           true,
	"origin_base_url":        true,
	objects.Authors.String(): true,
}

//Import enumerates what can be imported from doc. Names of unknown top-level
//elements are returned as ignored.
func Import(doc *document.Document) (objects.ObjectSet, []string) {
	set := objects.NewObjectSet()
	ignored := make([]string, 0)
	for _, name := range doc.Children() {
		if skippedOnImport[name] {
			continue
		}
		t, err := objects.ParseObjectType(name)
		if err != nil {
			logger.Warn("Import document element <%s> is not supported and will be ignored", name)
			ignored = append(ignored, name)
			continue
		}
		if t.IsSingleton() {
			set.Add(t, objects.SingletonId)
		} else {
			set.Add(t, doc.Ids(t)...)
		}
	}
	return set, ignored
}
