package worker

import (
	"context"
	"kbmigrate/server/content"
	"kbmigrate/server/document"

	"github.com/pkg/errors"
)

type kbHandler struct {
	store content.Store
}

func (h *kbHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	records := make([]interface{}, 0, len(ids))
	var failures []ItemFailure
	for _, id := range ids {
		term, meta, err := loadTerm(ctx, h.store, content.TaxonomySection, id)
		if err != nil {
			failures = append(failures, failure(id, err))
			continue
		}
		records = append(records, &document.KBRecord{
			Id:          term.Id,
			Name:        document.CData(term.Name),
			Slug:        document.CData(term.Slug),
			Description: document.CData(term.Description),
			Meta:        kbMetaKeys.export(meta),
		})
	}
	data, err := document.Encode(records...)
	return data, failures, err
}

func (h *kbHandler) Deserialize(doc *document.Document, id int64) (interface{}, bool) {
	return doc.KB(id)
}

func (h *kbHandler) Write(ctx context.Context, record interface{}, env *ImportEnv) error {
	kb := record.(*document.KBRecord)
	id, err := h.store.InsertTerm(ctx, &content.Term{
		Taxonomy:    content.TaxonomySection,
		Name:        string(kb.Name),
		Slug:        string(kb.Slug),
		Description: string(kb.Description),
	})
	if err != nil {
		return err
	}
	return writeTermMeta(ctx, h.store, id, kbMetaKeys.imported(kb.Meta, env.Links))
}

type sectionHandler struct {
	store content.Store
}

func (h *sectionHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	records := make([]interface{}, 0, len(ids))
	var failures []ItemFailure
	for _, id := range ids {
		term, meta, err := loadTerm(ctx, h.store, content.TaxonomySection, id)
		if err != nil {
			failures = append(failures, failure(id, err))
			continue
		}
		parent, err := h.store.GetTerm(ctx, content.TaxonomySection, term.Parent)
		if err != nil {
			failures = append(failures, failure(id, errors.Wrap(err, "parent")))
			continue
		}
		records = append(records, &document.SectionRecord{
			Id:          term.Id,
			Name:        document.CData(term.Name),
			Slug:        document.CData(term.Slug),
			Description: document.CData(term.Description),
			Parent:      document.CData(parent.Slug),
			Meta:        sectionMetaKeys.export(meta),
		})
	}
	data, err := document.Encode(records...)
	return data, failures, err
}

func (h *sectionHandler) Deserialize(doc *document.Document, id int64) (interface{}, bool) {
	return doc.Section(id)
}

//Write places the section under the term carrying the recorded parent slug, which
//must have been imported before.
func (h *sectionHandler) Write(ctx context.Context, record interface{}, env *ImportEnv) error {
	section := record.(*document.SectionRecord)
	parent, err := h.store.GetTermBySlug(ctx, content.TaxonomySection, string(section.Parent))
	if err != nil {
		return errors.Wrapf(err, "parent '%s'", section.Parent)
	}
	id, err := h.store.InsertTerm(ctx, &content.Term{
		Taxonomy:    content.TaxonomySection,
		Name:        string(section.Name),
		Slug:        string(section.Slug),
		Description: string(section.Description),
		Parent:      parent.Id,
	})
	if err != nil {
		return err
	}
	return writeTermMeta(ctx, h.store, id, sectionMetaKeys.imported(section.Meta, env.Links))
}

type tagHandler struct {
	store content.Store
}

func (h *tagHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	records := make([]interface{}, 0, len(ids))
	var failures []ItemFailure
	for _, id := range ids {
		term, err := h.store.GetTerm(ctx, content.TaxonomyTag, id)
		if err != nil {
			failures = append(failures, failure(id, err))
			continue
		}
		records = append(records, &document.TagRecord{
			Id:          term.Id,
			Name:        document.CData(term.Name),
			Slug:        document.CData(term.Slug),
			Description: document.CData(term.Description),
		})
	}
	data, err := document.Encode(records...)
	return data, failures, err
}

func (h *tagHandler) Deserialize(doc *document.Document, id int64) (interface{}, bool) {
	return doc.Tag(id)
}

func (h *tagHandler) Write(ctx context.Context, record interface{}, _ *ImportEnv) error {
	tag := record.(*document.TagRecord)
	_, err := h.store.InsertTerm(ctx, &content.Term{
		Taxonomy:    content.TaxonomyTag,
		Name:        string(tag.Name),
		Slug:        string(tag.Slug),
		Description: string(tag.Description),
	})
	return err
}

func loadTerm(ctx context.Context, store content.Store, taxonomy string, id int64) (*content.Term, content.Meta, error) {
	term, err := store.GetTerm(ctx, taxonomy, id)
	if err != nil {
		return nil, nil, err
	}
	meta, err := store.GetTermMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return term, meta, nil
}

func writeTermMeta(ctx context.Context, store content.Store, termId int64, meta content.Meta) error {
	for _, key := range meta.Keys() {
		if err := store.UpdateTermMeta(ctx, termId, key, meta[key]); err != nil {
			return errors.Wrapf(err, "meta '%s'", key)
		}
	}
	return nil
}
