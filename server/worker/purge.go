package worker

import (
	"context"
	"kbmigrate/logger"
	"kbmigrate/server/content"

	"github.com/pkg/errors"
)

type PurgeReport struct {
	Posts            int  `json:"posts"`
	Sections         int  `json:"sections"`
	Tags             int  `json:"tags"`
	EntryPageDeleted bool `json:"entry_page_deleted"`
	Options          int  `json:"options"`
}

var purgedOptions = []string{
	content.OptionSettings,
	content.OptionVersion,
	content.OptionDbVersion,
	content.OptionPlan,
	content.OptionRunWizard,
	content.OptionSectionChildren,
	content.ThemeOption("modern"),
}

//Purge deletes every knowledge base record of the store: articles, sections, tags,
//the entry page, the plugin options and the knowledge base sidebar.
func Purge(ctx context.Context, store content.Store) (*PurgeReport, error) {
	report := &PurgeReport{}
	var err error
	if report.Posts, err = store.DeletePostsByType(ctx, content.PostTypeArticle); err != nil {
		return report, errors.Wrap(err, "purge: articles")
	}
	if report.Sections, err = store.DeleteTaxonomy(ctx, content.TaxonomySection); err != nil {
		return report, errors.Wrap(err, "purge: sections")
	}
	if report.Tags, err = store.DeleteTaxonomy(ctx, content.TaxonomyTag); err != nil {
		return report, errors.Wrap(err, "purge: tags")
	}

	settings, ok, err := content.LoadSettings(ctx, store)
	if err != nil {
		logger.Warn("Knowledge base settings can not be read, the entry page is kept: %s", err.Error())
	} else if ok && settings.EntryPageId() != 0 {
		err := store.DeletePost(ctx, settings.EntryPageId())
		if err != nil && !content.IsNotFound(err) {
			return report, errors.Wrap(err, "purge: entry page")
		}
		report.EntryPageDeleted = err == nil
	}

	names := append([]string(nil), purgedOptions...)
	if ok && settings.Theme() != "" {
		names = append(names, content.ThemeOption(settings.Theme()))
	}
	for _, base := range content.WidgetBases {
		names = append(names, content.WidgetOption(base))
	}
	for _, name := range names {
		if _, exists, err := store.GetOption(ctx, name); err != nil {
			return report, errors.Wrapf(err, "purge: option '%s'", name)
		} else if !exists {
			continue
		}
		if err := store.DeleteOption(ctx, name); err != nil {
			return report, errors.Wrapf(err, "purge: option '%s'", name)
		}
		report.Options++
	}

	sidebars, err := content.LoadSidebars(ctx, store)
	if err != nil {
		return report, errors.Wrap(err, "purge: sidebars")
	}
	if _, ok := sidebars[content.SidebarId]; ok {
		delete(sidebars, content.SidebarId)
		if err := content.SaveJSONOption(ctx, store, content.OptionSidebars, sidebars); err != nil {
			return report, errors.Wrap(err, "purge: sidebars")
		}
	}
	return report, nil
}
