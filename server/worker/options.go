package worker

import (
	"context"
	"encoding/json"
	"kbmigrate/logger"
	"kbmigrate/server/content"
	"kbmigrate/server/document"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type widgetHandler struct {
	store content.Store
}

func (h *widgetHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	widgets, err := content.ActiveWidgets(ctx, h.store)
	if err != nil {
		return nil, []ItemFailure{failure(ids[0], err)}, nil
	}
	records := make([]interface{}, 0, len(widgets))
	for _, widget := range widgets {
		records = append(records, &document.WidgetRecord{
			Base: document.CData(widget.Base),
			Data: document.CData(widget.Data),
		})
	}
	data, err := document.Encode(records...)
	return data, nil, err
}

//Deserialize returns every widget of the document; widgets are one singleton item.
func (h *widgetHandler) Deserialize(doc *document.Document, _ int64) (interface{}, bool) {
	widgets := doc.Widgets()
	return widgets, len(widgets) > 0
}

//Write adds each widget as a new instance of its kind, numbered after the existing
//instances, and appends it to the knowledge base sidebar.
func (h *widgetHandler) Write(ctx context.Context, record interface{}, _ *ImportEnv) error {
	widgets := record.([]*document.WidgetRecord)
	sidebars, err := content.LoadSidebars(ctx, h.store)
	if err != nil {
		return err
	}
	sidebar := sidebars.Widgets(content.SidebarId)
	for _, widget := range widgets {
		base := string(widget.Base)
		if base == "" {
			continue
		}
		existing, _, err := content.WidgetInstances(ctx, h.store, base)
		if err != nil {
			return err
		}
		next := content.WidgetInstance{Base: base, Key: 2, Data: widgetData(string(widget.Data))}
		if len(existing) > 0 {
			next.Key = existing[len(existing)-1].Key + 1
		}
		instances := map[string]json.RawMessage{}
		if _, err := content.LoadJSONOption(ctx, h.store, content.WidgetOption(base), &instances); err != nil {
			return err
		}
		instances[strconv.Itoa(next.Key)] = next.Data
		if err := content.SaveJSONOption(ctx, h.store, content.WidgetOption(base), instances); err != nil {
			return err
		}
		sidebar = append(sidebar, next.Id())
	}
	if err := sidebars.SetWidgets(content.SidebarId, sidebar); err != nil {
		return err
	}
	return content.SaveJSONOption(ctx, h.store, content.OptionSidebars, sidebars)
}

//widgetData keeps JSON instance settings as they are and stores anything else as a JSON string.
func widgetData(data string) json.RawMessage {
	if data != "" && json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(data)
	return quoted
}

type settingsHandler struct {
	store content.Store
}

func (h *settingsHandler) Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	raw, ok, err := h.store.GetOption(ctx, content.OptionSettings)
	if err != nil {
		return nil, []ItemFailure{failure(ids[0], err)}, nil
	}
	if !ok {
		return nil, []ItemFailure{failure(ids[0], notFound("option '%s'", content.OptionSettings))}, nil
	}
	records := []interface{}{document.SettingsEntry{Name: content.OptionSettings, Value: document.CData(raw)}}

	settings, _, err := content.LoadSettings(ctx, h.store)
	if err != nil {
		return nil, []ItemFailure{failure(ids[0], err)}, nil
	}
	if theme := settings.Theme(); theme != "" {
		themeRaw, ok, err := h.store.GetOption(ctx, content.ThemeOption(theme))
		if err != nil {
			return nil, []ItemFailure{failure(ids[0], err)}, nil
		}
		if ok {
			records = append(records, document.SettingsEntry{Name: content.ThemeOption(theme), Value: document.CData(themeRaw)})
		}
	}
	data, err := document.Encode(records...)
	return data, nil, err
}

func (h *settingsHandler) Deserialize(doc *document.Document, _ int64) (interface{}, bool) {
	entries := doc.Settings()
	return entries, len(entries) > 0
}

//Write creates the entry page recorded in the document, points the settings at it,
//stores every settings option and switches the setup wizard off.
func (h *settingsHandler) Write(ctx context.Context, record interface{}, env *ImportEnv) error {
	entries := record.([]*document.SettingsEntry)
	var pageId int64
	if page, ok := env.Document.EntryPage(); ok {
		id, err := createEntryPage(ctx, h.store, page, env)
		if err != nil {
			return err
		}
		pageId = id
	}
	for _, entry := range entries {
		if !isSettingsOption(entry.Name) {
			logger.Warn("Settings entry '%s' is not a knowledge base option and will be ignored", entry.Name)
			continue
		}
		value := string(entry.Value)
		if !json.Valid([]byte(value)) {
			return errors.Errorf("option '%s' is not valid JSON", entry.Name)
		}
		if entry.Name == content.OptionSettings && pageId != 0 {
			settings := content.Settings{}
			if err := json.Unmarshal([]byte(value), &settings); err != nil {
				return errors.Wrapf(err, "option '%s'", entry.Name)
			}
			settings["entry_page"] = pageId
			if err := content.SaveJSONOption(ctx, h.store, entry.Name, settings); err != nil {
				return err
			}
			continue
		}
		if err := h.store.UpdateOption(ctx, entry.Name, value); err != nil {
			return err
		}
	}
	return h.store.DeleteOption(ctx, content.OptionRunWizard)
}

func isSettingsOption(name string) bool {
	return name == content.OptionSettings || (strings.HasPrefix(name, "basepress_") && strings.HasSuffix(name, "_theme"))
}
