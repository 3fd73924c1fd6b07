package content

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	OptionSettings        = "basepress_settings"
	OptionVersion         = "basepress_ver"
	OptionDbVersion       = "basepress_db_ver"
	OptionPlan            = "basepress_plan"
	OptionRunWizard       = "basepress_run_wizard"
	OptionSidebars        = "sidebars_widgets"
	OptionSectionChildren = "knowledgebase_cat_children"

	SidebarId = "basepress-sidebar"
)

//WidgetBases are the widget kinds the knowledge base sidebar can hold.
var WidgetBases = []string{
	"basepress_nav_widget",
	"basepress_popular_articles_widget",
	"basepress_products_widget",
	"basepress_related_articles_widget",
	"basepress_sections_widget",
	"basepress_tag_cloud",
	"basepress_toc_widget",
}

func WidgetOption(base string) string {
	return "widget_" + base
}

func ThemeOption(theme string) string {
	return "basepress_" + theme + "_theme"
}

//Settings is the decoded basepress_settings option.
type Settings map[string]interface{}

func LoadSettings(ctx context.Context, store Store) (Settings, bool, error) {
	settings := Settings{}
	ok, err := LoadJSONOption(ctx, store, OptionSettings, &settings)
	if err != nil || !ok {
		return nil, false, err
	}
	return settings, true, nil
}

//EntryPageId returns the configured entry page id, or 0.
func (s Settings) EntryPageId() int64 {
	switch value := s["entry_page"].(type) {
	case float64:
		return int64(value)
	case string:
		id, _ := strconv.ParseInt(value, 10, 64)
		return id
	}
	return 0
}

//Theme returns the active theme style, if one is set.
func (s Settings) Theme() string {
	theme, _ := s["theme_style"].(string)
	return theme
}

//LoadJSONOption decodes a JSON encoded option into v and reports whether the option exists.
func LoadJSONOption(ctx context.Context, store Store, name string, v interface{}) (bool, error) {
	raw, ok, err := store.GetOption(ctx, name)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, errors.Wrapf(err, "content: option '%s' is not valid JSON", name)
	}
	return true, nil
}

func SaveJSONOption(ctx context.Context, store Store, name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "content: encode option '%s'", name)
	}
	return store.UpdateOption(ctx, name, string(raw))
}

//WidgetInstance is one numbered instance of a widget kind.
type WidgetInstance struct {
	Base string
	Key  int
	Data json.RawMessage
}

//Id is the sidebar reference of the instance, e.g. basepress_toc_widget-2.
func (w WidgetInstance) Id() string {
	return w.Base + "-" + strconv.Itoa(w.Key)
}

//Sidebars is the decoded sidebars_widgets option. Entries other than the
//knowledge base sidebar are kept as they are.
type Sidebars map[string]json.RawMessage

func LoadSidebars(ctx context.Context, store Store) (Sidebars, error) {
	sidebars := Sidebars{}
	if _, err := LoadJSONOption(ctx, store, OptionSidebars, &sidebars); err != nil {
		return nil, err
	}
	return sidebars, nil
}

func (s Sidebars) Widgets(sidebar string) []string {
	widgets := make([]string, 0)
	if raw, ok := s[sidebar]; ok {
		json.Unmarshal(raw, &widgets)
	}
	return widgets
}

func (s Sidebars) SetWidgets(sidebar string, widgets []string) error {
	raw, err := json.Marshal(widgets)
	if err != nil {
		return errors.Wrap(err, "content: encode sidebar")
	}
	s[sidebar] = raw
	return nil
}

//WidgetInstances decodes the widget_<base> option. Non numeric keys are settings
//of the widget kind and are returned separately.
func WidgetInstances(ctx context.Context, store Store, base string) ([]WidgetInstance, map[string]json.RawMessage, error) {
	values := map[string]json.RawMessage{}
	if _, err := LoadJSONOption(ctx, store, WidgetOption(base), &values); err != nil {
		return nil, nil, err
	}
	instances := make([]WidgetInstance, 0)
	extra := make(map[string]json.RawMessage)
	for key, data := range values {
		if number, err := strconv.Atoi(key); err == nil {
			instances = append(instances, WidgetInstance{Base: base, Key: number, Data: data})
		} else {
			extra[key] = data
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Key < instances[j].Key })
	return instances, extra, nil
}

//ActiveWidgets returns the instances placed in the knowledge base sidebar, in sidebar order.
func ActiveWidgets(ctx context.Context, store Store) ([]WidgetInstance, error) {
	sidebars, err := LoadSidebars(ctx, store)
	if err != nil {
		return nil, err
	}
	known := make(map[string]WidgetInstance)
	for _, base := range WidgetBases {
		instances, _, err := WidgetInstances(ctx, store, base)
		if err != nil {
			return nil, err
		}
		for _, instance := range instances {
			known[instance.Id()] = instance
		}
	}
	active := make([]WidgetInstance, 0)
	for _, id := range sidebars.Widgets(SidebarId) {
		if instance, ok := known[id]; ok {
			active = append(active, instance)
		}
	}
	return active, nil
}

//IsWidgetBase reports whether base is one of the knowledge base widget kinds.
func IsWidgetBase(base string) bool {
	for _, known := range WidgetBases {
		if known == strings.TrimSpace(base) {
			return true
		}
	}
	return false
}
