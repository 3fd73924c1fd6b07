package worker

import (
	"kbmigrate/server/content"
	"kbmigrate/server/document"
)

//metaKeys is an allow-list of meta keys; every other key is dropped on export and import.
type metaKeys map[string]bool

func newMetaKeys(keys ...string) metaKeys {
	allowed := make(metaKeys, len(keys))
	for _, key := range keys {
		allowed[key] = true
	}
	return allowed
}

var (
	kbMetaKeys      = newMetaKeys("image", "sections_style", "visibility", "basepress_position", "basepress_restriction_roles")
	sectionMetaKeys = newMetaKeys("icon", "image", "basepress_position", "basepress_restriction_roles")
	postMetaKeys    = newMetaKeys("basepress_post_icon", "basepress_restriction_roles", "basepress_votes", "basepress_score", "basepress_views")
)

func (k metaKeys) export(meta content.Meta) []document.Metadata {
	records := make([]document.Metadata, 0, len(meta))
	for _, key := range meta.Keys() {
		if k[key] {
			records = append(records, document.Metadata{Key: document.CData(key), Value: document.CData(meta[key])})
		}
	}
	return records
}

//imported filters records and rewrites links of the image meta.
func (k metaKeys) imported(records []document.Metadata, links LinkRewriter) content.Meta {
	meta := make(content.Meta)
	for _, record := range records {
		key := string(record.Key)
		if !k[key] {
			continue
		}
		value := string(record.Value)
		if key == "image" {
			value = links.Rewrite(value)
		}
		meta[key] = value
	}
	return meta
}
