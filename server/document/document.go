package document

import (
	"encoding/xml"
	"io"
	"kbmigrate/server/objects"
	"kbmigrate/utils"
	"os"
	"sort"

	"github.com/pkg/errors"
)

var ErrNotExport = errors.New("document: not a knowledge base export file")

//Document is a parsed export file indexed by object type and id.
type Document struct {
	ExporterVersion string
	OriginBaseUrl   string

	children  []string
	present   map[string]bool
	authors   map[int64]*AuthorRecord
	kbs       index
	sections  index
	tags      index
	posts     index
	widgets   []*WidgetRecord
	entryPage *EntryPageRecord
	settings  []*SettingsEntry
}

//index keeps records by id plus the ids in document order; the first record of an id wins.
type index struct {
	ids     []int64
	records map[int64]interface{}
}

func (i *index) add(id int64, record interface{}) {
	if i.records == nil {
		i.records = make(map[int64]interface{})
	}
	if _, ok := i.records[id]; ok {
		return
	}
	i.records[id] = record
	i.ids = append(i.ids, id)
}

func (i *index) get(id int64) (interface{}, bool) {
	record, ok := i.records[id]
	return record, ok
}

//Children returns the names of the root's child elements in document order.
func (d *Document) Children() []string {
	return append([]string(nil), d.children...)
}

//Has reports whether the document carries a section for the type.
func (d *Document) Has(t objects.ObjectType) bool {
	return d.present[t.String()]
}

//Ids returns the record ids of a list type in document order.
func (d *Document) Ids(t objects.ObjectType) []int64 {
	var i *index
	switch t {
	case objects.KBs:
		i = &d.kbs
	case objects.Sections:
		i = &d.sections
	case objects.Tags:
		i = &d.tags
	case objects.Posts:
		i = &d.posts
	case objects.Authors:
		ids := make([]int64, 0, len(d.authors))
		for id := range d.authors {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		return ids
	default:
		return nil
	}
	return append([]int64(nil), i.ids...)
}

func (d *Document) Author(id int64) (*AuthorRecord, bool) {
	author, ok := d.authors[id]
	return author, ok
}

func (d *Document) KB(id int64) (*KBRecord, bool) {
	record, ok := d.kbs.get(id)
	if !ok {
		return nil, false
	}
	return record.(*KBRecord), true
}

func (d *Document) Section(id int64) (*SectionRecord, bool) {
	record, ok := d.sections.get(id)
	if !ok {
		return nil, false
	}
	return record.(*SectionRecord), true
}

func (d *Document) Tag(id int64) (*TagRecord, bool) {
	record, ok := d.tags.get(id)
	if !ok {
		return nil, false
	}
	return record.(*TagRecord), true
}

func (d *Document) Post(id int64) (*PostRecord, bool) {
	record, ok := d.posts.get(id)
	if !ok {
		return nil, false
	}
	return record.(*PostRecord), true
}

func (d *Document) Widgets() []*WidgetRecord {
	return d.widgets
}

func (d *Document) EntryPage() (*EntryPageRecord, bool) {
	return d.entryPage, d.entryPage != nil
}

func (d *Document) Settings() []*SettingsEntry {
	return d.settings
}

type authorsSection struct {
	Authors []*AuthorRecord `xml:"author"`
}

type kbsSection struct {
	KBs []*KBRecord `xml:"kb"`
}

type sectionsSection struct {
	Sections []*SectionRecord `xml:"section"`
}

type tagsSection struct {
	Tags []*TagRecord `xml:"tag"`
}

type postsSection struct {
	Posts []*PostRecord `xml:"post"`
}

type widgetsSection struct {
	Widgets []*WidgetRecord `xml:"widget"`
}

type settingsSection struct {
	Entries []*SettingsEntry `xml:",any"`
}

//Parse reads an export document in a single pass.
func Parse(r io.Reader) (*Document, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charsetReader

	root, err := rootElement(decoder)
	if err != nil {
		return nil, err
	}
	if root.Name.Local != RootElement {
		return nil, errors.Wrapf(ErrNotExport, "root element is <%s>", root.Name.Local)
	}

	doc := &Document{present: make(map[string]bool), authors: make(map[int64]*AuthorRecord)}
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil, errors.Wrap(io.ErrUnexpectedEOF, "document: root element is not closed")
		} else if err != nil {
			return nil, errors.Wrap(err, "document: parse")
		}
		switch el := token.(type) {
		case xml.StartElement:
			if err := doc.decodeChild(decoder, el); err != nil {
				return nil, errors.Wrapf(err, "document: parse <%s>", el.Name.Local)
			}
		case xml.EndElement:
			return doc, nil
		}
	}
}

func ParseFile(path string) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "document: open '%s'", path)
	}
	defer utils.CloseFile(file)
	return Parse(file)
}

func rootElement(decoder *xml.Decoder) (xml.StartElement, error) {
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return xml.StartElement{}, errors.Wrap(ErrNotExport, "document is empty")
		} else if err != nil {
			return xml.StartElement{}, errors.Wrap(err, "document: parse")
		}
		if start, ok := token.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func (d *Document) decodeChild(decoder *xml.Decoder, start xml.StartElement) error {
	name := start.Name.Local
	if !d.present[name] {
		d.present[name] = true
		d.children = append(d.children, name)
	}

	switch name {
	case exporterVerElement:
		return decoder.DecodeElement(&d.ExporterVersion, &start)
	case originBaseUrlElement:
		return decoder.DecodeElement(&d.OriginBaseUrl, &start)
	case objects.Authors.String():
		section := authorsSection{}
		if err := decoder.DecodeElement(&section, &start); err != nil {
			return err
		}
		for _, author := range section.Authors {
			if _, ok := d.authors[author.Id]; !ok {
				d.authors[author.Id] = author
			}
		}
	case objects.KBs.String():
		section := kbsSection{}
		if err := decoder.DecodeElement(&section, &start); err != nil {
			return err
		}
		for _, kb := range section.KBs {
			d.kbs.add(kb.Id, kb)
		}
	case objects.Sections.String():
		section := sectionsSection{}
		if err := decoder.DecodeElement(&section, &start); err != nil {
			return err
		}
		for _, record := range section.Sections {
			d.sections.add(record.Id, record)
		}
	case objects.Tags.String():
		section := tagsSection{}
		if err := decoder.DecodeElement(&section, &start); err != nil {
			return err
		}
		for _, tag := range section.Tags {
			d.tags.add(tag.Id, tag)
		}
	case objects.Posts.String():
		section := postsSection{}
		if err := decoder.DecodeElement(&section, &start); err != nil {
			return err
		}
		for _, post := range section.Posts {
			d.posts.add(post.Id, post)
		}
	case objects.Widgets.String():
		section := widgetsSection{}
		if err := decoder.DecodeElement(&section, &start); err != nil {
			return err
		}
		d.widgets = append(d.widgets, section.Widgets...)
	case objects.EntryPage.String():
		record := &EntryPageRecord{}
		if err := decoder.DecodeElement(record, &start); err != nil {
			return err
		}
		if d.entryPage == nil && (record.Title != "" || record.Content != "") {
			d.entryPage = record
		}
	case objects.Settings.String():
		section := settingsSection{}
		if err := decoder.DecodeElement(&section, &start); err != nil {
			return err
		}
		d.settings = append(d.settings, section.Entries...)
	default:
		return decoder.Skip()
	}
	return nil
}

//charsetReader accepts ISO-8859-1 declared documents besides UTF-8.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch charset {
	case "ISO-8859-1", "iso-8859-1", "latin1", "LATIN1":
		return charmapReader(input), nil
	}
	return nil, errors.Errorf("document: unsupported charset '%s'", charset)
}
