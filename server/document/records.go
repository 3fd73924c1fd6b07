package document

import (
	"bytes"
	"encoding/xml"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

//CData is a free-text leaf. It is always written as a CDATA section holding valid UTF-8.
type CData string

func (c CData) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(struct {
		Text string `xml:",cdata"`
	}{normalize(string(c))}, start)
}

func (c *CData) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var text string
	if err := d.DecodeElement(&text, &start); err != nil {
		return err
	}
	*c = CData(text)
	return nil
}

//normalize decodes text that is not valid UTF-8 as ISO-8859-1.
func normalize(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().String(text)
	if err != nil {
		return string(bytes.ToValidUTF8([]byte(text), []byte("\uFFFD")))
	}
	return decoded
}

//CDataList wraps every value of values.
func CDataList(values []string) []CData {
	list := make([]CData, len(values))
	for i, value := range values {
		list[i] = CData(value)
	}
	return list
}

//Strings unwraps a list of CData leaves.
func Strings(list []CData) []string {
	values := make([]string, len(list))
	for i, value := range list {
		values[i] = string(value)
	}
	return values
}

type Metadata struct {
	Key   CData `xml:"meta_key"`
	Value CData `xml:"meta_value"`
}

type AuthorRecord struct {
	XMLName     xml.Name `xml:"author"`
	Id          int64    `xml:"id"`
	Login       CData    `xml:"author_login"`
	Email       CData    `xml:"author_email"`
	DisplayName CData    `xml:"author_display_name"`
	FirstName   CData    `xml:"author_first_name"`
	LastName    CData    `xml:"author_last_name"`
}

type KBRecord struct {
	XMLName     xml.Name   `xml:"kb"`
	Id          int64      `xml:"id"`
	Name        CData      `xml:"name"`
	Slug        CData      `xml:"slug"`
	Description CData      `xml:"description"`
	Meta        []Metadata `xml:"termmeta>metadata"`
}

//SectionRecord references its parent term by slug.
type SectionRecord struct {
	XMLName     xml.Name   `xml:"section"`
	Id          int64      `xml:"id"`
	Name        CData      `xml:"name"`
	Slug        CData      `xml:"slug"`
	Description CData      `xml:"description"`
	Parent      CData      `xml:"parent"`
	Meta        []Metadata `xml:"termmeta>metadata"`
}

type TagRecord struct {
	XMLName     xml.Name `xml:"tag"`
	Id          int64    `xml:"id"`
	Name        CData    `xml:"name"`
	Slug        CData    `xml:"slug"`
	Description CData    `xml:"description"`
}

//PostRecord is a knowledge base article. Author is the origin user id, resolvable
//through the authors section; sections and tags are referenced by slug.
type PostRecord struct {
	XMLName       xml.Name   `xml:"post"`
	Id            int64      `xml:"id"`
	Author        int64      `xml:"author"`
	Date          CData      `xml:"post_date"`
	DateGmt       CData      `xml:"post_date_gmt"`
	Content       CData      `xml:"post_content"`
	Title         CData      `xml:"post_title"`
	Excerpt       CData      `xml:"post_excerpt"`
	Status        CData      `xml:"post_status"`
	CommentStatus CData      `xml:"comment_status"`
	PingStatus    CData      `xml:"ping_status"`
	Password      CData      `xml:"post_password"`
	Name          CData      `xml:"post_name"`
	MenuOrder     int        `xml:"menu_order"`
	Type          string     `xml:"post_type"`
	Sections      []CData    `xml:"post_sections>post_section_id"`
	Tags          []CData    `xml:"post_tags>post_tag_id"`
	Meta          []Metadata `xml:"postmeta>metadata"`
}

//WidgetRecord is one sidebar widget instance; Data holds the instance settings as JSON.
type WidgetRecord struct {
	XMLName xml.Name `xml:"widget"`
	Base    CData    `xml:"base"`
	Data    CData    `xml:"data"`
}

//EntryPageRecord fields live directly inside the entry_page container.
type EntryPageRecord struct {
	Title   CData `xml:"post_title"`
	Name    CData `xml:"post_name"`
	Content CData `xml:"post_content"`
}

//Fragment renders the entry page fields without a wrapping element.
func (r *EntryPageRecord) Fragment() ([]byte, error) {
	return encodeElements(
		element{"post_title", r.Title},
		element{"post_name", r.Name},
		element{"post_content", r.Content},
	)
}

//SettingsEntry is one option of the settings section; the element name is the option name.
type SettingsEntry struct {
	Name  string
	Value CData
}

func (s SettingsEntry) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	return e.EncodeElement(s.Value, xml.StartElement{Name: xml.Name{Local: s.Name}})
}

func (s *SettingsEntry) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	s.Name = start.Name.Local
	return d.DecodeElement(&s.Value, &start)
}

type element struct {
	name  string
	value interface{}
}

func encodeElements(elements ...element) ([]byte, error) {
	records := make([]interface{}, 0, len(elements))
	for _, el := range elements {
		records = append(records, namedElement(el))
	}
	return Encode(records...)
}

type namedElement element

func (n namedElement) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	return e.EncodeElement(n.value, xml.StartElement{Name: xml.Name{Local: n.name}})
}

//Encode renders records as indented child elements of a container, one per line.
func Encode(records ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, record := range records {
		data, err := xml.MarshalIndent(record, "\t\t", "\t")
		if err != nil {
			return nil, errors.Wrap(err, "document: encode record")
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func charmapReader(input io.Reader) io.Reader {
	return charmap.ISO8859_1.NewDecoder().Reader(input)
}
