package document_test

import (
	"encoding/xml"
	"io/ioutil"
	"kbmigrate/server/document"
	"kbmigrate/server/objects"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Document codec", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "kbdocument")
		Expect(err).To(BeNil())
		path = filepath.Join(dir, "basepress-export-test.xml")
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	header := document.Header{
		SiteName:      "Test Site",
		ExportDate:    time.Date(2020, 5, 1, 10, 20, 30, 0, time.UTC),
		OriginBaseUrl: "http://origin.example.com",
	}

	appendSection := func(name string, records ...interface{}) {
		Expect(document.Append(path, document.OpenContainer(name))).To(Succeed())
		fragment, err := document.Encode(records...)
		Expect(err).To(BeNil())
		Expect(document.Append(path, fragment)).To(Succeed())
		Expect(document.Append(path, document.CloseContainer(name))).To(Succeed())
	}

	Context("writing", func() {
		It("starts the file with the prolog and header", func() {
			Expect(document.Create(path, header)).To(Succeed())
			data, err := ioutil.ReadFile(path)
			Expect(err).To(BeNil())
			text := string(data)
			Expect(text).To(HavePrefix("<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n"))
			Expect(text).To(ContainSubstring("<!-- Site Name: Test Site -->"))
			Expect(text).To(ContainSubstring("<!-- Export date: 2020-05-01 10:20:30 -->"))
			Expect(text).To(ContainSubstring("\t<exporter_ver>1.0</exporter_ver>\n"))
			Expect(text).To(HaveSuffix("\t<origin_base_url>http://origin.example.com</origin_base_url>\n"))
		})

		It("never overwrites an existing file", func() {
			Expect(document.Create(path, header)).To(Succeed())
			Expect(document.Create(path, header)).NotTo(Succeed())
		})

		It("refuses to append to a missing file", func() {
			err := document.Append(path, []byte("\t<kbs>\n"))
			Expect(errors.Cause(err)).To(Equal(document.ErrArtifactMissing))
		})

		It("wraps free text in CDATA", func() {
			data, err := document.Encode(&document.TagRecord{Id: 3, Name: "a < b", Slug: "a-b"})
			Expect(err).To(BeNil())
			Expect(string(data)).To(ContainSubstring("<name><![CDATA[a < b]]></name>"))
			Expect(string(data)).To(HavePrefix("\t\t<tag>\n\t\t\t<id>3</id>\n"))
		})

		It("wraps slug references in CDATA", func() {
			data, err := document.Encode(
				&document.SectionRecord{Id: 11, Slug: "basics", Parent: "product"},
				&document.PostRecord{Id: 20, Sections: document.CDataList([]string{"basics"}), Tags: document.CDataList([]string{"go"})},
			)
			Expect(err).To(BeNil())
			Expect(string(data)).To(ContainSubstring("<parent><![CDATA[product]]></parent>"))
			Expect(string(data)).To(ContainSubstring("<post_section_id><![CDATA[basics]]></post_section_id>"))
			Expect(string(data)).To(ContainSubstring("<post_tag_id><![CDATA[go]]></post_tag_id>"))
		})

		It("normalizes latin-1 text to UTF-8", func() {
			data, err := xml.Marshal(document.CData("caf\xe9"))
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("<CData><![CDATA[café]]></CData>"))
		})

		It("closes the last container and the root", func() {
			Expect(string(document.CloseRoot("posts"))).To(Equal("\t</posts>\n</basepress-export>\n"))
			Expect(string(document.CloseRoot(""))).To(Equal("</basepress-export>\n"))
		})
	})

	Context("parsing", func() {
		It("indexes every section of a written document", func() {
			Expect(document.Create(path, header)).To(Succeed())

			entryPage, err := (&document.EntryPageRecord{Title: "Knowledge Base", Name: "knowledge-base", Content: "[basepress]"}).Fragment()
			Expect(err).To(BeNil())
			Expect(document.Append(path, document.OpenContainer("entry_page"))).To(Succeed())
			Expect(document.Append(path, entryPage)).To(Succeed())
			Expect(document.Append(path, document.CloseContainer("entry_page"))).To(Succeed())

			appendSection("authors", &document.AuthorRecord{Id: 7, Login: "alice"})
			appendSection("kbs", &document.KBRecord{Id: 10, Name: "Product", Slug: "product",
				Meta: []document.Metadata{{Key: "icon", Value: "bp-book"}}})
			appendSection("sections", &document.SectionRecord{Id: 11, Name: "Basics", Slug: "basics", Parent: "product"})
			appendSection("posts", &document.PostRecord{Id: 20, Author: 7, Title: "Hello", Content: "x ]]> y",
				Type: "knowledgebase", Sections: []document.CData{"basics"}, Tags: []document.CData{"go"}})
			appendSection("widgets", &document.WidgetRecord{Base: "basepress_toc_widget", Data: `{"title":"TOC"}`})
			appendSection("settings", document.SettingsEntry{Name: "basepress_settings", Value: `{"theme_style":"modern"}`})
			Expect(document.Append(path, document.CloseRoot(""))).To(Succeed())

			doc, err := document.ParseFile(path)
			Expect(err).To(BeNil())
			Expect(doc.ExporterVersion).To(Equal("1.0"))
			Expect(doc.OriginBaseUrl).To(Equal("http://origin.example.com"))
			Expect(doc.Children()).To(Equal([]string{"exporter_ver", "origin_base_url", "entry_page", "authors",
				"kbs", "sections", "posts", "widgets", "settings"}))
			Expect(doc.Has(objects.Tags)).To(BeFalse())
			Expect(doc.Has(objects.Posts)).To(BeTrue())

			page, ok := doc.EntryPage()
			Expect(ok).To(BeTrue())
			Expect(string(page.Content)).To(Equal("[basepress]"))

			author, ok := doc.Author(7)
			Expect(ok).To(BeTrue())
			Expect(string(author.Login)).To(Equal("alice"))

			kb, ok := doc.KB(10)
			Expect(ok).To(BeTrue())
			Expect(kb.Meta).To(Equal([]document.Metadata{{Key: "icon", Value: "bp-book"}}))

			section, ok := doc.Section(11)
			Expect(ok).To(BeTrue())
			Expect(section.Parent).To(Equal(document.CData("product")))

			post, ok := doc.Post(20)
			Expect(ok).To(BeTrue())
			Expect(string(post.Content)).To(Equal("x ]]> y"))
			Expect(post.Sections).To(Equal([]document.CData{"basics"}))
			Expect(post.Tags).To(Equal([]document.CData{"go"}))
			Expect(doc.Ids(objects.Posts)).To(Equal([]int64{20}))

			Expect(doc.Widgets()).To(HaveLen(1))
			Expect(string(doc.Widgets()[0].Base)).To(Equal("basepress_toc_widget"))
			Expect(doc.Settings()).To(HaveLen(1))
			Expect(doc.Settings()[0].Name).To(Equal("basepress_settings"))
		})

		It("skips unknown elements", func() {
			doc, err := document.Parse(strings.NewReader(`<basepress-export><comments><c>1</c></comments><tags><tag><id>4</id></tag></tags></basepress-export>`))
			Expect(err).To(BeNil())
			Expect(doc.Children()).To(Equal([]string{"comments", "tags"}))
			Expect(doc.Ids(objects.Tags)).To(Equal([]int64{4}))
		})

		It("keeps the first record of a duplicated id", func() {
			doc, err := document.Parse(strings.NewReader(`<basepress-export><tags><tag><id>4</id><name>a</name></tag><tag><id>4</id><name>b</name></tag></tags></basepress-export>`))
			Expect(err).To(BeNil())
			tag, _ := doc.Tag(4)
			Expect(string(tag.Name)).To(Equal("a"))
			Expect(doc.Ids(objects.Tags)).To(Equal([]int64{4}))
		})

		It("rejects foreign documents", func() {
			_, err := document.Parse(strings.NewReader(`<rss><channel/></rss>`))
			Expect(errors.Cause(err)).To(Equal(document.ErrNotExport))
		})

		It("rejects truncated documents", func() {
			_, err := document.Parse(strings.NewReader(`<basepress-export><tags><tag><id>4</id>`))
			Expect(err).NotTo(BeNil())
		})
	})

	Context("cache", func() {
		BeforeEach(func() {
			Expect(document.Create(path, header)).To(Succeed())
			Expect(document.Append(path, document.CloseRoot(""))).To(Succeed())
		})

		It("returns the parsed document while the file is unchanged", func() {
			cache := document.NewCache(2)
			first, err := cache.Get(path)
			Expect(err).To(BeNil())
			second, err := cache.Get(path)
			Expect(err).To(BeNil())
			Expect(second).To(BeIdenticalTo(first))
		})

		It("re-parses a changed file", func() {
			cache := document.NewCache(2)
			first, err := cache.Get(path)
			Expect(err).To(BeNil())
			Expect(document.Append(path, []byte("<!-- trailer -->\n"))).To(Succeed())
			second, err := cache.Get(path)
			Expect(err).To(BeNil())
			Expect(second).NotTo(BeIdenticalTo(first))
		})

		It("evicts the least recently used document", func() {
			other := filepath.Join(dir, "other.xml")
			Expect(document.Create(other, header)).To(Succeed())
			Expect(document.Append(other, document.CloseRoot(""))).To(Succeed())

			cache := document.NewCache(1)
			_, err := cache.Get(path)
			Expect(err).To(BeNil())
			_, err = cache.Get(other)
			Expect(err).To(BeNil())
			Expect(cache.Len()).To(Equal(1))
		})

		It("keeps the recently used document when another one is evicted", func() {
			second := filepath.Join(dir, "second.xml")
			third := filepath.Join(dir, "third.xml")
			for _, p := range []string{second, third} {
				Expect(document.Create(p, header)).To(Succeed())
				Expect(document.Append(p, document.CloseRoot(""))).To(Succeed())
			}

			cache := document.NewCache(2)
			first, err := cache.Get(path)
			Expect(err).To(BeNil())
			evicted, err := cache.Get(second)
			Expect(err).To(BeNil())
			_, err = cache.Get(path)
			Expect(err).To(BeNil())
			_, err = cache.Get(third)
			Expect(err).To(BeNil())
			Expect(cache.Len()).To(Equal(2))

			again, err := cache.Get(path)
			Expect(err).To(BeNil())
			Expect(again).To(BeIdenticalTo(first))
			reparsed, err := cache.Get(second)
			Expect(err).To(BeNil())
			Expect(reparsed).NotTo(BeIdenticalTo(evicted))
		})

		It("drops forgotten and flushed documents", func() {
			cache := document.NewCache(2)
			first, err := cache.Get(path)
			Expect(err).To(BeNil())
			cache.Forget(path)
			Expect(cache.Len()).To(Equal(0))

			second, err := cache.Get(path)
			Expect(err).To(BeNil())
			Expect(second).NotTo(BeIdenticalTo(first))
			cache.Flush()
			Expect(cache.Len()).To(Equal(0))
		})

		It("reports a removed file as missing", func() {
			cache := document.NewCache(1)
			os.Remove(path)
			_, err := cache.Get(path)
			Expect(errors.Cause(err)).To(Equal(document.ErrArtifactMissing))
		})
	})
})
