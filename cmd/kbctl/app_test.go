package main

import (
	"bytes"
	"context"
	"io/ioutil"
	"kbmigrate/server"
	"kbmigrate/server/archive"
	"kbmigrate/server/auth"
	"kbmigrate/server/content"
	"kbmigrate/server/content/contenttest"
	"kbmigrate/server/document"
	"kbmigrate/server/migration"
	"kbmigrate/server/worker"
	"kbmigrate/utils"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const prefix = "/kb-migration"

var _ = Describe("kbctl", func() {
	var (
		ts     *httptest.Server
		store  *content.MemoryStore
		dir    string
		output *bytes.Buffer
	)

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "kbctl")
		Expect(err).To(BeNil())
		store = content.NewMemoryStore()
		contenttest.MustSeed(context.Background(), store)

		var handler http.Handler
		ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w, r)
		}))
		srv := server.New("", "0", prefix)
		srv.SetAuthenticator(&auth.EmptyAuthenticator{})
		srv.SetService(migration.NewService(
			worker.New(store, contenttest.OriginUrl),
			archive.New(filepath.Join(dir, "exports"), ts.URL+prefix+"/files", "Origin Site", 1<<20),
			document.NewCache(2),
			contenttest.OriginUrl,
		))
		handler = srv.Setup(&utils.AppConfig{WorkDir: dir, StartTime: int(time.Now().Unix())}).Handler
		output = &bytes.Buffer{}
	})

	AfterEach(func() {
		ts.Close()
		os.RemoveAll(dir)
	})

	runKbctl := func(args ...string) error {
		app := NewApp()
		app.Writer = output
		app.ErrWriter = ioutil.Discard
		return app.Run(append([]string{"kbctl", "--server", ts.URL + prefix, "--chunk", "2"}, args...))
	}

	It("exports and downloads the knowledge base", func() {
		local := filepath.Join(dir, "downloads", "kb.xml")

		Expect(runKbctl("export", "--output", local)).To(Succeed())

		Expect(output.String()).To(ContainSubstring("Exported 12 items into basepress-export-origin-site-"))
		data, err := ioutil.ReadFile(local)
		Expect(err).To(BeNil())
		Expect(string(data)).To(HaveSuffix("</basepress-export>\n"))

		output.Reset()
		Expect(runKbctl("list", "--filter", "like(name,*origin-site*)")).To(Succeed())
		Expect(output.String()).To(ContainSubstring("basepress-export-origin-site-"))
	})

	It("uploads and imports a local file", func() {
		local := filepath.Join(dir, "kb.xml")
		Expect(runKbctl("export", "--output", local)).To(Succeed())
		Expect(runKbctl("purge", "--yes")).To(Succeed())

		output.Reset()
		Expect(runKbctl("import", "--file", local, "--default-author", "1")).To(Succeed())

		Expect(output.String()).To(ContainSubstring("Imported"))
		ids, err := store.ListPostIds(context.Background(), content.PostTypeArticle)
		Expect(err).To(BeNil())
		Expect(ids).To(HaveLen(2))
	})

	It("deletes archived files", func() {
		Expect(runKbctl("export")).To(Succeed())
		output.Reset()

		Expect(runKbctl("delete", "all")).To(Succeed())
		Expect(output.String()).To(Equal("deleted: true\n"))
	})

	It("validates its arguments", func() {
		app := NewApp()
		app.Writer = output
		app.ErrWriter = ioutil.Discard
		err := app.Run([]string{"kbctl", "--server", ts.URL + prefix, "--chunk", "101", "list"})
		Expect(err).To(MatchError(ContainSubstring("between 1 and 100")))

		Expect(runKbctl("purge")).To(MatchError(ContainSubstring("--yes")))
		Expect(runKbctl("delete")).NotTo(Succeed())
		Expect(runKbctl("import")).NotTo(Succeed())
	})

	It("reports server errors", func() {
		err := runKbctl("delete", "missing.xml")
		Expect(err).To(MatchError(ContainSubstring("File not found.")))
	})
})
