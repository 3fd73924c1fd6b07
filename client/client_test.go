package client_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"kbmigrate/client"
	"kbmigrate/driver"
	"kbmigrate/progress"
	"kbmigrate/server"
	"kbmigrate/server/archive"
	"kbmigrate/server/auth"
	"kbmigrate/server/content"
	"kbmigrate/server/content/contenttest"
	"kbmigrate/server/document"
	serverErrors "kbmigrate/server/errors"
	"kbmigrate/server/migration"
	"kbmigrate/server/worker"
	"kbmigrate/utils"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const prefix = "/kb-migration"

type restrictedAuthenticator struct{}

func (restrictedAuthenticator) Authenticate(*http.Request) (*auth.User, error) {
	return &auth.User{Login: "reader", Type: auth.UserTypeUser, Capabilities: []string{"read"}, Authorized: true}, nil
}

type testServer struct {
	http  *httptest.Server
	store *content.MemoryStore
	dir   string
}

func startServer(store *content.MemoryStore, homeUrl string, authenticator auth.Authenticator) *testServer {
	dir, err := ioutil.TempDir("", "kbclient")
	Expect(err).To(BeNil())

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))

	service := migration.NewService(
		worker.New(store, homeUrl),
		archive.New(dir, ts.URL+prefix+"/files", "Origin Site", 1<<20),
		document.NewCache(2),
		homeUrl,
	)
	srv := server.New("", "0", prefix)
	srv.SetService(service)
	if authenticator == nil {
		authenticator = &auth.EmptyAuthenticator{}
	}
	srv.SetAuthenticator(authenticator)
	handler = srv.Setup(&utils.AppConfig{WorkDir: dir, StartTime: int(time.Now().Unix())}).Handler

	return &testServer{http: ts, store: store, dir: dir}
}

func (ts *testServer) stop() {
	ts.http.Close()
	os.RemoveAll(ts.dir)
}

func (ts *testServer) client() *client.Client {
	return client.New(ts.http.URL+prefix, "secret")
}

var _ = Describe("HTTP client", func() {
	var (
		ctx         context.Context
		source      *testServer
		destination *testServer
		editor      int64
	)

	BeforeEach(func() {
		ctx = context.Background()
		sourceStore := content.NewMemoryStore()
		contenttest.MustSeed(ctx, sourceStore)
		source = startServer(sourceStore, contenttest.OriginUrl, nil)

		targetStore := content.NewMemoryStore()
		var err error
		editor, err = targetStore.InsertUser(ctx, &content.User{Login: "editor"})
		Expect(err).To(BeNil())
		destination = startServer(targetStore, "http://destination.example.com", nil)
	})

	AfterEach(func() {
		source.stop()
		destination.stop()
	})

	It("exports, downloads, uploads and imports a knowledge base", func() {
		recorder := &progress.Recorder{}
		exported, err := driver.NewRunner(source.client(), 5*time.Second, recorder).Run(ctx, driver.NewExportSession(2))
		Expect(err).To(BeNil())
		Expect(exported.State).To(Equal(driver.Finished))
		Expect(exported.Link).To(Equal(source.http.URL + prefix + "/files/" + exported.Artifact))
		Expect(recorder.Percents()[len(recorder.Percents())-1]).To(Equal(100.0))

		var downloaded bytes.Buffer
		_, err = source.client().Download(ctx, exported.Link, &downloaded)
		Expect(err).To(BeNil())
		Expect(downloaded.String()).To(HaveSuffix("</basepress-export>\n"))

		local := filepath.Join(destination.dir, "..", "kbclient-"+exported.Artifact)
		Expect(ioutil.WriteFile(local, downloaded.Bytes(), 0644)).To(Succeed())
		defer os.Remove(local)
		name, err := destination.client().UploadArtifact(ctx, local)
		Expect(err).To(BeNil())
		Expect(name).To(Equal(filepath.Base(local)))

		imported, err := driver.NewRunner(destination.client(), 5*time.Second, nil).Run(ctx, driver.NewImportSession(name, 3, editor))
		Expect(err).To(BeNil())
		Expect(imported.State).To(Equal(driver.Finished))
		Expect(imported.Processed).To(Equal(imported.Total))

		ids, err := destination.store.ListPostIds(ctx, content.PostTypeArticle)
		Expect(err).To(BeNil())
		Expect(ids).To(HaveLen(2))

		_, err = destination.client().UploadArtifact(ctx, local)
		Expect(errors.Cause(err).(*serverErrors.ServerError).Code).To(Equal(serverErrors.ErrArtifactExists))
	})

	It("lists and deletes archived files", func() {
		c := source.client()
		Expect(ioutil.WriteFile(filepath.Join(source.dir, "a-export.xml"), []byte("<a/>"), 0644)).To(Succeed())
		Expect(ioutil.WriteFile(filepath.Join(source.dir, "b-export.xml"), []byte("<b/>"), 0644)).To(Succeed())

		list, err := c.ListArtifacts(ctx, "like(name,*b-exp*)")
		Expect(err).To(BeNil())
		Expect(list).To(HaveLen(1))
		Expect(list[0]["name"]).To(Equal("b-export.xml"))

		deleted, err := c.DeleteArtifact(ctx, archive.AllArtifacts)
		Expect(err).To(BeNil())
		Expect(deleted).To(BeTrue())
		list, err = c.ListArtifacts(ctx, "")
		Expect(err).To(BeNil())
		Expect(list).To(BeEmpty())
	})

	It("decodes error envelopes into server errors", func() {
		_, err := source.client().ArtifactLink(ctx, "missing.xml")

		serverError, ok := errors.Cause(err).(*serverErrors.ServerError)
		Expect(ok).To(BeTrue())
		Expect(serverError.Status).To(Equal(http.StatusNotFound))
		Expect(serverError.Code).To(Equal(serverErrors.ErrArtifactNotFound))
	})

	It("deletes all data of the server", func() {
		report, err := source.client().PurgeAll(ctx)
		Expect(err).To(BeNil())
		Expect(report.Posts).To(Equal(2))
	})

	It("is refused without the manage options capability", func() {
		restricted := startServer(content.NewMemoryStore(), "http://restricted.example.com", restrictedAuthenticator{})
		defer restricted.stop()

		_, err := restricted.client().ListArtifacts(ctx, "")
		serverError, ok := errors.Cause(err).(*serverErrors.ServerError)
		Expect(ok).To(BeTrue())
		Expect(serverError.Status).To(Equal(http.StatusForbidden))
		Expect(serverError.Msg).To(Equal("Sorry, you are not allowed to access this page."))

		resp, err := http.Get(restricted.http.URL + prefix + "/probe")
		Expect(err).To(BeNil())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("parks the driver when the server does not answer with an envelope", func() {
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		defer gateway.Close()

		s, err := driver.NewRunner(client.New(gateway.URL, ""), time.Second, nil).Run(ctx, driver.NewExportSession(2))

		Expect(err).To(BeAssignableToTypeOf(&driver.TransportError{}))
		Expect(s.State).To(Equal(driver.FetchingCatalog))
		Expect(strings.Contains(err.Error(), "without a JSON envelope")).To(BeTrue())
	})
})
