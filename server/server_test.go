package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"kbmigrate/server"
	"kbmigrate/server/archive"
	"kbmigrate/server/auth"
	"kbmigrate/server/content"
	"kbmigrate/server/content/contenttest"
	"kbmigrate/server/document"
	"kbmigrate/server/migration"
	"kbmigrate/server/worker"
	"kbmigrate/utils"
)

const urlPrefix = "/kb-migration"

var _ = Describe("Server", func() {
	var (
		httpServer *http.Server
		recorder   *httptest.ResponseRecorder
		dir        string
		dataset    *contenttest.Dataset
	)

	setup := func(authenticator auth.Authenticator) {
		store := content.NewMemoryStore()
		dataset = contenttest.MustSeed(context.Background(), store)
		srv := server.New("localhost", "8081", urlPrefix)
		srv.SetAuthenticator(authenticator)
		srv.SetService(migration.NewService(
			worker.New(store, contenttest.OriginUrl),
			archive.New(dir, "http://localhost:8081"+urlPrefix+"/files", "Docs", 1<<20),
			document.NewCache(2),
			contenttest.OriginUrl,
		))
		httpServer = srv.Setup(&utils.AppConfig{WorkDir: dir, StartTime: int(time.Now().Unix())})
	}

	serve := func(request *http.Request) map[string]interface{} {
		httpServer.Handler.ServeHTTP(recorder, request)
		var body map[string]interface{}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "kbserver")
		Expect(err).To(BeNil())
		recorder = httptest.NewRecorder()
		setup(&auth.EmptyAuthenticator{})
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("answers the probe", func() {
		Expect(ioutil.WriteFile(filepath.Join(dir, "VERSION"), []byte("1.2.3\n"), 0644)).To(Succeed())

		body := serve(httptest.NewRequest("GET", urlPrefix+"/probe", nil))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(body["status"]).To(Equal("OK"))
		Expect(body["data"]).To(HaveKeyWithValue("status", "healthy"))
		Expect(body["data"]).To(HaveKeyWithValue("version", "1.2.3"))
	})

	It("creates an export file with the catalog", func() {
		body := serve(httptest.NewRequest("POST", urlPrefix+"/export", nil))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		data := body["data"].(map[string]interface{})
		Expect(data["artifact"]).To(HavePrefix("basepress-export-docs-"))
		Expect(data["objects"]).To(HaveKey("posts"))
	})

	It("appends slices sent as JSON", func() {
		created := serve(httptest.NewRequest("POST", urlPrefix+"/export", nil))
		artifact := created["data"].(map[string]interface{})["artifact"].(string)

		recorder = httptest.NewRecorder()
		request := httptest.NewRequest("POST", urlPrefix+"/export/slice", bytes.NewBufferString(fmt.Sprintf(`{"type":"tags","ids":[%d,%d],"open_container":true,"artifact":%q}`, dataset.TagGo, dataset.TagHttp, artifact)))
		request.Header.Set("Content-Type", "application/json")
		body := serve(request)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(body["data"]).To(HaveKeyWithValue("items_returned", 2.0))
	})

	It("rejects malformed packets", func() {
		request := httptest.NewRequest("POST", urlPrefix+"/import/slice", bytes.NewBufferString(`{"type":"comments","ids":[1]}`))
		request.Header.Set("Content-Type", "application/json")
		body := serve(request)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		Expect(body["status"]).To(Equal("FAIL"))

		recorder = httptest.NewRecorder()
		body = serve(httptest.NewRequest("POST", urlPrefix+"/export/close", nil))
		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		Expect(body["error"]).To(HaveKeyWithValue("Msg", "Expected a JSON body."))
	})

	It("stores multipart uploads", func() {
		var form bytes.Buffer
		writer := multipart.NewWriter(&form)
		part, _ := writer.CreateFormFile(server.UploadField, "my export.xml")
		part.Write([]byte("<basepress-export></basepress-export>"))
		writer.Close()

		request := httptest.NewRequest("POST", urlPrefix+"/artifacts", &form)
		request.Header.Set("Content-Type", writer.FormDataContentType())
		body := serve(request)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(body["data"]).To(HaveKeyWithValue("filename", "my_export.xml"))
		_, err := os.Stat(filepath.Join(dir, "my_export.xml"))
		Expect(err).To(BeNil())
	})

	It("refuses uploads without the file field", func() {
		var form bytes.Buffer
		writer := multipart.NewWriter(&form)
		writer.WriteField("note", "nothing")
		writer.Close()

		request := httptest.NewRequest("POST", urlPrefix+"/artifacts", &form)
		request.Header.Set("Content-Type", writer.FormDataContentType())
		serve(request)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("requires authentication when tokens are verified", func() {
		setup(auth.NewTokenAuthenticator("http://127.0.0.1:1", nil))

		body := serve(httptest.NewRequest("GET", urlPrefix+"/artifacts", nil))

		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
		Expect(body["status"]).To(Equal("FAIL"))
	})

	It("serves metrics without authentication", func() {
		setup(auth.NewTokenAuthenticator("http://127.0.0.1:1", nil))

		httpServer.Handler.ServeHTTP(recorder, httptest.NewRequest("GET", urlPrefix+"/metrics", nil))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring("go_goroutines"))
	})
})
