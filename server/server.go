package server

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"kbmigrate/driver"
	"kbmigrate/logger"
	"kbmigrate/server/auth"
	. "kbmigrate/server/errors"
	"kbmigrate/server/migration"
	"kbmigrate/server/monitoring"
	"kbmigrate/utils"
	"mime"
	"net/http"
	_ "net/http/pprof"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"
)

const (
	UploadField  = "basepress_upload_file"
	msgForbidden = "Sorry, you are not allowed to access this page."
)

type MigrationApp struct {
	router        *httprouter.Router
	authenticator auth.Authenticator
	public        []string
}

func GetApp(ms *MigrationServer) *MigrationApp {
	return &MigrationApp{
		router:        httprouter.New(),
		authenticator: ms.authenticator,
		public:        []string{ms.root + "/probe", ms.root + "/metrics", ms.root + "/files/"},
	}
}

//ServeHTTP lets only users allowed to manage options past, except for the public routes.
func (app *MigrationApp) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	for _, prefix := range app.public {
		if strings.HasPrefix(req.URL.Path, prefix) {
			app.router.ServeHTTP(w, req)
			return
		}
	}

	user, err := app.authenticator.Authenticate(req)
	if err != nil {
		returnError(w, err)
		return
	}
	if !user.Can(auth.ManageOptions) {
		returnError(w, NewForbiddenError(msgForbidden))
		return
	}
	ctx := context.WithValue(req.Context(), "auth_user", *user)
	app.router.ServeHTTP(w, req.WithContext(ctx))
}

//Migration server description
type MigrationServer struct {
	addr, port, root string
	s                *http.Server
	authenticator    auth.Authenticator
	service          *migration.Service
	metrics          *monitoring.Collector
}

func New(host, port, urlPrefix string) *MigrationServer {
	return &MigrationServer{addr: host, port: port, root: urlPrefix}
}

func (ms *MigrationServer) SetAddr(a string) {
	ms.addr = a
}

func (ms *MigrationServer) SetPort(p string) {
	ms.port = p
}

func (ms *MigrationServer) SetRoot(r string) {
	ms.root = r
}

func (ms *MigrationServer) SetAuthenticator(authenticator auth.Authenticator) {
	ms.authenticator = authenticator
}

//SetService replaces the service Setup would otherwise build from the configuration.
func (ms *MigrationServer) SetService(service *migration.Service) {
	ms.service = service
}

func (ms *MigrationServer) Setup(config *utils.AppConfig) *http.Server {
	if ms.authenticator == nil {
		ms.authenticator = auth.GetAuthenticator(config.AuthenticationType, config.AuthServiceUrl, config.CacheType, config.RedisUrl)
	}
	if ms.metrics == nil {
		ms.metrics = monitoring.NewCollector()
	}
	if ms.service == nil {
		service, err := NewService(context.Background(), config)
		if err != nil {
			logger.Error("Failed to set up the migration service: %s", err.Error())
			panic(err)
		}
		ms.service = service
	}
	ms.service.SetMetrics(ms.metrics)
	service := ms.service

	app := GetApp(ms)

	//export
	app.router.POST(ms.root+"/export", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, _ httprouter.Params, _ url.Values, request *http.Request) {
		if catalog, err := service.ListExportCatalog(request.Context()); err == nil {
			sink.pushObj(catalog)
		} else {
			sink.pushError(err)
		}
	}))

	app.router.POST(ms.root+"/export/slice", CreateJsonAction(func(src *JsonSource, sink *JsonSink, _ httprouter.Params, _ url.Values, request *http.Request) {
		var packet driver.ExportPacket
		if err := src.decode(&packet); err != nil {
			sink.pushError(err)
			return
		}
		if ack, err := service.ExportSlice(request.Context(), &packet); err == nil {
			sink.pushObj(ack)
		} else {
			sink.pushError(err)
		}
	}))

	app.router.POST(ms.root+"/export/close", CreateJsonAction(func(src *JsonSource, sink *JsonSink, _ httprouter.Params, _ url.Values, request *http.Request) {
		var packet driver.ClosePacket
		if err := src.decode(&packet); err != nil {
			sink.pushError(err)
			return
		}
		if artifact, err := service.CloseExportDocument(request.Context(), &packet); err == nil {
			sink.pushObj(map[string]string{"artifact": artifact})
		} else {
			sink.pushError(err)
		}
	}))

	//import
	app.router.GET(ms.root+"/import/:name/catalog", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, p httprouter.Params, _ url.Values, request *http.Request) {
		if set, err := service.ListImportCatalog(request.Context(), p.ByName("name")); err == nil {
			sink.pushObj(map[string]interface{}{"objects": set})
		} else {
			sink.pushError(err)
		}
	}))

	app.router.POST(ms.root+"/import/slice", CreateJsonAction(func(src *JsonSource, sink *JsonSink, _ httprouter.Params, _ url.Values, request *http.Request) {
		var packet driver.ImportPacket
		if err := src.decode(&packet); err != nil {
			sink.pushError(err)
			return
		}
		if ack, err := service.ImportSlice(request.Context(), &packet); err == nil {
			sink.pushObj(ack)
		} else {
			sink.pushError(err)
		}
	}))

	//artifacts
	app.router.GET(ms.root+"/artifacts", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, _ httprouter.Params, q url.Values, _ *http.Request) {
		list, err := service.ListArtifacts(q.Get("q"))
		if err != nil {
			sink.pushError(err)
			return
		}
		result := make([]interface{}, len(list))
		for i := range list {
			result[i] = list[i]
		}
		sink.pushList(result, len(result))
	}))

	app.router.GET(ms.root+"/artifacts/:name/link", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, p httprouter.Params, _ url.Values, request *http.Request) {
		if link, err := service.ArtifactLink(request.Context(), p.ByName("name")); err == nil {
			sink.pushObj(link)
		} else {
			sink.pushError(err)
		}
	}))

	app.router.DELETE(ms.root+"/artifacts/:name", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, p httprouter.Params, _ url.Values, _ *http.Request) {
		if deleted, err := service.DeleteArtifact(p.ByName("name")); err == nil {
			sink.pushObj(map[string]bool{"deleted": deleted})
		} else {
			sink.pushError(err)
		}
	}))

	app.router.POST(ms.root+"/artifacts", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, _ httprouter.Params, _ url.Values, request *http.Request) {
		reader, err := request.MultipartReader()
		if err != nil {
			sink.pushError(NewValidationError(ErrBadRequest, "Expected a multipart upload.", nil))
			return
		}
		for {
			part, err := reader.NextPart()
			if err != nil {
				sink.pushError(NewValidationError(ErrBadRequest, "No file was uploaded.", UploadField))
				return
			}
			if part.FormName() != UploadField || part.FileName() == "" {
				part.Close()
				continue
			}
			name, err := service.UploadArtifact(part.FileName(), part, -1)
			part.Close()
			if err != nil {
				sink.pushError(err)
			} else {
				sink.pushObj(map[string]string{"filename": name})
			}
			return
		}
	}))

	app.router.ServeFiles(ms.root+"/files/*filepath", http.Dir(service.Archive().Dir()))

	//bulk delete
	app.router.POST(ms.root+"/purge", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, _ httprouter.Params, _ url.Values, request *http.Request) {
		if report, err := service.PurgeAll(request.Context()); err == nil {
			sink.pushObj(report)
		} else {
			sink.pushError(err)
		}
	}))

	app.router.GET(ms.root+"/probe", CreateJsonAction(func(_ *JsonSource, sink *JsonSink, _ httprouter.Params, _ url.Values, _ *http.Request) {
		now := int(time.Now().Unix())
		probeData := map[string]interface{}{}
		probeData["status"] = "healthy"
		probeData["uptime"] = now - config.StartTime
		probeData["version"] = "unknown"

		if data, err := ioutil.ReadFile(config.WorkDir + "/VERSION"); err == nil {
			probeData["version"] = strings.TrimSpace(string(data))
		}
		sink.pushObj(probeData)
	}))

	app.router.Handler(http.MethodGet, ms.root+"/metrics", ms.metrics.Handler())

	if config.EnableProfiler {
		app.router.Handler(http.MethodGet, "/debug/pprof/:item", http.DefaultServeMux)
	}

	if !config.DisableSafePanicHandler {
		app.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, err interface{}) {
			if user, ok := r.Context().Value("auth_user").(auth.User); ok {
				sentry.ConfigureScope(func(scope *sentry.Scope) {
					scope.SetUser(sentry.User{ID: strconv.Itoa(user.Id), Username: user.Login})
				})
			}
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetRequest(r)
			})
			e, ok := err.(error)
			if !ok {
				e = NewFatalError(ErrInternal, "unexpected panic", err)
			}
			sentry.CaptureException(e)
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.Clear()
			})
			logger.Error("Recovered from panic on '%s': %v", r.URL.Path, err)
			returnError(w, e)
		}
	}

	ms.s = &http.Server{
		Addr:           ms.addr + ":" + ms.port,
		Handler:        app,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return ms.s
}

//Shutdown stops accepting requests, waits for the running ones and closes the service.
func (ms *MigrationServer) Shutdown(ctx context.Context) error {
	var err error
	if ms.s != nil {
		err = ms.s.Shutdown(ctx)
	}
	if ms.service != nil {
		if closeErr := ms.service.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

func CreateJsonAction(f func(*JsonSource, *JsonSink, httprouter.Params, url.Values, *http.Request)) func(http.ResponseWriter, *http.Request, httprouter.Params) {
	return func(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
		sink, _ := asJsonSink(w)
		src, e := (*httpRequest)(req).asJsonSource()

		if e != nil {
			returnError(w, e)
			return
		}

		query := make(url.Values)
		if err := parseQuery(query, req.URL.RawQuery); err != nil {
			returnError(w, err)
			return
		}

		f(src, sink, p, query, req)
	}
}

func parseQuery(m url.Values, query string) (err error) {
	for query != "" {
		key := query
		if i := strings.IndexAny(key, "&;"); i >= 0 {
			key, query = key[:i], key[i+1:]
		} else {
			query = ""
		}
		if key == "" {
			continue
		}
		value := ""
		if i := strings.Index(key, "="); i >= 0 {
			key, value = key[:i], key[i+1:]
		}
		key, err1 := url.QueryUnescape(key)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}

		m[key] = append(m[key], value)
		if key == "q" {
			m[key] = []string{strings.Join(m[key], ",")}
		}
	}
	return err
}

//Returns an error to HTTP response in JSON format.
//If the error object accepted is of ServerError type so HTTP status and code are taken from the error object.
//Otherwise they sets to http.StatusInternalServerError and the error text respectively.
func returnError(w http.ResponseWriter, e interface{}) {
	w.Header().Set("Content-Type", "application/json")
	responseData := map[string]interface{}{"status": "FAIL"}
	switch e := e.(type) {
	case *auth.AuthError:
		w.WriteHeader(http.StatusUnauthorized)
		responseData["error"] = e.Serialize()
	case *ServerError:
		w.WriteHeader(e.Status)
		responseData["error"] = e.Serialize()
	default:
		w.WriteHeader(http.StatusInternalServerError)
		responseData["error"] = NewFatalError(ErrInternal, e.(error).Error(), nil).Serialize()
	}
	encodedData, _ := json.Marshal(responseData)
	w.Write(encodedData)
}

//The source of JSON object.
type JsonSource struct {
	body []byte
}

type httpRequest http.Request

//Converts an HTTP request to the JsonSource if the request carries a JSON body.
func (r *httpRequest) asJsonSource() (*JsonSource, error) {
	if r.Body != nil {
		smime := r.Header.Get(textproto.CanonicalMIMEHeaderKey("Content-Type"))

		if mm, _, e := mime.ParseMediaType(smime); e == nil && mm == "application/json" {
			var result JsonSource
			result.body, _ = ioutil.ReadAll(r.Body)
			if len(result.body) > 0 && !json.Valid(result.body) {
				return nil, &ServerError{Status: http.StatusBadRequest, Code: ErrBadRequest, Msg: "bad JSON", Data: nil}
			}
			return &result, nil
		}
	}

	return nil, nil
}

//decode unmarshals the request body into target. A request without JSON body is a bad request.
func (js *JsonSource) decode(target interface{}) error {
	if js == nil || len(js.body) == 0 {
		return NewValidationError(ErrBadRequest, "Expected a JSON body.", nil)
	}
	if err := json.Unmarshal(js.body, target); err != nil {
		return NewValidationError(ErrBadRequest, "bad JSON", err.Error())
	}
	return nil
}

//The JSON object sink into the HTTP response.
type JsonSink struct {
	rw     http.ResponseWriter
	Status string
}

//Converts http.ResponseWriter into JsonSink.
func asJsonSink(w http.ResponseWriter) (*JsonSink, error) {
	return &JsonSink{w, "OK"}, nil
}

//Push an error into JsonSink.
func (js *JsonSink) pushError(e error) {
	returnError(js.rw, e)
}

//Push an JSON object into JsonSink
func (js *JsonSink) pushObj(object interface{}) {
	responseData := map[string]interface{}{"status": js.Status}
	if object != nil {
		responseData["data"] = object
	}
	if encodedData, err := json.Marshal(responseData); err != nil {
		returnError(js.rw, err)
	} else {
		js.rw.Header().Set("Content-Type", "application/json")
		js.rw.WriteHeader(http.StatusOK)
		js.rw.Write(encodedData)
	}
}

func (js *JsonSink) pushList(objects []interface{}, total int) {
	responseData := map[string]interface{}{"status": js.Status}
	if objects == nil {
		objects = make([]interface{}, 0)
	}
	responseData["data"] = objects
	responseData["total_count"] = total

	if encodedData, err := json.Marshal(responseData); err != nil {
		returnError(js.rw, err)
	} else {
		js.rw.Header().Set("Content-Type", "application/json")
		js.rw.WriteHeader(http.StatusOK)
		js.rw.Write(encodedData)
	}
}
