package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"kbmigrate/driver"
	serverErrors "kbmigrate/server/errors"
	"kbmigrate/server/objects"
	"kbmigrate/server/worker"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

//UploadField is the multipart field the server reads uploaded files from.
const UploadField = "basepress_upload_file"

//Client talks to the control API of a migration server.
type Client struct {
	baseUrl string
	token   string
	http    *http.Client
}

var _ driver.Transport = (*Client)(nil)

//New builds a client for the API rooted at baseUrl, e.g. http://host:8000/kb-migration.
//A token without a type is sent as "Token <token>".
func New(baseUrl string, token string) *Client {
	return &Client{baseUrl: strings.TrimRight(baseUrl, "/"), token: token, http: &http.Client{}}
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.http = client
}

type envelope struct {
	Status     string          `json:"status"`
	Data       json.RawMessage `json:"data"`
	TotalCount int             `json:"total_count"`
	Error      *struct {
		Code string
		Msg  string
		Data interface{}
	} `json:"error"`
}

func (c *Client) ListExportCatalog(ctx context.Context) (*driver.Catalog, error) {
	var catalog driver.Catalog
	if err := c.call(ctx, http.MethodPost, "/export", struct{}{}, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (c *Client) ExportSlice(ctx context.Context, packet *driver.ExportPacket) (*driver.Ack, error) {
	var ack driver.Ack
	if err := c.call(ctx, http.MethodPost, "/export/slice", packet, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) CloseExportDocument(ctx context.Context, packet *driver.ClosePacket) (string, error) {
	var closed struct {
		Artifact string `json:"artifact"`
	}
	if err := c.call(ctx, http.MethodPost, "/export/close", packet, &closed); err != nil {
		return "", err
	}
	return closed.Artifact, nil
}

func (c *Client) ArtifactLink(ctx context.Context, artifact string) (*driver.Link, error) {
	var link driver.Link
	if err := c.call(ctx, http.MethodGet, "/artifacts/"+url.PathEscape(artifact)+"/link", nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

func (c *Client) ListImportCatalog(ctx context.Context, artifact string) (objects.ObjectSet, error) {
	var catalog struct {
		Objects objects.ObjectSet `json:"objects"`
	}
	if err := c.call(ctx, http.MethodGet, "/import/"+url.PathEscape(artifact)+"/catalog", nil, &catalog); err != nil {
		return nil, err
	}
	return catalog.Objects, nil
}

func (c *Client) ImportSlice(ctx context.Context, packet *driver.ImportPacket) (*driver.Ack, error) {
	var ack driver.Ack
	if err := c.call(ctx, http.MethodPost, "/import/slice", packet, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

//ListArtifacts returns the archived files, optionally narrowed by an RQL filter.
func (c *Client) ListArtifacts(ctx context.Context, filter string) ([]map[string]interface{}, error) {
	path := "/artifacts"
	if filter != "" {
		path += "?q=" + url.QueryEscape(filter)
	}
	var list []map[string]interface{}
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) DeleteArtifact(ctx context.Context, artifact string) (bool, error) {
	var result struct {
		Deleted bool `json:"deleted"`
	}
	if err := c.call(ctx, http.MethodDelete, "/artifacts/"+url.PathEscape(artifact), nil, &result); err != nil {
		return false, err
	}
	return result.Deleted, nil
}

func (c *Client) PurgeAll(ctx context.Context) (*worker.PurgeReport, error) {
	var report worker.PurgeReport
	if err := c.call(ctx, http.MethodPost, "/purge", struct{}{}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

//UploadArtifact streams the local file at path to the server and returns the stored name.
func (c *Client) UploadArtifact(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "client: upload")
	}
	defer file.Close()

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		part, err := form.CreateFormFile(UploadField, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = form.Close()
		}
		writer.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/artifacts", body)
	if err != nil {
		return "", errors.Wrap(err, "client: upload")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	var uploaded struct {
		Filename string `json:"filename"`
	}
	if err := c.do(req, &uploaded); err != nil {
		return "", err
	}
	return uploaded.Filename, nil
}

//Download copies the file behind a download link into w.
func (c *Client) Download(ctx context.Context, link string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, errors.Wrap(err, "client: download")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "client: download")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("client: download of '%s' answered %s", link, resp.Status)
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) call(ctx context.Context, method string, path string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "client: encode %s %s", method, path)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, body)
	if err != nil {
		return errors.Wrapf(err, "client: %s %s", method, path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

//do sends req and decodes the {status, data, error} envelope. Error envelopes come
//back as *errors.ServerError; anything else that fails is a transport error.
func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		if strings.Contains(c.token, " ") {
			req.Header.Set("Authorization", c.token)
		} else {
			req.Header.Set("Authorization", "Token "+c.token)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "client: %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "client: read %s %s", req.Method, req.URL.Path)
	}

	var answer envelope
	if err := json.Unmarshal(data, &answer); err != nil || answer.Status == "" {
		return errors.Errorf("client: %s %s answered %s without a JSON envelope", req.Method, req.URL.Path, resp.Status)
	}
	if answer.Status != "OK" {
		serverError := &serverErrors.ServerError{Status: resp.StatusCode, Code: serverErrors.ErrInternal, Msg: resp.Status}
		if answer.Error != nil {
			serverError.Code = answer.Error.Code
			serverError.Msg = answer.Error.Msg
			serverError.Data = answer.Error.Data
		}
		return serverError
	}
	if out != nil && len(answer.Data) > 0 {
		if err := json.Unmarshal(answer.Data, out); err != nil {
			return errors.Wrapf(err, "client: decode %s %s", req.Method, req.URL.Path)
		}
	}
	return nil
}
