package archive

import (
	"fmt"
	"io"
	"io/ioutil"
	"kbmigrate/utils"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/structs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	AllArtifacts  = "all"
	createdLayout = "January 02 2006 15:04:05"
	stampLayout   = "2006-01-02-150405"
)

var (
	ErrInvalidName = errors.New("archive: invalid file name")
	ErrNotFound    = errors.New("archive: file not found")
	ErrExists      = errors.New("File already exists.")

	nonSlug = regexp.MustCompile(`[^a-z0-9\-]`)
	kept    = []string{".DS_Store"}
)

//SizeError is returned by Upload for files over the size limit.
type SizeError struct {
	Limit int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("File is too large. Max file size is %s.", humanize.IBytes(uint64(e.Limit)))
}

//Artifact describes one export file of the archive.
type Artifact struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
	Created   string `json:"created"`
	Url       string `json:"url"`
}

//Archive is the directory holding export files and uploaded import files.
type Archive struct {
	dir           string
	baseUrl       string
	siteName      string
	maxUploadSize int64
	now           func() time.Time
}

func New(dir string, baseUrl string, siteName string, maxUploadSize int64) *Archive {
	return &Archive{
		dir:           dir,
		baseUrl:       strings.TrimRight(baseUrl, "/"),
		siteName:      siteName,
		maxUploadSize: maxUploadSize,
		now:           time.Now,
	}
}

func (a *Archive) Dir() string {
	return a.dir
}

func (a *Archive) SiteName() string {
	return a.siteName
}

//SetClock replaces the time source used for new file names.
func (a *Archive) SetClock(now func() time.Time) {
	a.now = now
}

//NewName returns an unused export file name made of the site name and the current time.
func (a *Archive) NewName() string {
	name := fmt.Sprintf("basepress-export-%s-%s", SiteSlug(a.siteName), a.now().Format(stampLayout))
	if _, err := os.Stat(filepath.Join(a.dir, name+".xml")); os.IsNotExist(err) {
		return name + ".xml"
	}
	return fmt.Sprintf("%s-%s.xml", name, uuid.New().String()[:8])
}

//SiteSlug lowercases the site name, turns spaces into dashes and drops anything
//but letters, digits and dashes.
func SiteSlug(siteName string) string {
	slug := strings.ReplaceAll(strings.ToLower(siteName), " ", "-")
	return nonSlug.ReplaceAllString(slug, "")
}

//Path resolves ref to a file of the archive. References that are not plain file
//names are rejected.
func (a *Archive) Path(ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || ref != filepath.Base(ref) || strings.ContainsAny(ref, `/\`) {
		return "", errors.Wrapf(ErrInvalidName, "'%s'", ref)
	}
	return filepath.Join(a.dir, ref), nil
}

//Existing resolves ref like Path and requires the file to exist.
func (a *Archive) Existing(ref string) (string, error) {
	path, err := a.Path(ref)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.IsDir()) {
		return "", errors.Wrapf(ErrNotFound, "'%s'", ref)
	} else if err != nil {
		return "", errors.Wrapf(err, "archive: stat '%s'", ref)
	}
	return path, nil
}

//Link returns the download url of an archived file.
func (a *Archive) Link(ref string) (string, error) {
	if _, err := a.Existing(ref); err != nil {
		return "", err
	}
	return a.baseUrl + "/" + url.PathEscape(ref), nil
}

//Artifacts returns the archived files sorted by name.
func (a *Archive) Artifacts() ([]*Artifact, error) {
	entries, err := ioutil.ReadDir(a.dir)
	if os.IsNotExist(err) {
		return []*Artifact{}, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "archive: list")
	}
	artifacts := make([]*Artifact, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		artifacts = append(artifacts, &Artifact{
			Name:      entry.Name(),
			Size:      entry.Size(),
			SizeHuman: humanize.Bytes(uint64(entry.Size())),
			Created:   entry.ModTime().Format(createdLayout),
			Url:       a.baseUrl + "/" + url.PathEscape(entry.Name()),
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

//List renders the archived files matching the RQL filter; an empty filter matches all.
func (a *Archive) List(filter string) ([]map[string]interface{}, error) {
	match, err := NewFilter(filter)
	if err != nil {
		return nil, err
	}
	artifacts, err := a.Artifacts()
	if err != nil {
		return nil, err
	}
	structs.DefaultTagName = "json"
	result := make([]map[string]interface{}, 0, len(artifacts))
	for _, artifact := range artifacts {
		ok, err := match(artifact)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, structs.Map(artifact))
		}
	}
	return result, nil
}

//Delete removes one archived file, or every file when ref is "all". It reports
//whether anything was deleted.
func (a *Archive) Delete(ref string) (bool, error) {
	if ref == AllArtifacts {
		removed, err := a.DeleteAll()
		return removed > 0, err
	}
	path, err := a.Existing(ref)
	if err != nil {
		return false, err
	}
	if err := utils.RemoveFile(path); err != nil {
		return false, errors.Wrapf(err, "archive: delete '%s'", ref)
	}
	return true, nil
}

func (a *Archive) DeleteAll() (int, error) {
	removed, err := utils.RemoveContents(a.dir, kept...)
	if os.IsNotExist(errors.Cause(err)) {
		return 0, nil
	}
	return removed, errors.Wrap(err, "archive: delete all")
}

//Upload stores r under name with spaces replaced by underscores. Existing files
//are never replaced and files over the size limit are rejected.
func (a *Archive) Upload(name string, r io.Reader, size int64) (string, error) {
	name = strings.ReplaceAll(filepath.Base(name), " ", "_")
	path, err := a.Path(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return "", errors.WithStack(ErrExists)
	}
	if a.maxUploadSize > 0 && size > a.maxUploadSize {
		return "", &SizeError{Limit: a.maxUploadSize}
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", errors.Wrap(err, "archive: create directory")
	}

	temp, err := ioutil.TempFile(a.dir, ".upload-")
	if err != nil {
		return "", errors.Wrap(err, "archive: upload")
	}
	defer os.Remove(temp.Name())

	limited := r
	if a.maxUploadSize > 0 {
		limited = io.LimitReader(r, a.maxUploadSize+1)
	}
	written, err := io.Copy(temp, limited)
	if closeErr := utils.CloseFile(temp); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", errors.Wrap(err, "archive: upload")
	}
	if a.maxUploadSize > 0 && written > a.maxUploadSize {
		return "", &SizeError{Limit: a.maxUploadSize}
	}
	if err := os.Link(temp.Name(), path); err != nil {
		if os.IsExist(err) {
			return "", errors.WithStack(ErrExists)
		}
		return "", errors.Wrap(err, "archive: upload")
	}
	return name, nil
}
