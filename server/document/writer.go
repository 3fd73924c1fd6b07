package document

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"kbmigrate/utils"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	ExporterVersion = "1.0"
	RootElement     = "basepress-export"

	exporterVerElement   = "exporter_ver"
	originBaseUrlElement = "origin_base_url"
)

var ErrArtifactMissing = errors.New("document: export file does not exist")

type Header struct {
	SiteName      string
	ExportDate    time.Time
	OriginBaseUrl string
}

//Create writes a new export file holding the prolog, the header comments and the
//opening of the root element. An existing file is never overwritten.
func Create(path string, header Header) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "document: create export directory")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "document: create '%s'", path)
	}
	defer utils.CloseFile(file)

	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n")
	buf.WriteString("<!-- BasePress Knowledge Base export file -->\n")
	fmt.Fprintf(&buf, "<!-- Site Name: %s -->\n", comment(header.SiteName))
	fmt.Fprintf(&buf, "<!-- Export date: %s -->\n", header.ExportDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&buf, "<!-- Exporter Version: %s -->\n\n", ExporterVersion)
	fmt.Fprintf(&buf, "<%s>\n", RootElement)
	fmt.Fprintf(&buf, "\t<%s>%s</%s>\n", exporterVerElement, ExporterVersion, exporterVerElement)
	buf.WriteString("\t<" + originBaseUrlElement + ">")
	if err := xml.EscapeText(&buf, []byte(header.OriginBaseUrl)); err != nil {
		return errors.Wrap(err, "document: escape origin url")
	}
	buf.WriteString("</" + originBaseUrlElement + ">\n")

	if _, err := file.Write(buf.Bytes()); err != nil {
		return errors.Wrapf(err, "document: write header of '%s'", path)
	}
	return nil
}

//Append adds fragment at the end of an existing export file.
func Append(path string, fragment []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrArtifactMissing, "'%s'", filepath.Base(path))
	} else if err != nil {
		return errors.Wrapf(err, "document: open '%s'", path)
	}
	defer utils.CloseFile(file)
	if _, err := file.Write(fragment); err != nil {
		return errors.Wrapf(err, "document: append to '%s'", path)
	}
	return nil
}

func OpenContainer(name string) []byte {
	return []byte("\t<" + name + ">\n")
}

func CloseContainer(name string) []byte {
	return []byte("\t</" + name + ">\n")
}

//CloseRoot closes the last open container, if any, and the root element.
func CloseRoot(lastContainer string) []byte {
	var fragment []byte
	if lastContainer != "" {
		fragment = CloseContainer(lastContainer)
	}
	return append(fragment, []byte("</"+RootElement+">\n")...)
}

func comment(text string) string {
	return strings.ReplaceAll(text, "--", "- -")
}
