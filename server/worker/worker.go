package worker

import (
	"bytes"
	"context"
	"fmt"
	"kbmigrate/logger"
	"kbmigrate/server/content"
	"kbmigrate/server/document"
	"kbmigrate/server/objects"

	"github.com/pkg/errors"
)

//Handler moves the items of one object type between the content store and the document.
type Handler interface {
	//Serialize renders the records of ids as sibling elements. Ids that can not be
	//read are reported as failures and left out of the fragment.
	Serialize(ctx context.Context, ids []int64) ([]byte, []ItemFailure, error)
	//Deserialize finds the record of id in the document.
	Deserialize(doc *document.Document, id int64) (interface{}, bool)
	//Write stores a record returned by Deserialize.
	Write(ctx context.Context, record interface{}, env *ImportEnv) error
}

//ImportEnv carries what a handler needs besides the record while importing.
type ImportEnv struct {
	Document        *document.Document
	DefaultAuthorId int64
	Links           LinkRewriter
}

type ItemFailure struct {
	Id     int64  `json:"id"`
	Reason string `json:"reason"`
}

//Result of one packet. ItemsReturned counts every id of the packet, written or
//not, so that the driver offsets always advance by the packet size.
type Result struct {
	ItemsReturned int           `json:"items_returned"`
	Failures      []ItemFailure `json:"failures,omitempty"`
}

type ExportStep struct {
	Type          objects.ObjectType
	PreviousType  objects.ObjectType
	Ids           []int64
	OpenContainer bool
}

type ImportStep struct {
	Type            objects.ObjectType
	Ids             []int64
	DefaultAuthorId int64
}

type Worker struct {
	store    content.Store
	handlers map[objects.ObjectType]Handler
	homeUrl  string
}

//NewWorker builds a worker from a handler registry covering every object type.
func NewWorker(store content.Store, handlers map[objects.ObjectType]Handler, homeUrl string) (*Worker, error) {
	for _, t := range objects.All() {
		if handlers[t] == nil {
			return nil, errors.Errorf("worker: no handler registered for '%s'", t)
		}
	}
	return &Worker{store: store, handlers: handlers, homeUrl: homeUrl}, nil
}

//New builds a worker with the standard handlers.
func New(store content.Store, homeUrl string) *Worker {
	w, err := NewWorker(store, DefaultHandlers(store), homeUrl)
	if err != nil {
		panic(err)
	}
	return w
}

func DefaultHandlers(store content.Store) map[objects.ObjectType]Handler {
	return map[objects.ObjectType]Handler{
		objects.EntryPage: &entryPageHandler{store: store},
		objects.Authors:   &authorHandler{store: store},
		objects.KBs:       &kbHandler{store: store},
		objects.Sections:  &sectionHandler{store: store},
		objects.Tags:      &tagHandler{store: store},
		objects.Posts:     &postHandler{store: store},
		objects.Widgets:   &widgetHandler{store: store},
		objects.Settings:  &settingsHandler{store: store},
	}
}

func (w *Worker) Store() content.Store {
	return w.store
}

func (w *Worker) handler(t objects.ObjectType) (Handler, error) {
	if handler, ok := w.handlers[t]; ok {
		return handler, nil
	}
	return nil, errors.Errorf("worker: unknown object type %d", int(t))
}

//Export appends the records of step.Ids to the export file at path, preceded by the
//closing tag of the previous type's container when the type changed and by the
//opening tag of this type's container when requested.
func (w *Worker) Export(ctx context.Context, path string, step *ExportStep) (*Result, error) {
	handler, err := w.handler(step.Type)
	if err != nil {
		return nil, err
	}
	var fragment bytes.Buffer
	if step.PreviousType.Valid() && step.PreviousType != step.Type {
		fragment.Write(document.CloseContainer(step.PreviousType.String()))
	}
	if step.OpenContainer {
		fragment.Write(document.OpenContainer(step.Type.String()))
	}
	records, failures, err := handler.Serialize(ctx, step.Ids)
	if err != nil {
		return nil, errors.Wrapf(err, "worker: serialize %s", step.Type)
	}
	fragment.Write(records)
	if fragment.Len() > 0 {
		if err := document.Append(path, fragment.Bytes()); err != nil {
			return nil, err
		}
	}
	for _, failure := range failures {
		logger.Warn("Skipped %s item %d on export: %s", step.Type, failure.Id, failure.Reason)
	}
	return &Result{ItemsReturned: len(step.Ids), Failures: failures}, nil
}

//Import writes the records of step.Ids found in doc into the content store.
//Missing records and write failures are reported per item and never stop the packet.
func (w *Worker) Import(ctx context.Context, doc *document.Document, step *ImportStep) (*Result, error) {
	handler, err := w.handler(step.Type)
	if err != nil {
		return nil, err
	}
	env := &ImportEnv{
		Document:        doc,
		DefaultAuthorId: step.DefaultAuthorId,
		Links:           NewLinkRewriter(doc.OriginBaseUrl, w.homeUrl),
	}
	result := &Result{ItemsReturned: len(step.Ids)}
	for _, id := range step.Ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, ok := handler.Deserialize(doc, id)
		if !ok {
			result.Failures = append(result.Failures, ItemFailure{Id: id, Reason: "not found in the import file"})
			continue
		}
		if err := handler.Write(ctx, record, env); err != nil {
			logger.Warn("Failed to import %s item %d: %s", step.Type, id, err.Error())
			result.Failures = append(result.Failures, ItemFailure{Id: id, Reason: err.Error()})
		}
	}
	return result, nil
}

//CloseDocument terminates the export file at path.
func (w *Worker) CloseDocument(path string, previous objects.ObjectType) error {
	name := ""
	if previous.Valid() {
		name = previous.String()
	}
	return document.Append(path, document.CloseRoot(name))
}

func failure(id int64, err error) ItemFailure {
	return ItemFailure{Id: id, Reason: err.Error()}
}

func notFound(format string, args ...interface{}) error {
	return errors.Wrap(content.ErrNotFound, fmt.Sprintf(format, args...))
}
