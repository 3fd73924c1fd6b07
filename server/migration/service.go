package migration

import (
	"context"
	"fmt"
	"io"
	"kbmigrate/driver"
	"kbmigrate/logger"
	"kbmigrate/server/archive"
	"kbmigrate/server/catalog"
	"kbmigrate/server/content"
	"kbmigrate/server/document"
	serverErrors "kbmigrate/server/errors"
	"kbmigrate/server/monitoring"
	"kbmigrate/server/noti"
	"kbmigrate/server/objects"
	"kbmigrate/server/worker"
	"time"

	"github.com/pkg/errors"
)

const (
	msgCreateFailed = "The export file could not be created. Make sure that files can be written in the uploads directory"
	msgNotFound     = "File not found."
	msgInvalidName  = "Invalid file name."
	msgNotExport    = "The file is not a valid knowledge base export file."
)

//Service runs the control operations of export and import transfers against the
//local content store and archive. It is the in-process driver.Transport.
type Service struct {
	worker   *worker.Worker
	archive  *archive.Archive
	cache    *document.Cache
	homeUrl  string
	metrics  *monitoring.Collector
	notifier *noti.Hub
	now      func() time.Time
}

var _ driver.Transport = (*Service)(nil)

func NewService(w *worker.Worker, a *archive.Archive, cache *document.Cache, homeUrl string) *Service {
	return &Service{worker: w, archive: a, cache: cache, homeUrl: homeUrl, now: time.Now}
}

func (s *Service) SetMetrics(metrics *monitoring.Collector) {
	s.metrics = metrics
}

func (s *Service) SetNotifier(hub *noti.Hub) {
	s.notifier = hub
}

//Close flushes pending notifications and releases the content store when it holds connections.
func (s *Service) Close() error {
	s.notifier.Close()
	s.cache.Flush()
	if closer, ok := s.worker.Store().(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *Service) Archive() *archive.Archive {
	return s.archive
}

//ListExportCatalog enumerates the store and creates the export file the slices will be appended to.
func (s *Service) ListExportCatalog(ctx context.Context) (*driver.Catalog, error) {
	set, err := catalog.Export(ctx, s.worker.Store())
	if err != nil {
		logger.Error("Failed to enumerate export objects: %s", err.Error())
		return nil, serverErrors.NewFatalError(serverErrors.ErrInternal, err.Error(), nil)
	}

	name := s.archive.NewName()
	path, err := s.archive.Path(name)
	if err == nil {
		err = document.Create(path, document.Header{
			SiteName:      s.archive.SiteName(),
			ExportDate:    s.now(),
			OriginBaseUrl: s.homeUrl,
		})
	}
	if err != nil {
		logger.Error("Failed to create export file '%s': %s", name, err.Error())
		return nil, serverErrors.NewFatalError(serverErrors.ErrArtifactCreateFailed, msgCreateFailed, nil)
	}

	s.metrics.DocumentStage("created")
	s.notifier.Publish(noti.ActionExportStarted, map[string]interface{}{"file": name, "objects": set.Counts()})
	logger.Info("Export to '%s' started: %d items", name, set.Total())
	return &driver.Catalog{Objects: set, Artifact: name}, nil
}

func (s *Service) ExportSlice(ctx context.Context, packet *driver.ExportPacket) (*driver.Ack, error) {
	if err := validateSlice(packet.Type, packet.Ids); err != nil {
		return nil, err
	}
	path, err := s.archive.Existing(packet.Artifact)
	if err != nil {
		return nil, artifactError(err, packet.Artifact)
	}

	started := s.now()
	result, err := s.worker.Export(ctx, path, &worker.ExportStep{
		Type:          packet.Type,
		PreviousType:  packet.PreviousType,
		Ids:           packet.Ids,
		OpenContainer: packet.OpenContainer,
	})
	if err != nil {
		return nil, artifactError(err, packet.Artifact)
	}
	logger.Debug("Exported %s %v into '%s'", packet.Type, packet.Ids, packet.Artifact)
	s.metrics.ObserveSlice(monitoring.DirectionExport, packet.Type.String(), result.ItemsReturned, len(result.Failures), started)
	return ack(result), nil
}

func (s *Service) CloseExportDocument(ctx context.Context, packet *driver.ClosePacket) (string, error) {
	path, err := s.archive.Existing(packet.Artifact)
	if err != nil {
		return "", artifactError(err, packet.Artifact)
	}
	if err := s.worker.CloseDocument(path, packet.PreviousType); err != nil {
		return "", artifactError(err, packet.Artifact)
	}
	s.cache.Forget(path)

	s.metrics.DocumentStage("closed")
	s.notifier.Publish(noti.ActionExportClosed, map[string]interface{}{"file": packet.Artifact})
	logger.Info("Export to '%s' closed", packet.Artifact)
	return packet.Artifact, nil
}

func (s *Service) ArtifactLink(ctx context.Context, artifact string) (*driver.Link, error) {
	link, err := s.archive.Link(artifact)
	if err != nil {
		return nil, artifactError(err, artifact)
	}
	return &driver.Link{DownloadLink: link, Artifact: artifact}, nil
}

//ListImportCatalog parses the import file once and enumerates the objects it holds.
func (s *Service) ListImportCatalog(ctx context.Context, artifact string) (objects.ObjectSet, error) {
	doc, err := s.document(artifact)
	if err != nil {
		return nil, err
	}
	set, ignored := catalog.Import(doc)
	if len(ignored) > 0 {
		logger.Warn("Ignored unknown sections of '%s': %v", artifact, ignored)
	}
	logger.Info("Import from '%s' started: %d items", artifact, set.Total())
	return set, nil
}

func (s *Service) ImportSlice(ctx context.Context, packet *driver.ImportPacket) (*driver.Ack, error) {
	if err := validateSlice(packet.Type, packet.Ids); err != nil {
		return nil, err
	}
	if packet.DefaultAuthorId > 0 {
		if _, err := s.worker.Store().GetUser(ctx, packet.DefaultAuthorId); content.IsNotFound(err) {
			return nil, serverErrors.NewValidationError(serverErrors.ErrBadRequest, fmt.Sprintf("Default author %d does not exist.", packet.DefaultAuthorId), nil)
		} else if err != nil {
			return nil, serverErrors.NewFatalError(serverErrors.ErrInternal, err.Error(), nil)
		}
	}
	doc, err := s.document(packet.Artifact)
	if err != nil {
		return nil, err
	}

	started := s.now()
	result, err := s.worker.Import(ctx, doc, &worker.ImportStep{
		Type:            packet.Type,
		Ids:             packet.Ids,
		DefaultAuthorId: packet.DefaultAuthorId,
	})
	if err != nil {
		return nil, serverErrors.NewFatalError(serverErrors.ErrInternal, err.Error(), nil)
	}
	logger.Debug("Imported %s %v from '%s'", packet.Type, packet.Ids, packet.Artifact)
	s.metrics.ObserveSlice(monitoring.DirectionImport, packet.Type.String(), result.ItemsReturned, len(result.Failures), started)
	return ack(result), nil
}

//ListArtifacts renders the archived files matching the RQL filter.
func (s *Service) ListArtifacts(filter string) ([]map[string]interface{}, error) {
	list, err := s.archive.List(filter)
	if errors.Cause(err) == archive.ErrWrongFilter {
		return nil, serverErrors.NewValidationError(serverErrors.ErrWrongFilter, err.Error(), filter)
	} else if err != nil {
		return nil, serverErrors.NewFatalError(serverErrors.ErrInternal, err.Error(), nil)
	}
	return list, nil
}

//DeleteArtifact removes one archived file, or all of them for "all".
func (s *Service) DeleteArtifact(ref string) (bool, error) {
	deleted, err := s.archive.Delete(ref)
	if err != nil {
		return false, artifactError(err, ref)
	}
	if ref == archive.AllArtifacts {
		s.cache.Flush()
	} else if path, err := s.archive.Path(ref); err == nil {
		s.cache.Forget(path)
	}
	if deleted {
		s.notifier.Publish(noti.ActionArtifactDeleted, map[string]interface{}{"file": ref})
	}
	return deleted, nil
}

func (s *Service) UploadArtifact(name string, r io.Reader, size int64) (string, error) {
	stored, err := s.archive.Upload(name, r, size)
	if err != nil {
		switch cause := errors.Cause(err).(type) {
		case *archive.SizeError:
			return "", serverErrors.NewValidationError(serverErrors.ErrArtifactTooLarge, cause.Error(), nil)
		}
		switch errors.Cause(err) {
		case archive.ErrExists:
			return "", serverErrors.NewValidationError(serverErrors.ErrArtifactExists, archive.ErrExists.Error(), name)
		case archive.ErrInvalidName:
			return "", serverErrors.NewValidationError(serverErrors.ErrBadRequest, msgInvalidName, name)
		}
		logger.Error("Failed to upload '%s': %s", name, err.Error())
		return "", serverErrors.NewFatalError(serverErrors.ErrUploadFailed, err.Error(), nil)
	}
	s.notifier.Publish(noti.ActionArtifactUploaded, map[string]interface{}{"file": stored})
	logger.Info("Uploaded '%s'", stored)
	return stored, nil
}

//PurgeAll deletes all knowledge base data of the store.
func (s *Service) PurgeAll(ctx context.Context) (*worker.PurgeReport, error) {
	report, err := worker.Purge(ctx, s.worker.Store())
	if err != nil {
		logger.Error("Failed to delete all data: %s", err.Error())
		return nil, serverErrors.NewFatalError(serverErrors.ErrInternal, err.Error(), report)
	}
	s.metrics.Purged()
	s.notifier.Publish(noti.ActionDataPurged, map[string]interface{}{
		"posts":    report.Posts,
		"sections": report.Sections,
		"tags":     report.Tags,
	})
	logger.Info("Deleted all data: %d posts, %d sections, %d tags", report.Posts, report.Sections, report.Tags)
	return report, nil
}

func (s *Service) document(artifact string) (*document.Document, error) {
	path, err := s.archive.Existing(artifact)
	if err != nil {
		return nil, artifactError(err, artifact)
	}
	doc, err := s.cache.Get(path)
	if err != nil {
		if errors.Cause(err) == document.ErrArtifactMissing {
			return nil, artifactError(err, artifact)
		}
		logger.Error("Failed to parse '%s': %s", artifact, err.Error())
		return nil, serverErrors.NewValidationError(serverErrors.ErrDocumentParseFailed, msgNotExport, artifact)
	}
	return doc, nil
}

func validateSlice(t objects.ObjectType, ids []int64) error {
	if !t.Valid() {
		return serverErrors.NewValidationError(serverErrors.ErrUnknownObjectType, "Unknown object type.", nil)
	}
	if len(ids) == 0 {
		return serverErrors.NewValidationError(serverErrors.ErrBadRequest, "No ids to process.", t.String())
	}
	return nil
}

func artifactError(err error, ref string) error {
	switch errors.Cause(err) {
	case archive.ErrInvalidName:
		return serverErrors.NewValidationError(serverErrors.ErrBadRequest, msgInvalidName, ref)
	case archive.ErrNotFound, document.ErrArtifactMissing:
		return serverErrors.NewNotFoundError(serverErrors.ErrArtifactNotFound, msgNotFound, ref)
	}
	logger.Error("Artifact '%s' failed: %s", ref, err.Error())
	return serverErrors.NewFatalError(serverErrors.ErrInternal, err.Error(), nil)
}

func ack(result *worker.Result) *driver.Ack {
	a := &driver.Ack{ItemsReturned: result.ItemsReturned}
	for _, failure := range result.Failures {
		a.Failures = append(a.Failures, driver.ItemFailure{Id: failure.Id, Reason: failure.Reason})
	}
	return a
}
