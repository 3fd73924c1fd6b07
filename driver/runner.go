package driver

import (
	"context"
	"fmt"
	"kbmigrate/logger"
	"kbmigrate/progress"
	serverErrors "kbmigrate/server/errors"
	"time"

	"github.com/pkg/errors"
)

//Runner performs the effects of sessions against a transport, one request at a time.
type Runner struct {
	transport Transport
	timeout   time.Duration
	reporter  progress.Reporter
}

//NewRunner builds a runner. A timeout of 0 waits for every response indefinitely.
func NewRunner(transport Transport, timeout time.Duration, reporter progress.Reporter) *Runner {
	if reporter == nil {
		reporter = progress.LogReporter{}
	}
	return &Runner{transport: transport, timeout: timeout, reporter: reporter}
}

//Run drives the session until it finishes or fails. When the transport itself fails the
//session is returned parked with a *TransportError; pass it to Retry to go on.
func (r *Runner) Run(ctx context.Context, s Session) (Session, error) {
	if s.State == Idle {
		s, _ = Step(s, Start{})
	}
	return r.drive(ctx, s)
}

//Retry re-sends the pending request of a parked session, or of a session failed by a timeout.
func (r *Runner) Retry(ctx context.Context, s Session) (Session, error) {
	if s.State == Failed {
		resumed, err := Resume(s)
		if err != nil {
			return s, err
		}
		s = resumed
	}
	if s.State == Idle || s.State.Terminal() || s.Pending == nil {
		return s, ErrNotResumable
	}
	return r.drive(ctx, s)
}

func (r *Runner) drive(ctx context.Context, s Session) (Session, error) {
	log := logger.WithSession(s.Id)
	for {
		switch effect := s.Pending.(type) {
		case Done:
			log.Infof("%s finished: %d of %d items, %d failures", s.Direction, s.Processed, s.Total, len(s.Failures))
			return s, nil
		case Abort:
			log.Errorf("%s failed: %s", s.Direction, effect.Err.Error())
			return s, effect.Err
		}

		log.Debugf("%s: performing %T", s.Direction, s.Pending)
		event, err := r.perform(ctx, s.Pending)
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			if _, timeout := err.(*TimeoutError); timeout || isServerError(err) {
				s, _ = Step(s, RequestFailed{Err: err})
				continue
			}
			log.Warnf("%s parked: %s", s.Direction, err.Error())
			return s, &TransportError{Err: err}
		}

		s, _ = Step(s, event)
		if _, acked := event.(SliceAcked); acked && s.State != Failed {
			r.reporter.Report(progress.Update{
				SessionId: s.Id,
				Type:      s.previousType(),
				Processed: s.Processed,
				Total:     s.Total,
				Failures:  len(s.Failures),
			})
		}
	}
}

type outcome struct {
	event Event
	err   error
}

//perform runs one effect, giving up after the request timeout even when the
//transport ignores its context.
func (r *Runner) perform(ctx context.Context, effect Effect) (Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reqCtx context.Context
	var cancel context.CancelFunc
	if r.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		event, err := r.call(reqCtx, effect)
		done <- outcome{event, err}
	}()

	select {
	case result := <-done:
		if result.err != nil && reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{Request: requestName(effect), Timeout: r.timeout}
		}
		return result.event, result.err
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Request: requestName(effect), Timeout: r.timeout}
	}
}

func (r *Runner) call(ctx context.Context, effect Effect) (Event, error) {
	switch e := effect.(type) {
	case FetchExportCatalog:
		catalog, err := r.transport.ListExportCatalog(ctx)
		if err != nil {
			return nil, err
		}
		return CatalogReceived{Objects: catalog.Objects, Artifact: catalog.Artifact}, nil
	case FetchImportCatalog:
		set, err := r.transport.ListImportCatalog(ctx, e.Artifact)
		if err != nil {
			return nil, err
		}
		return CatalogReceived{Objects: set}, nil
	case SendExportSlice:
		ack, err := r.transport.ExportSlice(ctx, &e.Packet)
		if err != nil {
			return nil, err
		}
		return SliceAcked{Ack: *ack}, nil
	case SendImportSlice:
		ack, err := r.transport.ImportSlice(ctx, &e.Packet)
		if err != nil {
			return nil, err
		}
		return SliceAcked{Ack: *ack}, nil
	case CloseDocument:
		artifact, err := r.transport.CloseExportDocument(ctx, &e.Packet)
		if err != nil {
			return nil, err
		}
		return DocumentClosed{Artifact: artifact}, nil
	case FetchLink:
		link, err := r.transport.ArtifactLink(ctx, e.Artifact)
		if err != nil {
			return nil, err
		}
		return LinkReceived{Link: *link}, nil
	}
	return nil, errors.Errorf("driver: no request for effect %T", effect)
}

func requestName(effect Effect) string {
	switch effect.(type) {
	case FetchExportCatalog:
		return "list-export-catalog"
	case FetchImportCatalog:
		return "list-import-catalog"
	case SendExportSlice:
		return "export-slice"
	case SendImportSlice:
		return "import-slice"
	case CloseDocument:
		return "close-export-document"
	case FetchLink:
		return "get-artifact-link"
	}
	return fmt.Sprintf("%T", effect)
}

func isServerError(err error) bool {
	_, ok := errors.Cause(err).(*serverErrors.ServerError)
	return ok
}
