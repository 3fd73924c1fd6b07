package driver

import (
	"kbmigrate/server/objects"

	"github.com/pkg/errors"
)

//Step applies one event to the session and returns the next session with the
//effect to perform. It does no I/O.
func Step(s Session, e Event) (Session, Effect) {
	if failed, ok := e.(RequestFailed); ok && !s.State.Terminal() {
		return s.fail(failed.Err)
	}

	switch s.State {
	case Idle:
		if _, ok := e.(Start); ok {
			s.State = FetchingCatalog
			if s.Direction == Import {
				return s.issue(FetchImportCatalog{Artifact: s.Artifact})
			}
			return s.issue(FetchExportCatalog{})
		}
	case FetchingCatalog:
		if catalog, ok := e.(CatalogReceived); ok {
			s.Objects = catalog.Objects
			if s.Objects == nil {
				s.Objects = objects.NewObjectSet()
			}
			s.Types = s.Objects.Types()
			s.Total = s.Objects.Total()
			if s.Direction == Export {
				s.Artifact = catalog.Artifact
			}
			s.State = ProcessingItem
			return s.next()
		}
	case ProcessingItem:
		if acked, ok := e.(SliceAcked); ok {
			n := acked.Ack.ItemsReturned
			if n <= 0 || n > s.inFlight {
				return s.fail(errors.Wrapf(ErrProtocol, "%d items acknowledged for a slice of %d", n, s.inFlight))
			}
			s.PreviousIndex = s.TypeIndex
			s.Offset += n
			s.Processed += n
			s.inFlight = 0
			if len(acked.Ack.Failures) > 0 {
				s.Failures = append(append([]ItemFailure(nil), s.Failures...), acked.Ack.Failures...)
			}
			return s.next()
		}
	case ClosingDocument:
		switch ev := e.(type) {
		case DocumentClosed:
			if !s.documentClosed {
				s.documentClosed = true
				if ev.Artifact != "" {
					s.Artifact = ev.Artifact
				}
				return s.issue(FetchLink{Artifact: s.Artifact})
			}
		case LinkReceived:
			if s.documentClosed {
				s.Link = ev.Link.DownloadLink
				if ev.Link.Artifact != "" {
					s.Artifact = ev.Link.Artifact
				}
				s.State = Finished
				return s.issue(Done{})
			}
		}
	case Finished:
		return s, Done{}
	case Failed:
		return s, Abort{Err: s.Err}
	}
	return s.fail(errors.Wrapf(ErrUnexpectedEvent, "%T in state %s", e, s.State))
}

//next dispatches the slice at the current position, skipping exhausted types.
func (s Session) next() (Session, Effect) {
	for s.TypeIndex < len(s.Types) && s.Offset >= len(s.Objects[s.Types[s.TypeIndex]]) {
		s.TypeIndex++
		s.Offset = 0
	}

	if s.TypeIndex >= len(s.Types) {
		if s.Direction == Export {
			s.State = ClosingDocument
			return s.issue(CloseDocument{Packet: ClosePacket{PreviousType: s.previousType(), Artifact: s.Artifact}})
		}
		s.State = Finished
		return s.issue(Done{})
	}

	ids := s.Objects[s.Types[s.TypeIndex]]
	end := s.Offset + s.ChunkSize
	if end > len(ids) {
		end = len(ids)
	}
	slice := append([]int64(nil), ids[s.Offset:end]...)
	s.inFlight = len(slice)

	if s.Direction == Import {
		return s.issue(SendImportSlice{Packet: ImportPacket{
			Type:            s.Types[s.TypeIndex],
			Ids:             slice,
			Artifact:        s.Artifact,
			DefaultAuthorId: s.DefaultAuthorId,
		}})
	}
	return s.issue(SendExportSlice{Packet: ExportPacket{
		Type:          s.Types[s.TypeIndex],
		PreviousType:  s.previousType(),
		Ids:           slice,
		OpenContainer: s.Offset == 0,
		Artifact:      s.Artifact,
	}})
}

func (s Session) issue(effect Effect) (Session, Effect) {
	s.Pending = effect
	return s, effect
}

func (s Session) fail(err error) (Session, Effect) {
	s.resume = s.State
	s.retry = s.Pending
	s.State = Failed
	s.Err = err
	return s.issue(Abort{Err: err})
}

//Resume puts a session failed by a retryable error back into the state it failed in,
//with the failed request pending again.
func Resume(s Session) (Session, error) {
	if s.State != Failed || !IsRetryable(s.Err) || s.resume == Idle {
		return s, ErrNotResumable
	}
	s.State = s.resume
	s.Err = nil
	s.Pending = s.retry
	return s, nil
}
