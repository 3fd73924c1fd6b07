package driver

import (
	"fmt"
	"kbmigrate/server/objects"

	"github.com/google/uuid"
)

const DefaultChunkSize = 25

type Direction int

const (
	Export Direction = iota + 1
	Import
)

func (d Direction) String() string {
	switch d {
	case Export:
		return "export"
	case Import:
		return "import"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

type State int

const (
	Idle State = iota
	FetchingCatalog
	ProcessingItem
	ClosingDocument
	Finished
	Failed
)

var stateNames = []string{"idle", "fetching_catalog", "processing_item", "closing_document", "finished", "failed"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) Terminal() bool {
	return s == Finished || s == Failed
}

//Session is the whole state of one transfer. It is a value: Step returns the
//next session and never changes the one it was given.
type Session struct {
	Id        string
	Direction Direction
	State     State

	Objects objects.ObjectSet
	Types   []objects.ObjectType
	//TypeIndex and Offset point at the next slice to dispatch.
	TypeIndex int
	Offset    int
	//PreviousIndex is the type index of the last dispatched slice, -1 before the first.
	PreviousIndex int

	Processed int
	Total     int
	ChunkSize int

	Artifact        string
	DefaultAuthorId int64
	Link            string

	Failures []ItemFailure
	Err      error

	//Pending is the effect in flight; re-issued when a parked session is retried.
	Pending Effect

	inFlight       int
	documentClosed bool
	resume         State
	retry          Effect
}

func newSession(direction Direction, chunkSize int) Session {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return Session{
		Id:            uuid.NewString(),
		Direction:     direction,
		State:         Idle,
		PreviousIndex: -1,
		ChunkSize:     chunkSize,
	}
}

func NewExportSession(chunkSize int) Session {
	return newSession(Export, chunkSize)
}

func NewImportSession(artifact string, chunkSize int, defaultAuthorId int64) Session {
	s := newSession(Import, chunkSize)
	s.Artifact = artifact
	s.DefaultAuthorId = defaultAuthorId
	return s
}

//CurrentType is the type of the next slice, invalid once every type is done.
func (s Session) CurrentType() objects.ObjectType {
	if s.TypeIndex < 0 || s.TypeIndex >= len(s.Types) {
		return objects.ObjectType(0)
	}
	return s.Types[s.TypeIndex]
}

func (s Session) previousType() objects.ObjectType {
	if s.PreviousIndex < 0 || s.PreviousIndex >= len(s.Types) {
		return objects.ObjectType(0)
	}
	return s.Types[s.PreviousIndex]
}
