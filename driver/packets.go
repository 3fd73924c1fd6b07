package driver

import (
	"context"
	"kbmigrate/server/objects"
)

//ExportPacket asks the server to append one slice of one type to the export document.
//PreviousType is the type of the last dispatched slice, invalid for the first one.
type ExportPacket struct {
	Type          objects.ObjectType `json:"type"`
	PreviousType  objects.ObjectType `json:"previous_type,omitempty"`
	Ids           []int64            `json:"ids"`
	OpenContainer bool               `json:"open_container"`
	Artifact      string             `json:"artifact"`
}

type ImportPacket struct {
	Type            objects.ObjectType `json:"type"`
	Ids             []int64            `json:"ids"`
	Artifact        string             `json:"artifact"`
	DefaultAuthorId int64              `json:"default_author_id"`
}

type ClosePacket struct {
	PreviousType objects.ObjectType `json:"previous_type,omitempty"`
	Artifact     string             `json:"artifact"`
}

type ItemFailure struct {
	Id     int64  `json:"id"`
	Reason string `json:"reason"`
}

//Ack acknowledges one slice. ItemsReturned is what the offsets advance by.
type Ack struct {
	ItemsReturned int           `json:"items_returned"`
	Failures      []ItemFailure `json:"failures,omitempty"`
}

type Catalog struct {
	Objects  objects.ObjectSet `json:"objects"`
	Artifact string            `json:"artifact,omitempty"`
}

type Link struct {
	DownloadLink string `json:"download_link"`
	Artifact     string `json:"artifact"`
}

//Transport performs the control calls of a transfer, one at a time.
//Failures reported by the server come back as *errors.ServerError.
type Transport interface {
	ListExportCatalog(ctx context.Context) (*Catalog, error)
	ExportSlice(ctx context.Context, packet *ExportPacket) (*Ack, error)
	CloseExportDocument(ctx context.Context, packet *ClosePacket) (string, error)
	ArtifactLink(ctx context.Context, artifact string) (*Link, error)
	ListImportCatalog(ctx context.Context, artifact string) (objects.ObjectSet, error)
	ImportSlice(ctx context.Context, packet *ImportPacket) (*Ack, error)
}
