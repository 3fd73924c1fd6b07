package driver

import "kbmigrate/server/objects"

//Event is something that happened to a session: the start signal or a server response.
type Event interface {
	event()
}

type Start struct{}

type CatalogReceived struct {
	Objects  objects.ObjectSet
	Artifact string
}

type SliceAcked struct {
	Ack Ack
}

type DocumentClosed struct {
	Artifact string
}

type LinkReceived struct {
	Link Link
}

type RequestFailed struct {
	Err error
}

func (Start) event()           {}
func (CatalogReceived) event() {}
func (SliceAcked) event()      {}
func (DocumentClosed) event()  {}
func (LinkReceived) event()    {}
func (RequestFailed) event()   {}

//Effect is the next thing the session needs done.
type Effect interface {
	effect()
}

type FetchExportCatalog struct{}

type FetchImportCatalog struct {
	Artifact string
}

type SendExportSlice struct {
	Packet ExportPacket
}

type SendImportSlice struct {
	Packet ImportPacket
}

type CloseDocument struct {
	Packet ClosePacket
}

type FetchLink struct {
	Artifact string
}

//Done is returned once the session finished.
type Done struct{}

//Abort is returned once the session failed.
type Abort struct {
	Err error
}

func (FetchExportCatalog) effect() {}
func (FetchImportCatalog) effect() {}
func (SendExportSlice) effect()    {}
func (SendImportSlice) effect()    {}
func (CloseDocument) effect()      {}
func (FetchLink) effect()          {}
func (Done) effect()               {}
func (Abort) effect()              {}
