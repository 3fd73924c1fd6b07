package driver_test

import (
	"kbmigrate/driver"
	"kbmigrate/server/objects"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func ids(from int64, to int64) []int64 {
	var result []int64
	for id := from; id <= to; id++ {
		result = append(result, id)
	}
	return result
}

//complete drives a session with full acknowledgements and returns every effect issued.
func complete(s driver.Session, set objects.ObjectSet) (driver.Session, []driver.Effect) {
	var effect driver.Effect
	s, effect = driver.Step(s, driver.Start{})
	effects := []driver.Effect{effect}
	for {
		var event driver.Event
		switch e := effect.(type) {
		case driver.FetchExportCatalog:
			event = driver.CatalogReceived{Objects: set, Artifact: "out.xml"}
		case driver.FetchImportCatalog:
			event = driver.CatalogReceived{Objects: set}
		case driver.SendExportSlice:
			event = driver.SliceAcked{Ack: driver.Ack{ItemsReturned: len(e.Packet.Ids)}}
		case driver.SendImportSlice:
			event = driver.SliceAcked{Ack: driver.Ack{ItemsReturned: len(e.Packet.Ids)}}
		case driver.CloseDocument:
			event = driver.DocumentClosed{Artifact: e.Packet.Artifact}
		case driver.FetchLink:
			event = driver.LinkReceived{Link: driver.Link{DownloadLink: "http://files/" + e.Artifact, Artifact: e.Artifact}}
		default:
			return s, effects
		}
		s, effect = driver.Step(s, event)
		effects = append(effects, effect)
	}
}

func exportSlices(effects []driver.Effect) []driver.ExportPacket {
	var packets []driver.ExportPacket
	for _, effect := range effects {
		if slice, ok := effect.(driver.SendExportSlice); ok {
			packets = append(packets, slice.Packet)
		}
	}
	return packets
}

var _ = Describe("Step", func() {
	It("issues ceil(len/chunk) packets per type in catalog order", func() {
		set := objects.ObjectSet{objects.Posts: ids(1, 7), objects.KBs: ids(1, 5), objects.Settings: {objects.SingletonId}}

		s, effects := complete(driver.NewExportSession(3), set)

		Expect(s.State).To(Equal(driver.Finished))
		packets := exportSlices(effects)
		var types []objects.ObjectType
		var sizes []int
		for _, packet := range packets {
			types = append(types, packet.Type)
			sizes = append(sizes, len(packet.Ids))
		}
		Expect(types).To(Equal([]objects.ObjectType{objects.KBs, objects.KBs, objects.Posts, objects.Posts, objects.Posts, objects.Settings}))
		Expect(sizes).To(Equal([]int{3, 2, 3, 3, 1, 1}))
		Expect(s.Processed).To(Equal(13))
		Expect(s.Total).To(Equal(13))
		Expect(s.Link).To(Equal("http://files/out.xml"))
	})

	It("marks container boundaries exactly once", func() {
		set := objects.ObjectSet{objects.KBs: ids(1, 2), objects.Sections: ids(3, 5)}

		_, effects := complete(driver.NewExportSession(2), set)

		Expect(exportSlices(effects)).To(Equal([]driver.ExportPacket{
			{Type: objects.KBs, Ids: []int64{1, 2}, OpenContainer: true, Artifact: "out.xml"},
			{Type: objects.Sections, PreviousType: objects.KBs, Ids: []int64{3, 4}, OpenContainer: true, Artifact: "out.xml"},
			{Type: objects.Sections, PreviousType: objects.Sections, Ids: []int64{5}, OpenContainer: false, Artifact: "out.xml"},
		}))
		closing := effects[len(effects)-3].(driver.CloseDocument)
		Expect(closing.Packet).To(Equal(driver.ClosePacket{PreviousType: objects.Sections, Artifact: "out.xml"}))
	})

	It("never dispatches types absent from the catalog", func() {
		set := objects.ObjectSet{objects.KBs: ids(1, 1), objects.Posts: ids(1, 2)}

		_, effects := complete(driver.NewExportSession(25), set)

		for _, packet := range exportSlices(effects) {
			Expect(packet.Type).NotTo(Equal(objects.Tags))
		}
	})

	It("closes an empty export right away", func() {
		s, effects := complete(driver.NewExportSession(25), objects.ObjectSet{})

		Expect(s.State).To(Equal(driver.Finished))
		Expect(effects[1]).To(Equal(driver.CloseDocument{Packet: driver.ClosePacket{Artifact: "out.xml"}}))
	})

	It("finishes an import without closing any document", func() {
		set := objects.ObjectSet{objects.Sections: ids(1, 4)}

		s, effects := complete(driver.NewImportSession("in.xml", 3, 9), set)

		Expect(s.State).To(Equal(driver.Finished))
		Expect(effects[0]).To(Equal(driver.FetchImportCatalog{Artifact: "in.xml"}))
		Expect(effects[1]).To(Equal(driver.SendImportSlice{Packet: driver.ImportPacket{Type: objects.Sections, Ids: []int64{1, 2, 3}, Artifact: "in.xml", DefaultAuthorId: 9}}))
		Expect(effects[len(effects)-1]).To(Equal(driver.Done{}))
		for _, effect := range effects {
			Expect(effect).NotTo(BeAssignableToTypeOf(driver.CloseDocument{}))
		}
	})

	It("advances by the acknowledged count and keeps failures", func() {
		s, _ := driver.Step(driver.NewImportSession("in.xml", 5, 1), driver.Start{})
		s, _ = driver.Step(s, driver.CatalogReceived{Objects: objects.ObjectSet{objects.Posts: ids(1, 7)}})

		s, effect := driver.Step(s, driver.SliceAcked{Ack: driver.Ack{ItemsReturned: 5, Failures: []driver.ItemFailure{{Id: 2, Reason: "gone"}}}})

		Expect(effect.(driver.SendImportSlice).Packet.Ids).To(Equal([]int64{6, 7}))
		Expect(s.Offset).To(Equal(5))
		Expect(s.Failures).To(HaveLen(1))
	})

	It("fails on acknowledgements that do not fit the slice", func() {
		s, _ := driver.Step(driver.NewExportSession(2), driver.Start{})
		s, _ = driver.Step(s, driver.CatalogReceived{Objects: objects.ObjectSet{objects.Tags: ids(1, 3)}, Artifact: "out.xml"})

		zero, effect := driver.Step(s, driver.SliceAcked{Ack: driver.Ack{ItemsReturned: 0}})
		Expect(zero.State).To(Equal(driver.Failed))
		Expect(errors.Cause(effect.(driver.Abort).Err)).To(Equal(driver.ErrProtocol))

		tooMany, _ := driver.Step(s, driver.SliceAcked{Ack: driver.Ack{ItemsReturned: 3}})
		Expect(tooMany.State).To(Equal(driver.Failed))
		Expect(s.State).To(Equal(driver.ProcessingItem))
	})

	It("stops at a failed catalog request", func() {
		s, _ := driver.Step(driver.NewExportSession(2), driver.Start{})
		cause := errors.New("The export file could not be created")

		s, effect := driver.Step(s, driver.RequestFailed{Err: cause})
		Expect(s.State).To(Equal(driver.Failed))
		Expect(effect).To(Equal(driver.Abort{Err: cause}))

		s, effect = driver.Step(s, driver.CatalogReceived{Objects: objects.ObjectSet{objects.KBs: ids(1, 1)}})
		Expect(s.State).To(Equal(driver.Failed))
		Expect(effect).To(Equal(driver.Abort{Err: cause}))
	})

	It("fails on events the state does not expect", func() {
		s, _ := driver.Step(driver.NewExportSession(2), driver.Start{})

		s, _ = driver.Step(s, driver.LinkReceived{})
		Expect(s.State).To(Equal(driver.Failed))
		Expect(errors.Cause(s.Err)).To(Equal(driver.ErrUnexpectedEvent))
	})

	It("resumes a session failed by a timeout with the same request", func() {
		s, _ := driver.Step(driver.NewExportSession(2), driver.Start{})
		s, sent := driver.Step(s, driver.CatalogReceived{Objects: objects.ObjectSet{objects.KBs: ids(1, 3)}, Artifact: "out.xml"})
		s, _ = driver.Step(s, driver.RequestFailed{Err: &driver.TimeoutError{Request: "export-slice"}})

		resumed, err := driver.Resume(s)
		Expect(err).To(BeNil())
		Expect(resumed.State).To(Equal(driver.ProcessingItem))
		Expect(resumed.Pending).To(Equal(sent))

		_, err = driver.Resume(resumed)
		Expect(err).To(Equal(driver.ErrNotResumable))
	})

	It("uses the default chunk size for non-positive sizes", func() {
		Expect(driver.NewExportSession(0).ChunkSize).To(Equal(driver.DefaultChunkSize))
	})
})
