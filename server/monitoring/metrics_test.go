package monitoring_test

import (
	"io/ioutil"
	"kbmigrate/server/monitoring"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Collector", func() {
	var collector *monitoring.Collector

	BeforeEach(func() {
		collector = monitoring.NewCollector()
	})

	It("counts slices, items and failures per direction and type", func() {
		collector.ObserveSlice(monitoring.DirectionExport, "posts", 25, 1, time.Now())
		collector.ObserveSlice(monitoring.DirectionExport, "posts", 7, 0, time.Now())

		body := scrape(collector)
		Expect(body).To(ContainSubstring(`kbmigrate_slices_total{direction="export",type="posts"} 2`))
		Expect(body).To(ContainSubstring(`kbmigrate_items_total{direction="export",type="posts"} 32`))
		Expect(body).To(ContainSubstring(`kbmigrate_item_failures_total{direction="export",type="posts"} 1`))
	})

	It("counts documents and purges", func() {
		collector.DocumentStage("created")
		collector.Purged()

		body := scrape(collector)
		Expect(body).To(ContainSubstring(`kbmigrate_documents_total{stage="created"} 1`))
		Expect(body).To(ContainSubstring(`kbmigrate_purges_total 1`))
	})

	It("tolerates a disabled collector", func() {
		var disabled *monitoring.Collector
		Expect(func() {
			disabled.ObserveSlice(monitoring.DirectionImport, "kbs", 1, 0, time.Now())
			disabled.Purged()
		}).NotTo(Panic())
	})
})

func scrape(collector *monitoring.Collector) string {
	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := ioutil.ReadAll(recorder.Body)
	return string(body)
}
