package pg_test

import (
	"context"
	"kbmigrate/server/content"
	"kbmigrate/server/content/pg"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Postgres content store", func() {
	var (
		ctx   context.Context
		store *pg.Store
	)

	BeforeEach(func() {
		dsn := os.Getenv("KB_TEST_DB")
		if dsn == "" {
			Skip("KB_TEST_DB is not set")
		}
		ctx = context.Background()
		var err error
		store, err = pg.Open(ctx, dsn, "kbtest_", 5*time.Second)
		Expect(err).To(BeNil())
		Expect(store.Migrate(ctx)).To(Succeed())
		Expect(store.Truncate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	It("maps unique violations on terms to ErrTermExists", func() {
		_, err := store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "Go"})
		Expect(err).To(BeNil())
		_, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "Go"})
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring(content.ErrTermExists.Error()))
	})

	It("stores posts with meta and terms", func() {
		author, err := store.InsertUser(ctx, &content.User{Login: "alice"})
		Expect(err).To(BeNil())
		store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Basics"})

		id, err := store.InsertPost(ctx, &content.Post{
			AuthorId: author, Title: "Hello World", Type: content.PostTypeArticle, Status: content.PostStatusPublic,
		}, content.Meta{"basepress_views": "7"})
		Expect(err).To(BeNil())
		Expect(store.SetPostTerms(ctx, id, content.TaxonomySection, []string{"basics", "unknown"})).To(Succeed())

		post, err := store.GetPost(ctx, id)
		Expect(err).To(BeNil())
		Expect(post.Name).To(Equal("hello-world"))

		meta, err := store.GetPostMeta(ctx, id)
		Expect(err).To(BeNil())
		Expect(meta).To(HaveKeyWithValue("basepress_views", "7"))

		terms, err := store.GetPostTerms(ctx, id, content.TaxonomySection)
		Expect(err).To(BeNil())
		Expect(terms).To(HaveLen(1))

		authors, err := store.ListAuthorIds(ctx, content.PostTypeArticle)
		Expect(err).To(BeNil())
		Expect(authors).To(Equal([]int64{author}))
	})

	It("reports missing records as not found", func() {
		_, err := store.GetPost(ctx, 999)
		Expect(content.IsNotFound(err)).To(BeTrue())
		Expect(content.IsNotFound(store.UpdateTermMeta(ctx, 999, "icon", "x"))).To(BeTrue())
	})

	It("upserts options", func() {
		Expect(store.UpdateOption(ctx, "basepress_ver", "1")).To(Succeed())
		Expect(store.UpdateOption(ctx, "basepress_ver", "2")).To(Succeed())
		value, ok, err := store.GetOption(ctx, "basepress_ver")
		Expect(err).To(BeNil())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("2"))
	})
})
