package content_test

import (
	"context"
	"kbmigrate/server/content"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Memory store", func() {
	var (
		ctx   context.Context
		store *content.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = content.NewMemoryStore()
	})

	Context("users", func() {
		It("finds users by id and login", func() {
			id, err := store.InsertUser(ctx, &content.User{Login: "jdoe", Email: "jdoe@example.com"})
			Expect(err).To(BeNil())

			user, err := store.GetUserByLogin(ctx, "jdoe")
			Expect(err).To(BeNil())
			Expect(user.Id).To(Equal(id))

			user, err = store.GetUser(ctx, id)
			Expect(err).To(BeNil())
			Expect(user.Email).To(Equal("jdoe@example.com"))
		})

		It("rejects a taken login", func() {
			_, err := store.InsertUser(ctx, &content.User{Login: "jdoe"})
			Expect(err).To(BeNil())
			_, err = store.InsertUser(ctx, &content.User{Login: "jdoe"})
			Expect(err).NotTo(BeNil())
		})

		It("reports missing users as not found", func() {
			_, err := store.GetUserByLogin(ctx, "ghost")
			Expect(content.IsNotFound(err)).To(BeTrue())
		})

		It("lists only authors of published posts of the type", func() {
			alice, _ := store.InsertUser(ctx, &content.User{Login: "alice"})
			bob, _ := store.InsertUser(ctx, &content.User{Login: "bob"})
			carol, _ := store.InsertUser(ctx, &content.User{Login: "carol"})
			store.InsertPost(ctx, &content.Post{AuthorId: bob, Title: "B", Type: content.PostTypeArticle, Status: content.PostStatusPublic}, nil)
			store.InsertPost(ctx, &content.Post{AuthorId: alice, Title: "A", Type: content.PostTypeArticle, Status: content.PostStatusPublic}, nil)
			store.InsertPost(ctx, &content.Post{AuthorId: alice, Title: "A2", Type: content.PostTypeArticle, Status: content.PostStatusPublic}, nil)
			store.InsertPost(ctx, &content.Post{AuthorId: carol, Title: "C", Type: content.PostTypeArticle, Status: "draft"}, nil)

			ids, err := store.ListAuthorIds(ctx, content.PostTypeArticle)
			Expect(err).To(BeNil())
			Expect(ids).To(Equal([]int64{alice, bob}))
		})
	})

	Context("terms", func() {
		It("derives the slug from the name", func() {
			id, err := store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Getting Started!"})
			Expect(err).To(BeNil())
			term, err := store.GetTerm(ctx, content.TaxonomySection, id)
			Expect(err).To(BeNil())
			Expect(term.Slug).To(Equal("getting-started"))
		})

		It("rejects a duplicate slug within the taxonomy", func() {
			_, err := store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "Go", Slug: "go"})
			Expect(err).To(BeNil())
			_, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "Golang", Slug: "go"})
			Expect(err).NotTo(BeNil())
			_, err = store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Go", Slug: "go"})
			Expect(err).To(BeNil())
		})

		It("lists children ordered by name", func() {
			kb, _ := store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "KB"})
			zeta, _ := store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Zeta", Parent: kb})
			alpha, _ := store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "Alpha", Parent: kb})

			ids, err := store.ListChildTermIds(ctx, content.TaxonomySection, kb)
			Expect(err).To(BeNil())
			Expect(ids).To(Equal([]int64{alpha, zeta}))

			top, err := store.ListChildTermIds(ctx, content.TaxonomySection, 0)
			Expect(err).To(BeNil())
			Expect(top).To(Equal([]int64{kb}))
		})

		It("keeps term meta and drops it with the taxonomy", func() {
			id, _ := store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomySection, Name: "KB"})
			Expect(store.UpdateTermMeta(ctx, id, "icon", "bp-book")).To(Succeed())
			meta, err := store.GetTermMeta(ctx, id)
			Expect(err).To(BeNil())
			Expect(meta).To(HaveKeyWithValue("icon", "bp-book"))

			removed, err := store.DeleteTaxonomy(ctx, content.TaxonomySection)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(1))
			_, err = store.GetTermMeta(ctx, id)
			Expect(content.IsNotFound(err)).To(BeTrue())
		})
	})

	Context("posts", func() {
		It("hands out detached copies", func() {
			id, err := store.InsertPost(ctx, &content.Post{Title: "Hello", Type: content.PostTypeArticle}, content.Meta{"basepress_views": "3"})
			Expect(err).To(BeNil())

			post, _ := store.GetPost(ctx, id)
			post.Title = "changed"
			meta, _ := store.GetPostMeta(ctx, id)
			meta["basepress_views"] = "100"

			post, _ = store.GetPost(ctx, id)
			Expect(post.Title).To(Equal("Hello"))
			Expect(post.Name).To(Equal("hello"))
			meta, _ = store.GetPostMeta(ctx, id)
			Expect(meta).To(HaveKeyWithValue("basepress_views", "3"))
		})

		It("rejects an unknown author", func() {
			_, err := store.InsertPost(ctx, &content.Post{AuthorId: 42, Title: "Hello", Type: content.PostTypeArticle}, nil)
			Expect(content.IsNotFound(err)).To(BeTrue())
		})

		It("sets terms by slug ignoring unknown slugs", func() {
			store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "Go"})
			store.InsertTerm(ctx, &content.Term{Taxonomy: content.TaxonomyTag, Name: "Rust"})
			id, _ := store.InsertPost(ctx, &content.Post{Title: "Hello", Type: content.PostTypeArticle}, nil)

			Expect(store.SetPostTerms(ctx, id, content.TaxonomyTag, []string{"go", "missing"})).To(Succeed())
			terms, err := store.GetPostTerms(ctx, id, content.TaxonomyTag)
			Expect(err).To(BeNil())
			Expect(terms).To(HaveLen(1))
			Expect(terms[0].Slug).To(Equal("go"))

			Expect(store.SetPostTerms(ctx, id, content.TaxonomyTag, []string{"rust"})).To(Succeed())
			terms, _ = store.GetPostTerms(ctx, id, content.TaxonomyTag)
			Expect(terms).To(HaveLen(1))
			Expect(terms[0].Slug).To(Equal("rust"))
		})

		It("deletes posts by type", func() {
			store.InsertPost(ctx, &content.Post{Title: "A", Type: content.PostTypeArticle}, nil)
			store.InsertPost(ctx, &content.Post{Title: "B", Type: content.PostTypeArticle}, nil)
			page, _ := store.InsertPost(ctx, &content.Post{Title: "Entry", Type: content.PostTypePage}, nil)

			removed, err := store.DeletePostsByType(ctx, content.PostTypeArticle)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(2))
			ids, _ := store.ListPostIds(ctx, content.PostTypePage)
			Expect(ids).To(Equal([]int64{page}))
		})
	})

	Context("options", func() {
		It("updates and deletes options", func() {
			_, ok, _ := store.GetOption(ctx, "basepress_settings")
			Expect(ok).To(BeFalse())

			Expect(store.UpdateOption(ctx, "basepress_settings", "{}")).To(Succeed())
			value, ok, _ := store.GetOption(ctx, "basepress_settings")
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal("{}"))

			Expect(store.DeleteOption(ctx, "basepress_settings")).To(Succeed())
			_, ok, _ = store.GetOption(ctx, "basepress_settings")
			Expect(ok).To(BeFalse())
		})
	})

	It("slugifies names", func() {
		Expect(content.Slugify("  Hello, World  ")).To(Equal("hello-world"))
		Expect(content.Slugify("FAQ")).To(Equal("faq"))
	})
})
