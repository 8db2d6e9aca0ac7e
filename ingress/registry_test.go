package ingress

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

var _ = Describe("Registry", func() {
	var (
		registry *Registry
		ctx      context.Context
	)

	echo := func(prefix string) func(context.Context, string) (string, error) {
		return func(_ context.Context, p string) (string, error) {
			return prefix + p, nil
		}
	}

	BeforeEach(func() {
		registry = NewRegistry()
		ctx = context.Background()
	})

	It("should fail to dispatch without handlers", func() {
		_, err := registry.Dispatch(ctx, "x")

		Expect(err).To(MatchError(cnerrors.ErrNoHandler))
	})

	It("should dispatch to the first registered handler only", func() {
		registry.Register("first", echo("1:"), true)
		registry.Register("second", echo("2:"), false)

		res, err := registry.Dispatch(ctx, "x")

		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(Result{HandlerID: "first", Bidirectional: true, Reply: "1:x"}))
		Expect(registry.HandlerIDs()).To(Equal([]string{"first", "second"}))
	})

	It("should keep the position of a replaced handler", func() {
		registry.Register("a", echo("old:"), true)
		registry.Register("b", echo("b:"), true)
		registry.Register("a", echo("new:"), true)

		res, err := registry.Dispatch(ctx, "x")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reply).To(Equal("new:x"))
		Expect(registry.HandlerIDs()).To(Equal([]string{"a", "b"}))
	})

	It("should fall through to the next handler after unregistering", func() {
		unregister := registry.Register("a", echo("a:"), true)
		registry.Register("b", echo("b:"), true)

		unregister()

		res, err := registry.Dispatch(ctx, "x")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.HandlerID).To(Equal("b"))
	})

	It("should not remove a newer registration under the same id", func() {
		stale := registry.Register("a", echo("old:"), true)
		registry.Register("a", echo("new:"), true)

		stale()

		Expect(registry.HandlerIDs()).To(Equal([]string{"a"}))
	})

	It("should wrap handler errors", func() {
		registry.Register("a", func(context.Context, string) (string, error) {
			return "", errors.New("bad input")
		}, true)

		_, err := registry.Dispatch(ctx, "x")

		Expect(err).To(MatchError(cnerrors.ErrHandlerFailed))
		Expect(err).To(MatchError(ContainSubstring("bad input")))
	})

	It("should contain handler panics", func() {
		registry.Register("a", func(context.Context, string) (string, error) {
			panic("boom")
		}, true)

		_, err := registry.Dispatch(ctx, "x")

		Expect(err).To(MatchError(cnerrors.ErrHandlerFailed))
	})

	It("should bind one server per port", func() {
		s1, err := registry.Bind(0, ServerConfig{})
		Expect(err).NotTo(HaveOccurred())
		s2, err := registry.Bind(0, ServerConfig{})
		Expect(err).NotTo(HaveOccurred())

		Expect(s2).To(BeIdenticalTo(s1))
		Expect(s1.Addr()).NotTo(BeEmpty())

		Expect(registry.Close(ctx)).To(Succeed())
	})
})
