package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gomock "go.uber.org/mock/gomock"

	"github.com/pvbeek/componentnetwork/codec"
	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/ingress"
	"github.com/pvbeek/componentnetwork/logging"
	"github.com/pvbeek/componentnetwork/network"
)

func hasSuffix(suffix string) gomock.Matcher {
	return gomock.Cond(func(line string) bool {
		return strings.HasSuffix(line, suffix)
	})
}

var _ = Describe("Builders", func() {
	conn := network.MakeQueueBuilder().Build("X")

	It("should require the mandatory connections", func() {
		_, err := MakeSourceBuilder().Build("Source", SourceConnections{})
		Expect(err).To(MatchError(cnerrors.ErrMissingConnection))

		_, err = MakeRelayBuilder().Build("Relay", RelayConnections{Forward: conn})
		Expect(err).To(MatchError(cnerrors.ErrMissingConnection))

		_, err = MakeTerminalBuilder().Build("Terminal", TerminalConnections{Feedback: conn})
		Expect(err).To(MatchError(cnerrors.ErrMissingConnection))

		_, err = MakeEchoBuilder().Build("Web", EchoConnections{Log: conn})
		Expect(err).To(MatchError(cnerrors.ErrMissingConnection))
	})

	It("should reject a non-positive interval", func() {
		_, err := MakeSourceBuilder().WithInterval(0).
			Build("Source", SourceConnections{Out: conn})

		Expect(err).To(MatchError(cnerrors.ErrInvalidConfig))
	})

	It("should only run a verifier when feedback is bound", func() {
		s, err := MakeSourceBuilder().Build("Source", SourceConnections{Out: conn})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.TaskNames()).To(Equal([]string{"producer"}))

		s, err = MakeSourceBuilder().Build("Source",
			SourceConnections{Out: conn, Feedback: conn})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.TaskNames()).To(Equal([]string{"producer", "verifier"}))
	})

	It("should default the interval to three seconds", func() {
		Expect(MakeSourceBuilder().interval).To(Equal(3 * time.Second))
	})
})

var _ = Describe("Source", func() {
	var (
		out      *network.QueueConnection
		feedback *network.QueueConnection
		source   *Source
	)

	BeforeEach(func() {
		out = network.MakeQueueBuilder().WithBidirectional(false).
			WithContract(codec.Message{}).Build("AB")
		feedback = network.MakeQueueBuilder().WithBidirectional(false).
			WithContract(codec.Message{}).Build("CA")
	})

	AfterEach(func() {
		if source != nil {
			_ = source.Stop()
		}
	})

	It("should serialize values with the out contract", func() {
		var err error
		source, err = MakeSourceBuilder().WithInterval(time.Millisecond).WithLimit(2).
			Build("Source", SourceConnections{Out: out})
		Expect(err).NotTo(HaveOccurred())

		Expect(source.Start(context.Background())).To(Succeed())

		Eventually(source.Sent).Should(Equal(2))
		Eventually(func() int { r, _ := out.QueueDepth(); return r }).Should(Equal(2))

		ctx := context.Background()
		var got []string
		done := make(chan struct{})
		go func() {
			_ = out.Listen(ctx, func(_ context.Context, p string) (string, error) {
				got = append(got, p)
				if len(got) == 2 {
					close(done)
				}
				return "", nil
			})
		}()
		Eventually(done).Should(BeClosed())
		out.StopListening()
		Expect(got).To(Equal([]string{"Message 1", "Message 2"}))
	})

	It("should send plain decimals without a contract", func() {
		plain := network.MakeQueueBuilder().WithBidirectional(false).Build("AB")
		var err error
		source, err = MakeSourceBuilder().WithLimit(1).
			Build("Source", SourceConnections{Out: plain})
		Expect(err).NotTo(HaveOccurred())
		Expect(source.Start(context.Background())).To(Succeed())

		Eventually(source.Sent).Should(Equal(1))
		Eventually(func() int { r, _ := plain.QueueDepth(); return r }).Should(Equal(1))
	})

	It("should grow the pending set by one per send while feedback stalls", func() {
		var err error
		source, err = MakeSourceBuilder().WithInterval(time.Millisecond).WithLimit(50).
			Build("Source", SourceConnections{Out: out})
		Expect(err).NotTo(HaveOccurred())

		Expect(source.Start(context.Background())).To(Succeed())

		Eventually(source.Sent).Should(Equal(50))
		Expect(source.Pending().Len()).To(Equal(source.Sent()))
		requests, _ := out.QueueDepth()
		Expect(requests).To(Equal(50))
	})

	It("should evict the oldest values beyond capacity", func() {
		var err error
		source, err = MakeSourceBuilder().WithInterval(time.Millisecond).
			WithLimit(5).WithCapacity(3).
			Build("Source", SourceConnections{Out: out})
		Expect(err).NotTo(HaveOccurred())

		Expect(source.Start(context.Background())).To(Succeed())

		Eventually(source.Sent).Should(Equal(5))
		Expect(source.Pending().Items()).To(Equal([]int{3, 4, 5}))
	})

	It("should verify a value once and report duplicates as not found", func() {
		logConn := network.MakeQueueBuilder().WithBidirectional(false).Build("Log")
		sink := logging.NewMemorySink()
		logComp, err := logging.MakeBuilder().WithSink(sink).Build("Log", logConn)
		Expect(err).NotTo(HaveOccurred())
		Expect(logComp.Start(context.Background())).To(Succeed())
		defer logComp.Stop()

		source, err = MakeSourceBuilder().WithLimit(1).
			Build("Source", SourceConnections{Out: out, Feedback: feedback, Log: logConn})
		Expect(err).NotTo(HaveOccurred())
		Expect(source.Start(context.Background())).To(Succeed())
		Eventually(source.Sent).Should(Equal(1))

		ctx := context.Background()
		_, _ = feedback.Send(ctx, "Message 1")
		_, _ = feedback.Send(ctx, "Message 1")
		_, _ = feedback.Send(ctx, "Message 9")

		Eventually(sink.Messages).Should(Equal([]string{
			"sent: 1",
			"received: 1 VERIFIED",
			"received: 1 NOT FOUND",
			"received: 9 NOT FOUND",
		}))
		Expect(source.Pending().Len()).To(Equal(0))
		Expect(sink.Lines()[1]).To(ContainSubstring("] Source::verifier - "))
	})

	It("should contain feedback that does not decode", func() {
		source, _ = MakeSourceBuilder().WithLimit(1).
			Build("Source", SourceConnections{Out: out, Feedback: feedback})

		reply, err := source.verify(context.Background(), codec.Message{}, "garbage")
		Expect(err).To(MatchError(cnerrors.ErrFormat))
		Expect(reply).To(BeEmpty())

		reply, err = source.verify(context.Background(), nil, " 12 ")
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("12"))

		_, err = source.verify(context.Background(), nil, "twelve")
		Expect(err).To(MatchError(cnerrors.ErrFormat))
	})

	It("should export the pending size", func() {
		reg := prometheus.NewRegistry()
		var err error
		source, err = MakeSourceBuilder().WithInterval(time.Millisecond).WithLimit(4).
			WithRegisterer(reg).
			Build("Source", SourceConnections{Out: out})
		Expect(err).NotTo(HaveOccurred())
		Expect(source.Start(context.Background())).To(Succeed())

		Eventually(source.Sent).Should(Equal(4))
		n, err := testutil.GatherAndCount(reg, "cnet_source_pending")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	})

	It("should stop while blocked on a bidirectional send", func() {
		bidi := network.MakeQueueBuilder().Build("AB")
		var err error
		source, err = MakeSourceBuilder().
			Build("Source", SourceConnections{Out: bidi})
		Expect(err).NotTo(HaveOccurred())
		Expect(source.Start(context.Background())).To(Succeed())
		Eventually(source.Sent).Should(Equal(1))

		stopped := make(chan error)
		go func() { stopped <- source.Stop() }()

		Eventually(stopped).Should(Receive(BeNil()))
	})
})

var _ = Describe("Relay", func() {
	var (
		mockCtrl *gomock.Controller
		forward  *MockConnection
		logConn  *MockConnection
		relay    *Relay
		ctx      context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		forward = NewMockConnection(mockCtrl)
		logConn = NewMockConnection(mockCtrl)
		in := network.MakeQueueBuilder().Build("AB")

		var err error
		relay, err = MakeRelayBuilder().Build("Relay",
			RelayConnections{In: in, Forward: forward, Log: logConn})
		Expect(err).NotTo(HaveOccurred())

		ctx = logging.WithOp(logging.WithComponent(context.Background(), "Relay"), "forwarder")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should answer with the reply of a bidirectional forward", func() {
		forward.EXPECT().Send(gomock.Any(), "Message 7").Return("ack Message 7", nil)
		forward.EXPECT().Bidirectional().Return(true)
		logConn.EXPECT().Send(gomock.Any(), hasSuffix("Relay::forwarder - received: Message 7"))
		logConn.EXPECT().Send(gomock.Any(), hasSuffix("Relay::forwarder - forwarded: Message 7"))
		logConn.EXPECT().Send(gomock.Any(), hasSuffix("Relay::forwarder - reply: ack Message 7"))

		reply, err := relay.relay(ctx, "Message 7")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("ack Message 7"))
	})

	It("should answer with the payload on a unidirectional forward", func() {
		forward.EXPECT().Send(gomock.Any(), "x").Return("x", nil)
		forward.EXPECT().Bidirectional().Return(false)
		logConn.EXPECT().Send(gomock.Any(), gomock.Any()).Times(2)

		reply, err := relay.relay(ctx, "x")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("x"))
	})

	It("should fail the invocation when forwarding fails", func() {
		forward.EXPECT().Send(gomock.Any(), "x").Return("", context.Canceled)
		logConn.EXPECT().Send(gomock.Any(), gomock.Any())

		_, err := relay.relay(ctx, "x")

		Expect(err).To(MatchError(context.Canceled))
	})

	It("should echo the payload without a forward connection", func() {
		in := network.MakeQueueBuilder().Build("AB")
		r, err := MakeRelayBuilder().Build("Relay", RelayConnections{In: in})
		Expect(err).NotTo(HaveOccurred())

		reply, err := r.relay(ctx, "alone")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("alone"))
	})
})

var _ = Describe("Terminal", func() {
	var (
		mockCtrl *gomock.Controller
		feedback *MockConnection
		terminal *Terminal
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		feedback = NewMockConnection(mockCtrl)

		var err error
		terminal, err = MakeTerminalBuilder().Build("Terminal", TerminalConnections{
			In:       network.MakeQueueBuilder().Build("BC"),
			Feedback: feedback,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should feed the payload back and acknowledge it", func() {
		feedback.EXPECT().Send(gomock.Any(), "Message 3").Return("Message 3", nil)

		reply, err := terminal.respond(context.Background(), "Message 3")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("ack Message 3"))
	})

	It("should fail the invocation when feedback fails", func() {
		feedback.EXPECT().Send(gomock.Any(), "x").Return("", errors.New("closed"))

		_, err := terminal.respond(context.Background(), "x")

		Expect(err).To(MatchError(ContainSubstring("closed")))
	})
})

var _ = Describe("Echo", func() {
	It("should echo and log the payload", func() {
		logConn := network.MakeQueueBuilder().WithBidirectional(false).Build("Log")
		sink := logging.NewMemorySink()
		logComp, err := logging.MakeBuilder().WithSink(sink).Build("Log", logConn)
		Expect(err).NotTo(HaveOccurred())
		Expect(logComp.Start(context.Background())).To(Succeed())
		defer logComp.Stop()

		web := network.MakeQueueBuilder().Build("Web")
		echo, err := MakeEchoBuilder().Build("ComponentWeb",
			EchoConnections{Web: web, Log: logConn})
		Expect(err).NotTo(HaveOccurred())
		Expect(echo.Start(context.Background())).To(Succeed())
		defer echo.Stop()

		reply, err := web.Send(context.Background(), "hello")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("hello"))
		Eventually(sink.Messages).Should(Equal([]string{
			"received from web: hello",
			"responding: hello",
		}))
	})

	It("should trace lines with its name behind an http connection", func() {
		logConn := network.MakeQueueBuilder().WithBidirectional(false).Build("Log")
		sink := logging.NewMemorySink()
		logComp, err := logging.MakeBuilder().WithSink(sink).Build("Log", logConn)
		Expect(err).NotTo(HaveOccurred())
		Expect(logComp.Start(context.Background())).To(Succeed())
		defer logComp.Stop()

		registry := ingress.NewRegistry()
		web := ingress.MakeBuilder(registry).Build("Web")
		echo, err := MakeEchoBuilder().Build("ComponentWeb",
			EchoConnections{Web: web, Log: logConn})
		Expect(err).NotTo(HaveOccurred())
		Expect(echo.Start(context.Background())).To(Succeed())
		defer echo.Stop()
		Eventually(registry.HandlerIDs).Should(HaveLen(1))

		server := ingress.NewServer(registry, ingress.ServerConfig{})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader("hello"))
		server.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Eventually(sink.Lines).Should(HaveLen(2))
		Expect(sink.Lines()[0]).To(HaveSuffix("] ComponentWeb::receiver - received from web: hello"))
		Expect(sink.Lines()[1]).To(HaveSuffix("] ComponentWeb::receiver - responding: hello"))
	})
})
