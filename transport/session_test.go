package transport_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

const payloadTemp = `{"timestamp":1700000000.5,"value":21.5,"sensor_type":"temperature"}`

var _ = Describe("Session", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Open()", func() {
		It("fails with a connection error when nothing is listening", func() {
			_, err := transport.Open(ctx, transport.ReqReplyClient, "tcp://127.0.0.1:1", transport.Dial, transport.Options{})
			Expect(errors.Is(err, protocol.ErrConnection)).To(BeTrue())
		})

		It("fails with a connection error when the peer speaks another pattern", func() {
			pub := listen(transport.Publisher, transport.Options{})
			defer pub.Close()

			_, err := transport.Open(ctx, transport.ReqReplyClient, pub.LocalAddress(), transport.Dial, transport.Options{})
			Expect(errors.Is(err, protocol.ErrConnection)).To(BeTrue())
		})

		It("listens with SO_REUSEPORT", func() {
			rep := listen(transport.ReqReplyServer, transport.Options{Reuseport: true})
			defer rep.Close()

			Expect(rep.State()).To(Equal(transport.StateOpen))
		})
	})

	Describe("Close()", func() {
		It("unblocks Receive with ErrClosed", func() {
			rep := listen(transport.ReqReplyServer, transport.Options{})

			errs := make(chan error, 1)
			go func() {
				_, err := rep.Receive(context.Background())
				errs <- err
			}()

			Expect(rep.Close()).To(Succeed())

			var err error
			Eventually(errs, "2s").Should(Receive(&err))
			Expect(errors.Is(err, protocol.ErrClosed)).To(BeTrue())
		})

		It("is idempotent", func() {
			rep := listen(transport.ReqReplyServer, transport.Options{})

			Expect(rep.Close()).To(Succeed())
			Expect(func() { rep.Close() }).NotTo(Panic())
			Expect(rep.State()).To(Equal(transport.StateClosed))
		})

		It("rejects sends after close", func() {
			pub := listen(transport.Publisher, transport.Options{})
			Expect(pub.Close()).To(Succeed())

			err := pub.Send(ctx, protocol.TopicMessage("temp", []byte(payloadTemp)))
			Expect(errors.Is(err, protocol.ErrClosed)).To(BeTrue())
		})
	})

	Describe("request-reply", func() {
		var rep, req *transport.Session

		BeforeEach(func() {
			rep = listen(transport.ReqReplyServer, transport.Options{Inbound: protocol.KindNumeric})
			req = dial(transport.ReqReplyClient, rep.LocalAddress(), transport.Options{})
		})

		AfterEach(func() {
			req.Close()
			rep.Close()
		})

		It("carries a numeric request and a JSON reply", func() {
			Expect(req.Send(ctx, protocol.Numeric([]float64{1, 2, 3}))).To(Succeed())

			got, err := rep.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got).To(Equal(protocol.Numeric([]float64{1, 2, 3})))

			Expect(rep.Send(ctx, protocol.Document([]byte(`{"length":3}`)))).To(Succeed())

			resp, err := req.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(resp.Kind).To(Equal(protocol.KindText))
			Expect(resp.Text).To(MatchJSON(`{"length":3}`))
		})

		It("alternates strictly on the client", func() {
			Expect(req.Send(ctx, protocol.Numeric([]float64{1}))).To(Succeed())

			err := req.Send(ctx, protocol.Numeric([]float64{2}))
			Expect(errors.Is(err, protocol.ErrBusy)).To(BeTrue())
		})

		It("refuses to receive without a request in flight", func() {
			_, err := req.Receive(ctx)
			Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
		})

		It("refuses to reply without a request", func() {
			err := rep.Send(ctx, protocol.Document([]byte(`{}`)))
			Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
		})

		It("reports an io error when the server goes away mid request", func() {
			Expect(req.Send(ctx, protocol.Numeric([]float64{1}))).To(Succeed())
			Eventually(rep.Peers, "2s").Should(Equal(1))

			Expect(rep.Close()).To(Succeed())

			_, err := req.Receive(ctx)
			Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())
		})

		It("times out a receive through its context", func() {
			Expect(req.Send(ctx, protocol.Numeric([]float64{1}))).To(Succeed())

			short, stop := context.WithTimeout(ctx, 100*time.Millisecond)
			defer stop()

			_, err := req.Receive(short)
			Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})

		It("accepts a new request after a receive timed out and drops the late reply", func() {
			Expect(req.Send(ctx, protocol.Numeric([]float64{1}))).To(Succeed())

			short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
			defer stop()

			_, err := req.Receive(short)
			Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())

			got, err := rep.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got.Values).To(Equal([]float64{1}))
			Expect(rep.Send(ctx, protocol.Document([]byte(`{"n":1}`)))).To(Succeed())

			Expect(req.Send(ctx, protocol.Numeric([]float64{2}))).To(Succeed())

			got, err = rep.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got.Values).To(Equal([]float64{2}))
			Expect(rep.Send(ctx, protocol.Document([]byte(`{"n":2}`)))).To(Succeed())

			resp, err := req.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(resp.Text).To(MatchJSON(`{"n":2}`))
		})
	})

	Describe("message size limit", func() {
		It("drops peers that send oversized messages", func() {
			rep := listen(transport.ReqReplyServer, transport.Options{MaxMessageSize: 16})
			defer rep.Close()

			req := dial(transport.ReqReplyClient, rep.LocalAddress(), transport.Options{})
			defer req.Close()

			Expect(req.Send(ctx, protocol.Numeric(make([]float64, 8)))).To(Succeed())

			_, err := req.Receive(ctx)
			Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())
		})
	})

	Describe("publish-subscribe", func() {
		var pub, subTemp, subVib *transport.Session

		BeforeEach(func() {
			pub = listen(transport.Publisher, transport.Options{})
			subTemp = dial(transport.Subscriber, pub.LocalAddress(), transport.Options{Subscriptions: []string{"temp"}})
			subVib = dial(transport.Subscriber, pub.LocalAddress(), transport.Options{Subscriptions: []string{"vib"}})

			Eventually(pub.Peers, "2s").Should(Equal(2))
		})

		AfterEach(func() {
			subTemp.Close()
			subVib.Close()
			pub.Close()
		})

		It("delivers to matching subscribers only", func() {
			Expect(pub.Send(ctx, protocol.TopicMessage("temp", []byte(payloadTemp)))).To(Succeed())

			got, err := subTemp.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got.Kind).To(Equal(protocol.KindTopic))
			Expect(got.Topic).To(Equal("temp"))
			Expect(got.Payload).To(MatchJSON(payloadTemp))

			short, stop := context.WithTimeout(ctx, 300*time.Millisecond)
			defer stop()

			_, err = subVib.Receive(short)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})

		It("picks up new subscriptions", func() {
			Expect(subVib.Subscribe("press")).To(Succeed())
			Expect(pub.Send(ctx, protocol.TopicMessage("press", []byte(`{"value":1013.2}`)))).To(Succeed())

			got, err := subVib.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got.Topic).To(Equal("press"))
		})

		It("stops delivering after unsubscribing", func() {
			Expect(subTemp.Unsubscribe("temp")).To(Succeed())
			Expect(pub.Send(ctx, protocol.TopicMessage("temp", []byte(payloadTemp)))).To(Succeed())

			short, stop := context.WithTimeout(ctx, 300*time.Millisecond)
			defer stop()

			_, err := subTemp.Receive(short)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})

		It("enforces the direction of the pattern", func() {
			err := subTemp.Send(ctx, protocol.TopicMessage("temp", []byte(`{}`)))
			Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())

			_, err = pub.Receive(ctx)
			Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())

			Expect(errors.Is(pub.Subscribe("temp"), protocol.ErrProtocol)).To(BeTrue())
		})
	})

	Describe("pair over ipc", func() {
		var (
			dir  string
			a, b *transport.Session
		)

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "numlink")
			Expect(err).To(Succeed())

			addr := "ipc://" + filepath.Join(dir, "pair.sock")

			a, err = transport.Open(ctx, transport.PairPeer, addr, transport.Listen, transport.Options{
				Inbound:  protocol.KindNumeric,
				Sentinel: protocol.PairShutdown,
				Log:      zap.NewNop(),
			})
			Expect(err).To(Succeed())

			b = dial(transport.PairPeer, addr, transport.Options{})
			Eventually(a.Peers, "2s").Should(Equal(1))
		})

		AfterEach(func() {
			b.Close()
			a.Close()
			os.RemoveAll(dir)
		})

		It("sends in both directions without alternating", func() {
			Expect(b.Send(ctx, protocol.Numeric([]float64{1, 2}))).To(Succeed())
			Expect(b.Send(ctx, protocol.Numeric([]float64{3}))).To(Succeed())

			got, err := a.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got.Values).To(Equal([]float64{1, 2}))

			got, err = a.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got.Values).To(Equal([]float64{3}))

			Expect(a.Send(ctx, protocol.Text("done"))).To(Succeed())
			Expect(a.Send(ctx, protocol.Text("again"))).To(Succeed())

			resp, err := b.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(resp.Text).To(Equal("done"))
		})

		It("recognises the shutdown byte before decoding", func() {
			Expect(b.Send(ctx, protocol.PairShutdown.Frame())).To(Succeed())

			got, err := a.Receive(ctx)
			Expect(err).To(Succeed())
			Expect(got.IsShutdown()).To(BeTrue())
		})

		It("turns away a second peer", func() {
			c := dial(transport.PairPeer, a.LocalAddress(), transport.Options{})
			defer c.Close()

			_, err := c.Receive(ctx)
			Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())
			Expect(a.Peers()).To(Equal(1))
		})
	})
})

func listen(pattern transport.Pattern, opts transport.Options) *transport.Session {
	s, err := transport.Open(context.Background(), pattern, "tcp://127.0.0.1:0", transport.Listen, opts)
	Expect(err).To(Succeed())
	return s
}

func dial(pattern transport.Pattern, addr string, opts transport.Options) *transport.Session {
	s, err := transport.Open(context.Background(), pattern, addr, transport.Dial, opts)
	Expect(err).To(Succeed())
	return s
}
