package transport_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

// countHandler replies with the number of values it received and fails on
// empty arrays.
var countHandler = transport.HandlerFunc(func(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	if len(req.Values) == 0 {
		return protocol.Frame{}, errors.New("no values")
	}

	if req.Values[0] == 13 {
		panic("unlucky")
	}

	return protocol.Document([]byte(fmt.Sprintf(`{"length":%d}`, len(req.Values)))), nil
})

var _ = Describe("Serve()", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		rep    *transport.Session
		req    *transport.Session
		done   chan error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		rep = listen(transport.ReqReplyServer, transport.Options{
			Inbound:  protocol.KindNumeric,
			Sentinel: protocol.NumericShutdown,
		})
		req = dial(transport.ReqReplyClient, rep.LocalAddress(), transport.Options{})

		done = make(chan error, 2)
		go func() {
			done <- transport.Serve(context.Background(), rep, countHandler)
		}()
	})

	AfterEach(func() {
		req.Close()
		rep.Close()
		cancel()
	})

	roundTrip := func(f protocol.Frame) string {
		Expect(req.Send(ctx, f)).To(Succeed())

		resp, err := req.Receive(ctx)
		Expect(err).To(Succeed())
		return resp.Text
	}

	It("answers every request", func() {
		Expect(roundTrip(protocol.Numeric([]float64{1, 2, 3}))).To(MatchJSON(`{"length":3}`))
		Expect(roundTrip(protocol.Numeric([]float64{4}))).To(MatchJSON(`{"length":1}`))
	})

	It("replies with an error document and keeps serving when processing fails", func() {
		resp := roundTrip(protocol.Numeric(nil))
		Expect(gjson.Get(resp, "status").String()).To(Equal("error"))
		Expect(gjson.Get(resp, "message").String()).To(Equal("no values"))

		Expect(roundTrip(protocol.Numeric([]float64{1, 2}))).To(MatchJSON(`{"length":2}`))
	})

	It("survives a panicking handler", func() {
		resp := roundTrip(protocol.Numeric([]float64{13}))
		Expect(errors.Is(protocol.CheckResponse([]byte(resp)), protocol.ErrRemote)).To(BeTrue())

		Expect(roundTrip(protocol.Numeric([]float64{1}))).To(MatchJSON(`{"length":1}`))
	})

	It("replies with an error document to malformed frames", func() {
		resp := roundTrip(protocol.Text("abc"))
		Expect(errors.Is(protocol.CheckResponse([]byte(resp)), protocol.ErrRemote)).To(BeTrue())

		Expect(roundTrip(protocol.Numeric([]float64{1}))).To(MatchJSON(`{"length":1}`))
	})

	It("terminates exactly once on the shutdown sentinel", func() {
		Expect(req.Send(ctx, protocol.NumericShutdown.Frame())).To(Succeed())

		Eventually(done, "2s").Should(Receive(BeNil()))
		Consistently(done, "200ms").ShouldNot(Receive())
		Eventually(rep.State, "2s").Should(Equal(transport.StateClosed))
	})

	It("treats the sentinel value inside a longer array as data", func() {
		Expect(roundTrip(protocol.Numeric([]float64{-999, 1}))).To(MatchJSON(`{"length":2}`))
		Expect(rep.State()).To(Equal(transport.StateOpen))
	})

	It("returns when the session is closed", func() {
		Expect(rep.Close()).To(Succeed())
		Eventually(done, "2s").Should(Receive(BeNil()))
	})

	It("stops and closes the session when its context is cancelled", func() {
		local := listen(transport.ReqReplyServer, transport.Options{})
		serveCtx, stop := context.WithCancel(context.Background())

		result := make(chan error, 1)
		go func() {
			result <- transport.Serve(serveCtx, local, countHandler)
		}()

		stop()

		var err error
		Eventually(result, "2s").Should(Receive(&err))
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(local.State()).To(Equal(transport.StateClosed))
	})

	It("refuses patterns that do not serve", func() {
		pub := listen(transport.Publisher, transport.Options{})
		defer pub.Close()

		err := transport.Serve(ctx, pub, countHandler)
		Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
	})
})
