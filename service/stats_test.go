package service_test

import (
	"context"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/service"
	"github.com/luma/numlink/transport"
)

var _ = Describe("BasicStats", func() {
	It("describes an array with population statistics in a fixed order", func() {
		doc, err := service.BasicStats{}.Describe(context.Background(), []float64{1, 2, 3, 4, 5})
		Expect(err).To(Succeed())
		Expect(doc).To(MatchJSON(`{"mean":3,"std":1.4142135623730951,"min":1,"max":5,"length":5}`))

		var keys []string
		gjson.ParseBytes(doc).ForEach(func(key, _ gjson.Result) bool {
			keys = append(keys, key.String())
			return true
		})
		Expect(keys).To(Equal([]string{"mean", "std", "min", "max", "length"}))
	})

	It("refuses empty arrays", func() {
		_, err := service.BasicStats{}.Describe(context.Background(), nil)
		Expect(err).To(MatchError(service.ErrNoValues))
	})

	It("refuses values that are not finite", func() {
		_, err := service.BasicStats{}.Describe(context.Background(), []float64{1, math.Inf(1)})
		Expect(err).To(MatchError(service.ErrNotFinite))
	})
})

var _ = Describe("NumericHandler()", func() {
	It("rejects frames that are not numeric", func() {
		h := service.NumericHandler(service.BasicStats{})

		_, err := h.Handle(context.Background(), protocol.Text("1,2,3"))
		Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
	})

	It("answers the statistics example end to end", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rep, err := transport.Open(ctx, transport.ReqReplyServer, "tcp://127.0.0.1:0", transport.Listen, transport.Options{
			Inbound:  protocol.KindNumeric,
			Sentinel: protocol.NumericShutdown,
		})
		Expect(err).To(Succeed())
		defer rep.Close()

		served := make(chan error, 1)
		go func() {
			served <- transport.Serve(context.Background(), rep, service.NumericHandler(service.BasicStats{}))
		}()

		req, err := transport.Open(ctx, transport.ReqReplyClient, rep.LocalAddress(), transport.Dial, transport.Options{})
		Expect(err).To(Succeed())
		defer req.Close()

		Expect(req.Send(ctx, protocol.Numeric([]float64{1, 2, 3, 4, 5}))).To(Succeed())

		resp, err := req.Receive(ctx)
		Expect(err).To(Succeed())
		Expect(resp.Text).To(MatchJSON(`{"mean":3.0,"std":1.4142135623730951,"min":1.0,"max":5.0,"length":5}`))

		Expect(req.Send(ctx, protocol.NumericShutdown.Frame())).To(Succeed())
		Eventually(served, "2s").Should(Receive(BeNil()))
	})
})
