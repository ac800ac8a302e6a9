package service_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/service"
	"github.com/luma/numlink/transport"
)

var _ = Describe("Standardize()", func() {
	It("scales to zero mean and unit variance", func() {
		scaled := service.Standardize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
		Expect(scaled).To(HaveLen(8))
		Expect(scaled[0]).To(BeNumerically("~", -1.5, 1e-12))
		Expect(scaled[7]).To(BeNumerically("~", 2.0, 1e-12))
	})

	It("scales constant arrays to zeros", func() {
		Expect(service.Standardize([]float64{3, 3, 3})).To(Equal([]float64{0, 0, 0}))
	})
})

var _ = Describe("StandardizeHandler()", func() {
	var h transport.Handler

	BeforeEach(func() {
		h = service.StandardizeHandler()
	})

	It("does not answer arrays of one value", func() {
		resp, err := h.Handle(context.Background(), protocol.Numeric([]float64{1}))
		Expect(err).To(Succeed())
		Expect(resp.Empty()).To(BeTrue())
	})

	It("reports the scaled data and its moments", func() {
		resp, err := h.Handle(context.Background(), protocol.Numeric([]float64{2, 4, 4, 4, 5, 5, 7, 9}))
		Expect(err).To(Succeed())

		doc := gjson.ParseBytes(resp.Payload)
		Expect(doc.Get("scaled_data").Array()).To(HaveLen(8))
		Expect(doc.Get("original_mean").Float()).To(Equal(5.0))
		Expect(doc.Get("original_std").Float()).To(Equal(2.0))
		Expect(doc.Get("scaled_mean").Float()).To(BeNumerically("~", 0, 1e-12))
		Expect(doc.Get("scaled_std").Float()).To(BeNumerically("~", 1, 1e-12))
		Expect(doc.Get("n_points").Int()).To(BeEquivalentTo(8))
	})

	It("runs over a pair session until the shutdown byte", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		dir, err := os.MkdirTemp("", "numlink")
		Expect(err).To(Succeed())
		defer os.RemoveAll(dir)

		addr := "ipc://" + filepath.Join(dir, "pipeline")

		server, err := transport.Open(ctx, transport.PairPeer, addr, transport.Listen, transport.Options{
			Inbound:  protocol.KindNumeric,
			Sentinel: protocol.PairShutdown,
		})
		Expect(err).To(Succeed())
		defer server.Close()

		served := make(chan error, 1)
		go func() {
			served <- transport.Serve(context.Background(), server, h)
		}()

		peer, err := transport.Open(ctx, transport.PairPeer, addr, transport.Dial, transport.Options{})
		Expect(err).To(Succeed())
		defer peer.Close()

		Expect(peer.Send(ctx, protocol.Numeric([]float64{1}))).To(Succeed())
		Expect(peer.Send(ctx, protocol.Numeric([]float64{1, 3}))).To(Succeed())

		resp, err := peer.Receive(ctx)
		Expect(err).To(Succeed())
		Expect(gjson.Get(resp.Text, "n_points").Int()).To(BeEquivalentTo(2))

		Expect(peer.Send(ctx, protocol.PairShutdown.Frame())).To(Succeed())
		Eventually(served, "2s").Should(Receive(BeNil()))
	})
})
