package transport_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

var _ = Describe("ParseAddress()", func() {
	It("parses tcp addresses", func() {
		addr, err := transport.ParseAddress("tcp://127.0.0.1:5555")
		Expect(err).To(Succeed())
		Expect(addr.Scheme).To(Equal(transport.SchemeTCP))
		Expect(addr.Host).To(Equal("127.0.0.1:5555"))
		Expect(addr.Network()).To(Equal("tcp"))
		Expect(addr.String()).To(Equal("tcp://127.0.0.1:5555"))
	})

	It("parses absolute ipc paths", func() {
		addr, err := transport.ParseAddress("ipc:///tmp/r_python_pipeline")
		Expect(err).To(Succeed())
		Expect(addr.Scheme).To(Equal(transport.SchemeIPC))
		Expect(addr.Host).To(Equal("/tmp/r_python_pipeline"))
		Expect(addr.Network()).To(Equal("unix"))
	})

	It("parses relative ipc paths", func() {
		addr, err := transport.ParseAddress("ipc://run/file_processor")
		Expect(err).To(Succeed())
		Expect(addr.Host).To(Equal("run/file_processor"))
	})

	It("rejects tcp addresses without a port", func() {
		_, err := transport.ParseAddress("tcp://127.0.0.1")
		Expect(errors.Is(err, protocol.ErrConnection)).To(BeTrue())
	})

	It("rejects unknown schemes", func() {
		_, err := transport.ParseAddress("udp://127.0.0.1:5555")
		Expect(errors.Is(err, protocol.ErrConnection)).To(BeTrue())
	})
})
