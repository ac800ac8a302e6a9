package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/storage"
)

var _ = Describe("Snapshots", func() {
	var (
		ctx  context.Context
		dir  string
		path string
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dir, err = os.MkdirTemp("", "numlink-snapshot")
		Expect(err).To(Succeed())

		path = filepath.Join(dir, "topics.json")
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("carries topics across store restarts", func() {
		first := storage.NewInmemoryStore()
		Expect(first.Set(ctx, "temp", []byte(`{"value":21.5}`))).To(Succeed())
		Expect(first.Set(ctx, "vib", []byte(`{"value":0.1}`))).To(Succeed())
		Expect(saveSnapshot(first, path)).To(Succeed())
		Expect(first.Close()).To(Succeed())

		second := storage.NewInmemoryStore()
		defer second.Close()

		restored, err := loadSnapshot(second, path)
		Expect(err).To(Succeed())
		Expect(restored).To(BeTrue())
		Expect(second.Topics()).To(Equal([]string{"temp", "vib"}))

		payload, err := second.Get(ctx, "temp")
		Expect(err).To(Succeed())
		Expect(payload).To(MatchJSON(`{"value":21.5}`))
	})

	It("starts empty without a snapshot", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		restored, err := loadSnapshot(store, path)
		Expect(err).To(Succeed())
		Expect(restored).To(BeFalse())
		Expect(store.Topics()).To(BeEmpty())
	})

	It("rejects a snapshot that is not a JSON object", func() {
		Expect(os.WriteFile(path, []byte(`[1,2]`), 0640)).To(Succeed())

		store := storage.NewInmemoryStore()
		defer store.Close()

		_, err := loadSnapshot(store, path)
		Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
	})
})
