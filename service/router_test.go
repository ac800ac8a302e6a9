package service_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/service"
)

// fakeModel trains once and predicts the first feature of every row
type fakeModel struct {
	trained bool
	lastReq []byte
}

func (m *fakeModel) Train(ctx context.Context, req []byte) ([]byte, error) {
	m.trained = true
	m.lastReq = req

	n := len(gjson.GetBytes(req, "features").Array())
	return []byte(fmt.Sprintf(`{"accuracy":1.0,"n_samples":%d}`, n)), nil
}

func (m *fakeModel) Predict(ctx context.Context, req []byte) ([]byte, error) {
	if !m.trained {
		return []byte(`{"status":"error","message":"Model not trained or invalid action"}`), nil
	}

	return []byte(`{"predictions":[0,1]}`), nil
}

type fakeTabular struct{}

func (fakeTabular) ProcessCSV(ctx context.Context, req []byte) ([]byte, error) {
	return nil, errors.New("File not found")
}

func (fakeTabular) FilterData(ctx context.Context, req []byte) ([]byte, error) {
	return []byte(`{"data":[],"filtered_rows":0}`), nil
}

var _ = Describe("Router", func() {
	var (
		ctx    context.Context
		router *service.Router
		model  *fakeModel
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = &fakeModel{}

		router = service.NewRouter(nil)
		service.RegisterModel(router, model)
		service.RegisterTabular(router, fakeTabular{})
		service.RegisterStatistics(router, service.BasicStats{})
	})

	call := func(body string) (string, error) {
		resp, err := router.Handle(ctx, protocol.Text(body))
		if err != nil {
			return "", err
		}
		return string(resp.Payload), nil
	}

	It("lists its actions", func() {
		Expect(router.Actions()).To(Equal([]string{"describe", "filter_data", "predict", "process_csv", "train"}))
	})

	It("passes the request through verbatim and marks results successful", func() {
		resp, err := call(`{"action":"train","features":[[1,2],[3,4]],"labels":[0,1]}`)
		Expect(err).To(Succeed())
		Expect(resp).To(MatchJSON(`{"status":"success","accuracy":1.0,"n_samples":2}`))
		Expect(model.lastReq).To(MatchJSON(`{"action":"train","features":[[1,2],[3,4]],"labels":[0,1]}`))

		var keys []string
		gjson.Parse(resp).ForEach(func(key, _ gjson.Result) bool {
			keys = append(keys, key.String())
			return true
		})
		Expect(keys).To(Equal([]string{"status", "accuracy", "n_samples"}))
	})

	It("keeps a status the collaborator set itself", func() {
		resp, err := call(`{"action":"predict","features":[[1,2]]}`)
		Expect(err).To(Succeed())

		err = protocol.CheckResponse([]byte(resp))
		Expect(err).To(MatchError(&protocol.RemoteError{Message: "Model not trained or invalid action"}))
	})

	It("accepts document frames", func() {
		body, err := protocol.NewRequest("filter_data", protocol.F("filepath", "data.csv"))
		Expect(err).To(Succeed())

		resp, err := router.Handle(ctx, protocol.Document(body))
		Expect(err).To(Succeed())
		Expect(resp.Payload).To(MatchJSON(`{"status":"success","data":[],"filtered_rows":0}`))
	})

	It("routes describe requests to the statistics engine", func() {
		resp, err := call(`{"action":"describe","values":[1,2,3,4,5]}`)
		Expect(err).To(Succeed())
		Expect(gjson.Get(resp, "mean").Float()).To(Equal(3.0))
		Expect(gjson.Get(resp, "length").Int()).To(BeEquivalentTo(5))
	})

	It("fails on collaborator errors", func() {
		_, err := call(`{"action":"process_csv","filepath":"missing.csv"}`)
		Expect(err).To(MatchError("File not found"))
	})

	It("fails on unknown actions", func() {
		_, err := call(`{"action":"explode"}`)
		Expect(err).To(MatchError(ContainSubstring("invalid action")))
	})

	It("fails on requests without an action", func() {
		_, err := call(`{"features":[]}`)
		Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())

		_, err = router.Handle(ctx, protocol.Numeric([]float64{1}))
		Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
	})

	It("fails on malformed describe requests", func() {
		_, err := call(`{"action":"describe","values":["a"]}`)
		Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
	})
})
