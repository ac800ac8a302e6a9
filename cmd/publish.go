package cmd

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

var (
	publishAddr     string
	publishInterval time.Duration
)

func init() {
	flags := PublishCmd.PersistentFlags()

	flags.StringVarP(&publishAddr, "addr", "a", "tcp://127.0.0.1:5558", "The tcp:// or ipc:// address to publish on")
	flags.DurationVar(&publishInterval, "interval", 100*time.Millisecond, "Time between rounds of readings")
}

// reading is one simulated sensor sample
type reading struct {
	Timestamp  float64 `json:"timestamp"`
	Value      float64 `json:"value"`
	SensorType string  `json:"sensor_type"`
}

var PublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish simulated sensor readings",
	Long: `Publish simulated sensor readings

Temperature, pressure and vibration readings are published on the topics
temp, press and vib, one of each per interval.

Usage
	numlink publish --addr tcp://127.0.0.1:5558

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop, conf, log, err := setup()
		if err != nil {
			return err
		}
		defer signalStop()

		session, err := transport.Open(ctx, transport.Publisher, publishAddr, transport.Listen, transport.Options{
			MaxMessageSize: conf.MaxMessageSize,
			Log:            log.Named("transport"),
		})
		if err != nil {
			return err
		}
		defer session.Close()

		log.Info("Publishing", zap.String("addr", session.LocalAddress()), zap.Duration("interval", publishInterval))

		ticker := time.NewTicker(publishInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("Exiting")
				return nil

			case now := <-ticker.C:
				for _, r := range sample(now) {
					payload, err := json.Marshal(r)
					if err != nil {
						return err
					}

					topic := topicFor(r.SensorType)
					if err := session.Send(ctx, protocol.TopicMessage(topic, payload)); err != nil {
						log.Warn("Failed to publish", zap.String("topic", topic), zap.Error(err))
					}
				}
			}
		}
	},
}

func topicFor(sensorType string) string {
	switch sensorType {
	case "temperature":
		return "temp"
	case "pressure":
		return "press"
	default:
		return "vib"
	}
}

// sample produces one temperature, pressure and vibration reading.
func sample(now time.Time) []reading {
	ts := float64(now.UnixNano()) / 1e9

	temp := 20 + 10*math.Sin(ts/3600) + rand.NormFloat64()*2
	press := 1013 + 5*math.Sin(ts/7200) + rand.NormFloat64()*3

	vib := 0.1 + rand.NormFloat64()*0.02
	if rand.Float64() < 0.05 {
		vib += rand.ExpFloat64() * 0.5
	}

	return []reading{
		{Timestamp: ts, Value: round3(temp), SensorType: "temperature"},
		{Timestamp: ts, Value: round3(press), SensorType: "pressure"},
		{Timestamp: ts, Value: round3(vib), SensorType: "vibration"},
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
