package cmd

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/storage"
	"github.com/luma/numlink/transport"
)

var (
	subscribeAddr   string
	subscribeTopics []string
)

func init() {
	flags := SubscribeCmd.PersistentFlags()

	flags.StringVarP(&subscribeAddr, "addr", "a", "tcp://127.0.0.1:5558", "The publisher's tcp:// or ipc:// address")
	flags.StringSliceVarP(&subscribeTopics, "topic", "t", []string{"temp", "press", "vib"}, "Topic prefixes to subscribe to")
}

var SubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe to a publisher and keep the latest reading per topic",
	Long: `Subscribe to a publisher and keep the latest reading per topic

The latest payload of every topic is served on GET /topics and
GET /topics/:topic of the admin endpoints. When NUMLINK_SNAPSHOT_FILE is
set the topics are restored from it on start and written back on exit.

Usage
	numlink subscribe --addr tcp://127.0.0.1:5558 --topic temp --topic vib

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop, conf, log, err := setup()
		if err != nil {
			return err
		}
		defer signalStop()

		session, err := transport.Open(ctx, transport.Subscriber, subscribeAddr, transport.Dial, transport.Options{
			MaxMessageSize: conf.MaxMessageSize,
			Subscriptions:  subscribeTopics,
			Log:            log.Named("transport"),
		})
		if err != nil {
			return err
		}
		defer session.Close()

		store := storage.NewInmemoryStore()
		defer store.Close()

		if conf.SnapshotFile != "" {
			restored, err := loadSnapshot(store, conf.SnapshotFile)
			if err != nil {
				return err
			}
			if restored {
				log.Info("Restored topics", zap.String("file", conf.SnapshotFile), zap.Strings("topics", store.Topics()))
			}

			defer func() {
				if err := saveSnapshot(store, conf.SnapshotFile); err != nil {
					log.Error("Failed to save topics", zap.String("file", conf.SnapshotFile), zap.Error(err))
				}
			}()
		}

		admin := startAdmin(conf, log, session, func(r *gin.Engine) {
			topicRoutes(r, store)
		})
		defer admin.Shutdown()

		updates := store.ListenToUpdates()
		go func() {
			for update := range updates {
				log.Info("Reading", zap.String("topic", update.Topic), zap.ByteString("payload", update.Payload))
			}
		}()

		log.Info("Subscribed", zap.String("addr", subscribeAddr), zap.Strings("topics", subscribeTopics))

		for {
			f, err := session.Receive(ctx)
			switch {
			case err == nil:

			case ctx.Err() != nil:
				log.Info("Exiting")
				return nil

			case errors.Is(err, protocol.ErrProtocol):
				log.Warn("Dropping malformed message", zap.Error(err))
				continue

			default:
				return err
			}

			if err := store.Set(ctx, f.Topic, f.Payload); err != nil {
				log.Warn("Failed to store reading", zap.String("topic", f.Topic), zap.Error(err))
			}
		}
	},
}

func topicRoutes(r *gin.Engine, store storage.Store) {
	r.GET("/topics", func(c *gin.Context) {
		backup, err := store.Backup()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", backup)
	})

	r.GET("/topics/:topic", func(c *gin.Context) {
		payload, err := store.Get(c.Request.Context(), c.Param("topic"))
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", payload)
	})
}
