package transport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
)

// Handler processes one request frame. Returning an error makes Serve reply
// with an error document, returning an empty frame means "no reply" on pair
// sessions.
type Handler interface {
	Handle(ctx context.Context, req protocol.Frame) (protocol.Frame, error)
}

type HandlerFunc func(ctx context.Context, req protocol.Frame) (protocol.Frame, error)

func (f HandlerFunc) Handle(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	return f(ctx, req)
}

// Serve runs the receive, process, send loop of a request-reply server or
// a pair peer. Processing failures never stop the loop. It returns when the
// peer sends the session's shutdown sentinel (closing the session), when the
// session is closed, when ctx is done, or on a fatal transport error.
func Serve(ctx context.Context, s *Session, h Handler) error {
	if s.pattern != ReqReplyServer && s.pattern != PairPeer {
		return fmt.Errorf("%w: cannot serve on a %s session", protocol.ErrProtocol, s.pattern)
	}

	log := s.log.Named("serve")
	log.Info("Serving")

	for {
		req, err := s.Receive(ctx)

		switch {
		case err == nil:

		case errors.Is(err, protocol.ErrClosed):
			log.Info("Session closed, exiting...")
			return nil

		case ctx.Err() != nil:
			log.Info("Context cancelled, exiting...")
			s.Close()
			return ctx.Err()

		case errors.Is(err, protocol.ErrProtocol):
			log.Warn("Failed to decode request", zap.Error(err))
			if s.pattern == ReqReplyServer {
				s.reply(ctx, log, protocol.Document(protocol.ErrorResponse(err.Error())))
			}
			continue

		default:
			log.Error("Transport failed, exiting...", zap.Error(err))
			s.Close()
			return err
		}

		if req.IsShutdown() {
			log.Info("Received shutdown sentinel, exiting...")
			return s.Close()
		}

		resp, err := handle(ctx, h, req)
		if err != nil {
			log.Warn("Failed to process request",
				zap.Stringer("request", req),
				zap.String("kind", protocol.Kind(err)),
				zap.Error(err))
			resp = protocol.Document(protocol.ErrorResponse(err.Error()))
		}

		if resp.Empty() {
			if s.pattern == PairPeer {
				continue
			}
			// every request gets exactly one reply
			resp = protocol.Document(protocol.ErrorResponse("no response produced"))
		}

		if closed := s.reply(ctx, log, resp); closed {
			return nil
		}
	}
}

// reply reports whether the session turned out to be closed.
func (s *Session) reply(ctx context.Context, log *zap.Logger, resp protocol.Frame) bool {
	err := s.Send(ctx, resp)
	if err == nil {
		return false
	}

	if errors.Is(err, protocol.ErrClosed) {
		return true
	}

	log.Warn("Failed to send response", zap.Error(err))
	return false
}

func handle(ctx context.Context, h Handler, req protocol.Frame) (resp protocol.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return h.Handle(ctx, req)
}
