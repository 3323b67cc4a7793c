package rtc

import (
	"context"
	"errors"

	"github.com/meshcast/sfu/pkg/rtcerror"
	"github.com/meshcast/sfu/pkg/sfu"
)

// mapEngineError translates an sfu sentinel error into the typed protocol
// error the signaling router replies with, defaulting to engine-failure
// for anything unrecognized.
func mapEngineError(err error) *rtcerror.Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sfu.ErrAlreadyConnected):
		return rtcerror.New(rtcerror.AlreadyConnected, err.Error())
	case errors.Is(err, sfu.ErrNotConnected):
		return rtcerror.New(rtcerror.NotConnected, err.Error())
	case errors.Is(err, sfu.ErrCannotConsume):
		return rtcerror.New(rtcerror.CannotConsume, err.Error())
	case errors.Is(err, sfu.ErrUnknownTransport):
		return rtcerror.New(rtcerror.UnknownTransport, err.Error())
	case errors.Is(err, sfu.ErrUnknownProducer):
		return rtcerror.New(rtcerror.UnknownProducer, err.Error())
	case errors.Is(err, sfu.ErrUnknownConsumer):
		return rtcerror.New(rtcerror.UnknownConsumer, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return rtcerror.New(rtcerror.Timeout, "media engine call timed out")
	default:
		return rtcerror.Wrap(rtcerror.EngineFailure, err, "media engine call failed")
	}
}
