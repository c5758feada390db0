// Package router implements UpstreamRouter (C5): provider enumeration with
// BYOK-first then default-key fallback, and empty-stream detection.
// Grounded on spec §4.5.
package router

import (
	"context"
	"time"

	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/gwerrors"
	"ensemblegateway/internal/upstream/client"
	"ensemblegateway/internal/upstream/types"
)

// Provider is one candidate upstream to try, in order.
type Provider struct {
	Key      contracts.ProviderKey
	Endpoint string
}

// Result is what Route returns: either a live event stream (Stream != nil)
// or, when every provider was skipped without error, a nil stream and nil
// error (spec §4.5 step 3: "Ok(None) when no errors").
type Result struct {
	Stream <-chan client.Event
}

// Route tries providers BYOK-first, then with the gateway's default key,
// returning the first live stream. It peeks the first chunk to detect an
// empty stream, then pushes it back (spec §4.5's "peeked chunk is pushed
// back onto the stream").
func Route(ctx context.Context, c *client.Client, providers []Provider, reqCtx contracts.RequestContext, body *types.ChatCompletionRequest, first, other time.Duration, rw client.RewriteOptions) (*Result, error) {
	var errs []error

	tryProvider := func(p Provider, key string) (*Result, bool, error) {
		rw := rw
		rw.Cost.BYOK = key != ""
		stream, err := c.Stream(ctx, p.Endpoint, key, body, first, other, rw)
		if err != nil {
			return nil, false, err
		}
		peeked, ok := <-stream
		if !ok {
			return nil, false, gwerrors.New(gwerrors.KindEmptyStream, "upstream closed with zero chunks")
		}
		if peeked.Err != nil {
			return nil, false, peeked.Err
		}
		merged := make(chan client.Event, 4)
		go func() {
			defer close(merged)
			merged <- peeked
			for ev := range stream {
				merged <- ev
			}
		}()
		return &Result{Stream: merged}, true, nil
	}

	// Pass 1: BYOK.
	for _, p := range providers {
		key, ok := reqCtx.BYOKKey(p.Key)
		if !ok || key == "" {
			continue
		}
		res, live, err := tryProvider(p, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if live {
			return res, nil
		}
	}

	// Pass 2: default key.
	for _, p := range providers {
		key, ok := reqCtx.DefaultKey(p.Key)
		if !ok || key == "" {
			continue
		}
		res, live, err := tryProvider(p, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if live {
			return res, nil
		}
	}

	if len(errs) == 0 {
		return nil, nil
	}
	return nil, gwerrors.MultipleErrors(errs)
}
