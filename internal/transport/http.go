package transport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/grabber/internal/utils"
)

type HTTP struct {
	client *utils.HTTPClient
}

func NewHTTP(client *utils.HTTPClient) *HTTP {
	return &HTTP{client: client}
}

func (h *HTTP) Open(ctx context.Context, link string, connectTimeout time.Duration) (*Response, error) {
	const op = "transport/http"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, utils.NewError(utils.KindConfig, op, err)
	}
	cctx, stop, cancel := connectContext(ctx, connectTimeout)
	resp, err := h.client.Do(req.WithContext(cctx))
	if err != nil {
		err = classify(cctx, op, err)
		cancel()
		return nil, err
	}
	if !stop() {
		resp.Body.Close()
		cancel()
		return nil, utils.NewError(utils.KindTimeout, op, ErrConnectTimeout)
	}
	log.Debug().Str("op", op).Str("url", link).Int("status", resp.StatusCode).Int64("length", resp.ContentLength).Msg("Response received")
	if err := CheckStatus(op, resp.StatusCode); err != nil {
		// drain a little so the connection can be reused
		io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()
		cancel()
		return nil, err
	}
	return &Response{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		Header:        resp.Header,
		Body:          &body{op: op, rc: resp.Body, ctx: cctx, cancel: cancel},
	}, nil
}
