package wsutil

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/solunet/waveform/utils/json"
)

// Websocket is a wrapper around a Connection with a send rate limiter.
type Websocket struct {
	Conn Connection
	Addr string

	SendLimiter *rate.Limiter
}

func New(addr string) *Websocket {
	return NewCustom(NewConn(json.Default), addr)
}

// NewCustom creates a new undialed Websocket.
func NewCustom(conn Connection, addr string) *Websocket {
	return &Websocket{
		Conn:        conn,
		Addr:        addr,
		SendLimiter: NewSendLimiter(),
	}
}

func (ws *Websocket) Dial(ctx context.Context) error {
	if err := ws.Conn.Dial(ctx, ws.Addr); err != nil {
		return errors.Wrap(err, "failed to dial")
	}

	return nil
}

func (ws *Websocket) Listen() <-chan Event {
	return ws.Conn.Listen()
}

func (ws *Websocket) Send(ctx context.Context, b []byte) error {
	if err := ws.SendLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "SendLimiter failed")
	}

	return ws.Conn.Send(ctx, b)
}

func (ws *Websocket) Close(err error) error {
	return ws.Conn.Close(err)
}
