package kv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long the daemon waits for the next request on a
// connection before closing it.
const DefaultIdleTimeout = 30 * time.Second

// Server answers daemon requests from Store.
type Server struct {
	Store KV
	// IdleTimeout bounds the wait for each request and the write of its
	// response. Zero selects DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Serve answers daemon connections on l from store with the default settings.
func Serve(ctx context.Context, l net.Listener, store KV) error {
	return (&Server{Store: store}).Serve(ctx, l)
}

// Serve accepts connections on l until ctx is done or the listener fails.
// Each connection gets its own goroutine. Before returning, Serve closes
// every open connection and waits for in-flight requests to finish, so the
// caller may close the store afterwards.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)
	closeAll := func() {
		mu.Lock()
		defer mu.Unlock()
		for c := range conns {
			_ = c.Close()
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = l.Close()
		closeAll()
	})
	defer func() {
		stop()
		closeAll()
		wg.Wait()
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			_ = conn.Close()
			return nil
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	idle := s.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := dispatch(ctx, s.Store, &req)
		_ = conn.SetWriteDeadline(time.Now().Add(idle))
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func dispatch(ctx context.Context, store KV, req *Request) *Response {
	switch req.Op {
	case opGet:
		v, err := store.Get(ctx, req.Key)
		if err != nil {
			return failure(err)
		}
		return &Response{OK: true, Found: v != nil, Value: v}
	case opGetMany:
		vals, err := store.GetMany(ctx, req.Keys)
		if err != nil {
			return failure(err)
		}
		present := make([]bool, len(vals))
		for i, v := range vals {
			present[i] = v != nil
		}
		return &Response{OK: true, Values: vals, Present: present}
	case opSet:
		if err := store.Set(ctx, req.Key, req.Value); err != nil {
			return failure(err)
		}
		return &Response{OK: true}
	case opSetMany:
		if err := store.SetMany(ctx, req.Entries); err != nil {
			return failure(err)
		}
		return &Response{OK: true}
	case opDelete:
		if err := store.Delete(ctx, req.Key); err != nil {
			return failure(err)
		}
		return &Response{OK: true}
	case opDeleteMany:
		if err := store.DeleteMany(ctx, req.Keys); err != nil {
			return failure(err)
		}
		return &Response{OK: true}
	case opScan:
		entries, err := store.Scan(ctx, req.Prefix)
		if err != nil {
			return failure(err)
		}
		return &Response{OK: true, Entries: entries}
	default:
		return &Response{OK: false, Error: "unknown op " + req.Op, Code: CodeInvalidArgument}
	}
}

func failure(err error) *Response {
	code := CodeUnavailable
	if errors.Is(err, ErrInvalidArgument) {
		code = CodeInvalidArgument
	}
	msg := err.Error()
	var kerr *Error
	if errors.As(err, &kerr) && kerr.Err != nil {
		msg = kerr.Err.Error()
	}
	return &Response{OK: false, Error: msg, Code: code}
}
