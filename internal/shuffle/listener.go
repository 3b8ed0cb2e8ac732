package shuffle

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
)

// Delivery is one received payload tagged with the identity of the upstream
// connection it arrived on. Bolts align snapshot cuts per upstream
// connection, relying on the per-connection FIFO order.
type Delivery struct {
	Payload models.Payload
	Conn    uint64
}

// Listener accepts upstream connections and merges their payload streams
// into a single channel while preserving per-connection order.
type Listener struct {
	ln     net.Listener
	out    chan Delivery
	nextID atomic.Uint64
	logger zerolog.Logger
}

// Listen binds the shuffle endpoint.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:     ln,
		out:    make(chan Delivery, 128),
		logger: logger.GetLogger("shuffle"),
	}, nil
}

// Deliveries is the merged inbound stream. Closed when Serve returns.
func (l *Listener) Deliveries() <-chan Delivery {
	return l.out
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Blocks; run it on its own goroutine.
func (l *Listener) Serve(ctx context.Context) {
	var readers sync.WaitGroup
	defer func() {
		readers.Wait()
		close(l.out)
	}()
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Err(err).Msg("accept error")
			continue
		}
		stats.Add(numAccepted, 1)
		id := l.nextID.Add(1)
		readers.Add(1)
		go func() {
			defer readers.Done()
			l.readConn(ctx, id, conn)
		}()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
	}
}

func (l *Listener) readConn(ctx context.Context, id uint64, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		payload, err := models.ReadPayload(r)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				stats.Add(numDecodeErrors, 1)
				l.logger.Err(err).Uint64("conn", id).Msg("reading payload")
			}
			return
		}
		stats.Add(numPayloadsReceived, 1)
		select {
		case l.out <- Delivery{Payload: payload, Conn: id}:
		case <-ctx.Done():
			return
		}
	}
}

// Close shuts the listener down.
func (l *Listener) Close() error {
	return l.ln.Close()
}
