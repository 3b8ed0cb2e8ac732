package shuffle

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/topology"
)

const dialTimeout = 10 * time.Second

// Pool hands out one long-lived connection per downstream address. Sends on
// one connection are serialized, preserving the per-pair FIFO order the
// protocol requires.
type Pool struct {
	mu     sync.Mutex
	conns  map[string]*poolConn
	logger zerolog.Logger
}

type poolConn struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{
		conns:  make(map[string]*poolConn),
		logger: logger.GetLogger("shuffle"),
	}
}

func (p *Pool) get(addr topology.Addr) (*poolConn, error) {
	key := addr.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if pc, ok := p.conns[key]; ok {
		return pc, nil
	}
	stats.Add(numDials, 1)
	conn, err := net.DialTimeout("tcp", key, dialTimeout)
	if err != nil {
		stats.Add(numDialErrors, 1)
		return nil, err
	}
	pc := &poolConn{conn: conn, w: bufio.NewWriter(conn)}
	p.conns[key] = pc
	p.logger.Debug().Str("addr", key).Msg("dialed downstream")
	return pc, nil
}

// Send delivers one payload to addr, establishing the pooled connection on
// first use. A write failure evicts the connection so the next send
// redials.
func (p *Pool) Send(addr topology.Addr, payload models.Payload) error {
	line, err := models.MarshalPayload(payload)
	if err != nil {
		return err
	}
	pc, err := p.get(addr)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	_, werr := pc.w.Write(line)
	if werr == nil {
		werr = pc.w.Flush()
	}
	pc.mu.Unlock()

	if werr != nil {
		stats.Add(numSendErrors, 1)
		p.evict(addr.String(), pc)
		return werr
	}
	stats.Add(numPayloadsSent, 1)
	return nil
}

func (p *Pool) evict(key string, pc *poolConn) {
	p.mu.Lock()
	if cur, ok := p.conns[key]; ok && cur == pc {
		delete(p.conns, key)
	}
	p.mu.Unlock()
	pc.conn.Close()
}

// Close tears down every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, pc := range p.conns {
		pc.conn.Close()
		delete(p.conns, key)
	}
	return nil
}
