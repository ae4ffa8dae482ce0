package mpegts

import (
	"context"
	"errors"
	"io"
)

// Demuxer reads transport stream packets from a reader and returns the
// PAT, PMT and PES units they carry.
type Demuxer struct {
	ctx     context.Context
	r       io.Reader
	buf     []byte
	filled  int
	psi     pidSet
	pool    *pool
	pending []*DemuxerData
	eof     bool
	skipped int
}

// NewDemuxer creates a demuxer reading 188-byte packets from r.
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	psi := make(pidSet)
	return &Demuxer{
		ctx:  ctx,
		r:    r,
		buf:  make([]byte, packetSize),
		psi:  psi,
		pool: newPool(psi),
	}
}

// Skipped returns how many corrupt packets or sections have been dropped.
func (d *Demuxer) Skipped() int {
	return d.skipped
}

// NextData returns the next parsed unit. It returns io.EOF once the reader
// is exhausted and every partially accumulated unit has been returned.
// Other reader errors are returned as is and the call may be retried.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.pending) > 0 {
			data := d.pending[0]
			d.pending = d.pending[1:]
			return data, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		// A read error other than EOF keeps the partial packet so the
		// next call resumes where this one stopped.
		n, err := io.ReadFull(d.r, d.buf[d.filled:])
		d.filled += n
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				for _, ps := range d.pool.drain() {
					d.pending = append(d.pending, d.parse(ps)...)
				}
				continue
			}
			return nil, err
		}
		d.filled = 0

		pkt, err := parsePacket(d.buf)
		if err != nil {
			d.skipped++
			continue
		}
		if ps := d.pool.add(pkt); ps != nil {
			d.pending = append(d.pending, d.parse(ps)...)
		}
	}
}

func (d *Demuxer) parse(packets []*Packet) []*DemuxerData {
	first := packets[0]
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return nil
	}

	if d.psi.isPSI(first.Header.PID) {
		out, err := parsePSI(payload, first)
		if err != nil {
			d.skipped++
		}
		for _, data := range out {
			if data.PAT != nil {
				for _, p := range data.PAT.Programs {
					d.psi[p.ProgramMapID] = true
				}
			}
		}
		return out
	}

	if !isPESPayload(payload) {
		return nil
	}
	pes, err := parsePES(payload)
	if err != nil {
		d.skipped++
		return nil
	}
	return []*DemuxerData{{FirstPacket: first, PES: pes}}
}
