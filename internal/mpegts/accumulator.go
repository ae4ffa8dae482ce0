package mpegts

import "slices"

// pidSet records the PIDs that carry PMT sections.
type pidSet map[uint16]bool

func (s pidSet) isPSI(pid uint16) bool {
	return pid == pidPAT || s[pid]
}

// accumulator collects the packets of one PID until a unit is complete:
// on the next payload unit start for PES, or once the section length is
// satisfied for PSI.
type accumulator struct {
	pid     uint16
	psi     pidSet
	packets []*Packet
}

func (a *accumulator) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		a.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(a.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		last := a.packets[n-1].Header.ContinuityCounter
		switch p.Header.ContinuityCounter {
		case (last + 1) & 0x0F:
		case last:
			return nil // duplicate
		default:
			a.packets = nil // lost packets, the unit is unusable
		}
	}

	var done []*Packet
	if p.Header.PayloadUnitStartIndicator && len(a.packets) > 0 {
		done = a.packets
		a.packets = nil
	}
	a.packets = append(a.packets, p)

	if done == nil && a.psi.isPSI(a.pid) && psiComplete(a.packets) {
		done = a.packets
		a.packets = nil
	}
	return done
}

func (a *accumulator) flush() []*Packet {
	done := a.packets
	a.packets = nil
	return done
}

// psiComplete reports whether the payloads hold every section they start.
func psiComplete(packets []*Packet) bool {
	payload := joinPayloads(packets)
	if len(payload) < 1 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if len(payload)-off < 3 {
			return false
		}
		n, ok := sectionBounds(payload[off:])
		if !ok {
			return true
		}
		if off+n > len(payload) {
			return false
		}
		off += n
	}
	return true
}

func joinPayloads(packets []*Packet) []byte {
	n := 0
	for _, p := range packets {
		n += len(p.Payload)
	}
	out := make([]byte, 0, n)
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// pool holds one accumulator per PID.
type pool struct {
	psi  pidSet
	accs map[uint16]*accumulator
}

func newPool(psi pidSet) *pool {
	return &pool{psi: psi, accs: make(map[uint16]*accumulator)}
}

func (pl *pool) add(p *Packet) []*Packet {
	a, ok := pl.accs[p.Header.PID]
	if !ok {
		a = &accumulator{pid: p.Header.PID, psi: pl.psi}
		pl.accs[p.Header.PID] = a
	}
	return a.add(p)
}

// drain flushes every accumulator, PAT first so PMT PIDs are known before
// their sections are parsed.
func (pl *pool) drain() [][]*Packet {
	pids := make([]uint16, 0, len(pl.accs))
	for pid := range pl.accs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var out [][]*Packet
	for _, pid := range pids {
		if ps := pl.accs[pid].flush(); len(ps) > 0 {
			out = append(out, ps)
		}
	}
	return out
}
