package wire

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
	"github.com/rvtacit/tracedecoder/rv"
)

// MinReadBufferSize is the minimum encoded-trace read buffer the pipeline
// is required to use.
const MinReadBufferSize = 1 << 20

// Reader parses the wire packet format from a buffered byte stream,
// refilling a caller-supplied Packet and reporting bytes consumed.
type Reader struct {
	src *bufio.Reader
	n   int
}

// NewReader wraps r in a buffered reader sized at least MinReadBufferSize.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReaderSize(r, MinReadBufferSize)}
}

func (rd *Reader) ReadByte() (byte, error) {
	b, err := rd.src.ReadByte()
	if err == nil {
		rd.n++
	}
	return b, err
}

// Next reads one record into pkt, returning the number of bytes consumed.
// io.EOF with n==0 signals a clean end of stream; any other error,
// including io.EOF after partial consumption, is a corrupt stream.
func (rd *Reader) Next(pkt *Packet) (int, error) {
	rd.n = 0
	header, err := rd.src.ReadByte()
	if err != nil {
		return 0, io.EOF
	}
	rd.n = 1

	*pkt = Packet{}
	pkt.CHeader = CHeader(header & 0x3)
	if pkt.CHeader != CNa {
		pkt.Compressed = true
		pkt.CompressedDelta = header >> 2
		pkt.Timestamp = uint64(pkt.CompressedDelta)
		switch pkt.CHeader {
		case CTb:
			pkt.FHeader = FTb
		case CNt:
			pkt.FHeader = FNt
		case CIj:
			pkt.FHeader = FIj
		}
		return rd.n, nil
	}

	pkt.FHeader = FHeader((header >> 2) & 0x7)
	subfn := (header >> 5) & 0x7

	switch pkt.FHeader {
	case FTb, FNt, FIj:
		ts, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		pkt.Timestamp = ts

	case FUj:
		target, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		ts, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		pkt.TargetAddress = target
		pkt.Timestamp = ts

	case FTrap:
		pkt.TrapType = TrapType(subfn)
		from, target, err := rd.readPrvByte()
		if err != nil {
			return rd.n, err
		}
		pkt.FromPrv, pkt.TargetPrv = from, target
		if pkt.TrapType == TrapReturn && target == rv.PrvUser {
			ctx, err := readVarint(rd)
			if err != nil {
				return rd.n, err
			}
			pkt.TargetCtx = ctx
		}
		fromAddr, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		targetAddr, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		ts, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		pkt.FromAddress = fromAddr
		pkt.TargetAddress = targetAddr
		pkt.Timestamp = ts

	case FSync:
		pkt.SyncType = SyncType(subfn)
		from, target, err := rd.readPrvByte()
		if err != nil {
			return rd.n, err
		}
		pkt.FromPrv, pkt.TargetPrv = from, target
		ctx, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		cfgByte, err := rd.ReadByte()
		if err != nil {
			return rd.n, errors.Wrap(ErrCorruptStream, "short read in runtime config byte")
		}
		targetAddr, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		ts, err := readVarint(rd)
		if err != nil {
			return rd.n, err
		}
		pkt.TargetCtx = ctx
		pkt.RuntimeCfg = decodeRuntimeCfg(cfgByte)
		pkt.TargetAddress = targetAddr
		pkt.Timestamp = ts

	default:
		return rd.n, errors.Wrapf(ErrCorruptStream, "reserved f_header %#03b", pkt.FHeader)
	}

	return rd.n, nil
}

// readPrvByte parses a privilege byte: [7:6] must be the checksum 0b10,
// [5:3] is target_prv, [2:0] is from_prv.
func (rd *Reader) readPrvByte() (from, target rv.Prv, err error) {
	b, err := rd.ReadByte()
	if err != nil {
		return 0, 0, errors.Wrap(ErrCorruptStream, "short read in privilege byte")
	}
	if b>>6 != 0b10 {
		return 0, 0, errors.Wrapf(ErrCorruptStream, "privilege byte checksum violation %#08b", b)
	}
	target, err = rv.PrvFromWire((b >> 3) & 0x7)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrCorruptStream, "target_prv: %s", err)
	}
	from, err = rv.PrvFromWire(b & 0x7)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrCorruptStream, "from_prv: %s", err)
	}
	return from, target, nil
}
