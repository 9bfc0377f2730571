package sink

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

const (
	MagicBlock      = "CSVB"
	BlockTargetSize = 64 * 1024
)

var ErrBadBlockFile = errors.New("not a block file")

type Codec string

const (
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case "", CodecLZ4:
		return CodecLZ4, nil
	case CodecZstd:
		return CodecZstd, nil
	}
	return "", fmt.Errorf("unknown codec %q", name)
}

// BlockMeta locates one compressed block. All records of a block come from
// the same split; FirstOffset is the source offset of the first of them.
type BlockMeta struct {
	Split       int   `json:"split"`
	FirstOffset int64 `json:"firstOffset"`
	Offset      int64 `json:"offset"`
	Length      int64 `json:"length"`
	RecordCount int64 `json:"recordCount"`
}

type Footer struct {
	Codec  Codec       `json:"codec"`
	Blocks []BlockMeta `json:"blocks"`
}

type pendingBlock struct {
	raw         bytes.Buffer
	enc         *json.Encoder
	firstOffset int64
	count       int64
}

// BlockWriter stores records as compressed blocks of JSON lines followed by
// a JSON footer and its 8-byte big-endian length.
type BlockWriter struct {
	w       io.Writer
	codec   Codec
	footer  Footer
	offset  int64
	pending map[int]*pendingBlock
	lw      *lz4.Writer
	zw      *zstd.Encoder
	compBuf bytes.Buffer
	closed  bool
}

func NewBlockWriter(w io.Writer, codec Codec) (*BlockWriter, error) {
	bw := &BlockWriter{
		w:       w,
		codec:   codec,
		footer:  Footer{Codec: codec},
		pending: make(map[int]*pendingBlock),
	}
	switch codec {
	case CodecLZ4:
		bw.lw = lz4.NewWriter(io.Discard)
		if err := bw.lw.Apply(lz4.BlockSizeOption(lz4.Block64Kb)); err != nil {
			return nil, fmt.Errorf("lz4 options: %w", err)
		}
	case CodecZstd:
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		bw.zw = zw
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}

	n, err := w.Write([]byte(MagicBlock))
	if err != nil {
		return nil, err
	}
	bw.offset = int64(n)
	return bw, nil
}

func (bw *BlockWriter) Write(split int, offset int64, rec types.Record) error {
	pb, ok := bw.pending[split]
	if !ok {
		pb = &pendingBlock{}
		pb.enc = json.NewEncoder(&pb.raw)
		bw.pending[split] = pb
	}
	if pb.count == 0 {
		pb.firstOffset = offset
	}
	if err := pb.enc.Encode(rec); err != nil {
		return err
	}
	pb.count++
	if pb.raw.Len() >= BlockTargetSize {
		return bw.flush(split, pb)
	}
	return nil
}

func (bw *BlockWriter) compress(raw []byte) ([]byte, error) {
	bw.compBuf.Reset()
	switch bw.codec {
	case CodecZstd:
		return bw.zw.EncodeAll(raw, bw.compBuf.Bytes()), nil
	default:
		bw.lw.Reset(&bw.compBuf)
		if _, err := bw.lw.Write(raw); err != nil {
			return nil, err
		}
		if err := bw.lw.Close(); err != nil {
			return nil, err
		}
		return bw.compBuf.Bytes(), nil
	}
}

func (bw *BlockWriter) flush(split int, pb *pendingBlock) error {
	if pb.count == 0 {
		return nil
	}
	compressed, err := bw.compress(pb.raw.Bytes())
	if err != nil {
		return err
	}

	n, err := bw.w.Write(compressed)
	if err != nil {
		return err
	}
	bw.footer.Blocks = append(bw.footer.Blocks, BlockMeta{
		Split:       split,
		FirstOffset: pb.firstOffset,
		Offset:      bw.offset,
		Length:      int64(n),
		RecordCount: pb.count,
	})
	bw.offset += int64(n)

	pb.raw.Reset()
	pb.count = 0
	return nil
}

// Close flushes every pending block in split order and writes the footer.
// The underlying writer is left open.
func (bw *BlockWriter) Close() error {
	if bw.closed {
		return nil
	}
	bw.closed = true

	splits := make([]int, 0, len(bw.pending))
	for s := range bw.pending {
		splits = append(splits, s)
	}
	sort.Ints(splits)
	for _, s := range splits {
		if err := bw.flush(s, bw.pending[s]); err != nil {
			return err
		}
	}
	if bw.zw != nil {
		if err := bw.zw.Close(); err != nil {
			return fmt.Errorf("close zstd encoder: %w", err)
		}
	}

	footerBytes, err := json.Marshal(bw.footer)
	if err != nil {
		return err
	}
	n, err := bw.w.Write(footerBytes)
	if err != nil {
		return err
	}
	return binary.Write(bw.w, binary.BigEndian, int64(n))
}

type BlockReader struct {
	r       io.ReadSeeker
	Footer  Footer
	compBuf []byte
	zr      *zstd.Decoder
}

func NewBlockReader(r io.ReadSeeker) (*BlockReader, error) {
	magic := make([]byte, len(MagicBlock))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != MagicBlock {
		return nil, ErrBadBlockFile
	}

	end, err := r.Seek(-8, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBlockFile, err)
	}
	var footerLen int64
	if err := binary.Read(r, binary.BigEndian, &footerLen); err != nil {
		return nil, err
	}
	if footerLen <= 0 || footerLen > end-int64(len(MagicBlock)) {
		return nil, fmt.Errorf("%w: footer length %d", ErrBadBlockFile, footerLen)
	}

	if _, err := r.Seek(-(8 + footerLen), io.SeekEnd); err != nil {
		return nil, err
	}
	footerBytes := make([]byte, footerLen)
	if _, err := io.ReadFull(r, footerBytes); err != nil {
		return nil, err
	}

	br := &BlockReader{r: r}
	if err := json.Unmarshal(footerBytes, &br.Footer); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBlockFile, err)
	}
	if br.Footer.Codec == CodecZstd {
		if br.zr, err = zstd.NewReader(nil); err != nil {
			return nil, err
		}
	}
	return br, nil
}

// ReadBlock decodes the records of one block. Numbers come back as float64.
func (br *BlockReader) ReadBlock(meta BlockMeta) ([]types.Record, error) {
	if _, err := br.r.Seek(meta.Offset, io.SeekStart); err != nil {
		return nil, err
	}

	needed := int(meta.Length)
	if cap(br.compBuf) < needed {
		br.compBuf = make([]byte, needed)
	}
	br.compBuf = br.compBuf[:needed]
	if _, err := io.ReadFull(br.r, br.compBuf); err != nil {
		return nil, err
	}

	var src io.Reader
	switch br.Footer.Codec {
	case CodecZstd:
		raw, err := br.zr.DecodeAll(br.compBuf, nil)
		if err != nil {
			return nil, err
		}
		src = bytes.NewReader(raw)
	default:
		src = lz4.NewReader(bytes.NewReader(br.compBuf))
	}

	dec := json.NewDecoder(src)
	out := make([]types.Record, 0, meta.RecordCount)
	for {
		var rec types.Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if int64(len(out)) != meta.RecordCount {
		return nil, fmt.Errorf("block at %d: %d records, footer says %d", meta.Offset, len(out), meta.RecordCount)
	}
	return out, nil
}

// Each calls fn for every record, block by block in file order.
func (br *BlockReader) Each(fn func(meta BlockMeta, rec types.Record) error) error {
	for _, meta := range br.Footer.Blocks {
		recs, err := br.ReadBlock(meta)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := fn(meta, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (br *BlockReader) Close() error {
	if br.zr != nil {
		br.zr.Close()
	}
	return nil
}
