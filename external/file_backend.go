package external

import (
	"encoding/binary"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/foxxll-go/logger"
	"github.com/zhukovaskychina/foxxll-go/util"
)

const lengthPrefixSize = 4

// FileBlockManager implements BlockManager over a striped pool of backing
// files: each block occupies a fixed-size slot addressed by ReadAt/WriteAt
// at a fixed offset within one of the stripe files.
type FileBlockManager struct {
	mu          sync.Mutex
	files       []*os.File
	nextOffset  []int64
	freeOffsets [][]int64
	stripeNext  int

	blockBytes  int
	slotBytes   int64
	compression bool
}

// NewFileBlockManager opens (creating if needed) stripeCount backing files
// under dataDir, each named block-%d.dat.
func NewFileBlockManager(dataDir string, stripeCount int, blockBytes int, compression bool) (*FileBlockManager, error) {
	if stripeCount < 1 {
		stripeCount = 1
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, jerrors.Annotatef(err, "creating data dir %s", dataDir)
	}

	fbm := &FileBlockManager{
		files:       make([]*os.File, stripeCount),
		nextOffset:  make([]int64, stripeCount),
		freeOffsets: make([][]int64, stripeCount),
		blockBytes:  blockBytes,
		compression: compression,
	}

	slot := blockBytes
	if compression {
		slot = lz4.CompressBlockBound(blockBytes) + lengthPrefixSize
	}
	fbm.slotBytes = int64(slot)

	for i := 0; i < stripeCount; i++ {
		path := filepath.Join(dataDir, "block-"+itoa(i)+".dat")
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, jerrors.Annotatef(err, "opening backing file %s", path)
		}
		fbm.files[i] = f
	}

	return fbm, nil
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func itoa(i int) string {
	// avoid pulling in strconv just for this one call site elsewhere; kept
	// trivial and allocation-light for a handful of stripe files.
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// NewBlock allocates a fresh slot in one of the stripe files.
func (fbm *FileBlockManager) NewBlock(strategy AllocatorStrategy) (Handle, error) {
	fbm.mu.Lock()
	defer fbm.mu.Unlock()

	n := len(fbm.files)
	var fileIndex int
	switch strategy {
	case Randomized:
		fileIndex = rand.Intn(n)
	default:
		fileIndex = fbm.stripeNext
		fbm.stripeNext = (fbm.stripeNext + 1) % n
	}

	var offset int64
	if free := fbm.freeOffsets[fileIndex]; len(free) > 0 {
		offset = free[len(free)-1]
		fbm.freeOffsets[fileIndex] = free[:len(free)-1]
	} else {
		offset = fbm.nextOffset[fileIndex]
		fbm.nextOffset[fileIndex] += fbm.slotBytes
	}

	return Handle{fileIndex: fileIndex, offset: offset, valid: true}, nil
}

// DeleteBlock returns a handle's slot to the free list for its file.
func (fbm *FileBlockManager) DeleteBlock(h Handle) error {
	if !h.valid {
		return jerrors.New("DeleteBlock: invalid handle")
	}
	fbm.mu.Lock()
	defer fbm.mu.Unlock()
	fbm.freeOffsets[h.fileIndex] = append(fbm.freeOffsets[h.fileIndex], h.offset)
	return nil
}

// Read issues an asynchronous read of h's slot into buf.
func (fbm *FileBlockManager) Read(buf Buffer, h Handle) *Request {
	req := newRequest()
	if !h.valid {
		req.complete(jerrors.New("Read: invalid handle"))
		return req
	}

	file := fbm.files[h.fileIndex]
	go func() {
		dst := buf.Bytes()

		// A slot allocated but never written sits at or past end-of-file;
		// its content is defined as zeros, not a read failure.
		if !fbm.compression {
			n, err := file.ReadAt(dst[:fbm.blockBytes], h.offset)
			if err == io.EOF {
				zeroFill(dst[n:fbm.blockBytes])
			} else if err != nil {
				req.complete(jerrors.Annotatef(err, "reading block at %v", h))
				return
			}
			logger.Debugf("external read %v: %d bytes, checksum=%x", h, n, util.ChecksumBlock(dst[:fbm.blockBytes]))
			req.complete(nil)
			return
		}

		slot := make([]byte, fbm.slotBytes)
		n, err := file.ReadAt(slot, h.offset)
		if err == io.EOF {
			zeroFill(slot[n:])
		} else if err != nil {
			req.complete(jerrors.Annotatef(err, "reading compressed block at %v", h))
			return
		}
		compressedLen := binary.LittleEndian.Uint32(slot[:lengthPrefixSize])
		if compressedLen == 0 {
			zeroFill(dst[:fbm.blockBytes])
			req.complete(nil)
			return
		}
		if int64(compressedLen) > fbm.slotBytes-lengthPrefixSize {
			req.complete(jerrors.Errorf("reading compressed block at %v: corrupt length prefix %d", h, compressedLen))
			return
		}
		m, err := lz4.UncompressBlock(slot[lengthPrefixSize:lengthPrefixSize+int(compressedLen)], dst)
		if err != nil {
			req.complete(jerrors.Annotatef(err, "decompressing block at %v", h))
			return
		}
		logger.Debugf("external read %v: %d bytes (compressed), checksum=%x", h, m, util.ChecksumBlock(dst[:m]))
		req.complete(nil)
	}()

	return req
}

// Write issues an asynchronous write of buf into h's slot.
func (fbm *FileBlockManager) Write(buf Buffer, h Handle) *Request {
	req := newRequest()
	if !h.valid {
		req.complete(jerrors.New("Write: invalid handle"))
		return req
	}

	file := fbm.files[h.fileIndex]
	go func() {
		src := buf.Bytes()
		logger.Debugf("external write %v: %d bytes, checksum=%x", h, len(src), util.ChecksumBlock(src))

		if !fbm.compression {
			if _, err := file.WriteAt(src, h.offset); err != nil {
				req.complete(jerrors.Annotatef(err, "writing block at %v", h))
				return
			}
			req.complete(nil)
			return
		}

		compressed := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, compressed, nil)
		if err != nil {
			req.complete(jerrors.Annotatef(err, "compressing block at %v", h))
			return
		}
		if n == 0 {
			req.complete(jerrors.Errorf("compressing block at %v: destination buffer too small", h))
			return
		}

		slot := make([]byte, fbm.slotBytes)
		binary.LittleEndian.PutUint32(slot[:lengthPrefixSize], uint32(n))
		copy(slot[lengthPrefixSize:], compressed[:n])

		if _, err := file.WriteAt(slot, h.offset); err != nil {
			req.complete(jerrors.Annotatef(err, "writing compressed block at %v", h))
			return
		}
		req.complete(nil)
	}()

	return req
}

// Close closes every backing file.
func (fbm *FileBlockManager) Close() error {
	fbm.mu.Lock()
	defer fbm.mu.Unlock()

	var first error
	for _, f := range fbm.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
