package nvwal

// Limits on the engine's construction parameters.
const (
	// MaxPath bounds nv_root/disk_root length, mirroring the original
	// implementation's fixed-size path buffers.
	MaxPath = 256

	// MaxWorkers bounds writer_count.
	MaxWorkers = 64

	// MaxActiveSegments bounds how many NV ring slots nv_quota may imply.
	MaxActiveSegments = 64

	// DefaultSegmentSize is used when Config.SegmentSize is zero.
	DefaultSegmentSize = 64 << 20 // 64 MiB, a convenient power of two

	// DefaultMDSPageSize is used when Config.MDSPageSize is zero.
	DefaultMDSPageSize = 4096

	// DefaultFrameCount is F, the per-writer frame ring size.
	DefaultFrameCount = 5

	// minFrameCount is the floor the per-writer frame ring requires
	// (F >= 4) to sustain the upto-plus-two epoch horizon.
	minFrameCount = 4

	// mdsRecordSize is the fixed, failure-atomic size of one MDS record.
	mdsRecordSize = 64

	// mdsPageFileCount is P, the number of concurrently rotating MDS
	// page files (file slots).
	mdsPageFileCount = 4
)

// InitMode selects how Open treats any existing on-disk/on-NV state.
type InitMode int

const (
	// CreateIfNotExists creates a fresh store if none exists at nv_root/
	// disk_root, or opens and recovers an existing one.
	CreateIfNotExists InitMode = iota

	// Restart requires an existing store and recovers it.
	Restart

	// CreateTruncate treats nv_root/disk_root as already cleaned up by
	// the caller and always creates fresh state.
	CreateTruncate
)

// Config enumerates the engine's construction parameters. Unlike a
// file-backed configuration layer, this is a plain struct the
// embedding process builds and passes to Open — the same shape an
// OpenWAL-style constructor takes its (dir, sizeHint, logger) arguments.
type Config struct {
	// NVRoot is the directory on the NVDIMM-backed filesystem holding
	// segment, MDS buffer, and control-block files.
	NVRoot string

	// DiskRoot is the directory on the block device holding sealed
	// segment copies and MDS page files.
	DiskRoot string

	// WriterCount is the number of writer contexts to create, 1..MaxWorkers.
	WriterCount int

	// WriterBufferSize is B, the size in bytes of each writer's private
	// circular buffer. Must be non-zero and a multiple of 512.
	WriterBufferSize int

	// WriterBuffers holds one caller-owned buffer per writer. If nil,
	// the engine allocates its own of size WriterBufferSize.
	WriterBuffers [][]byte

	// SegmentSize is the fixed NV/disk segment size. Zero selects
	// DefaultSegmentSize.
	SegmentSize int64

	// NVQuota is the total NV bytes dedicated to the segment ring. Must
	// be a multiple of SegmentSize, at least 2*SegmentSize, at most
	// MaxActiveSegments*SegmentSize.
	NVQuota int64

	// MDSPageSize is the page size for MDS page/buffer files. Zero
	// selects DefaultMDSPageSize.
	MDSPageSize int

	// FrameCount is F, the per-writer frame ring size. Zero selects
	// DefaultFrameCount.
	FrameCount int

	// ResumingEpoch is the epoch to restore as durable_epoch when
	// creating a fresh store (Mode == CreateIfNotExists/CreateTruncate
	// and no store previously existed).
	ResumingEpoch Epoch

	// Mode selects the init discipline.
	Mode InitMode
}

// nvSegmentCount returns N, the number of NV ring slots implied by
// NVQuota/SegmentSize.
func (c *Config) nvSegmentCount() int {
	return int(c.NVQuota / c.segmentSize())
}

func (c *Config) segmentSize() int64 {
	if c.SegmentSize == 0 {
		return DefaultSegmentSize
	}
	return c.SegmentSize
}

func (c *Config) mdsPageSize() int {
	if c.MDSPageSize == 0 {
		return DefaultMDSPageSize
	}
	return c.MDSPageSize
}

func (c *Config) frameCount() int {
	if c.FrameCount == 0 {
		return DefaultFrameCount
	}
	return c.FrameCount
}

// Validate checks Config against its documented constraints, returning
// ErrInvalid-wrapped errors. It is called once at Open; a failing
// Config means the engine never starts.
func (c *Config) Validate() error {
	if len(c.NVRoot) == 0 || len(c.NVRoot) >= MaxPath {
		return invalidf("nv_root must be non-empty and shorter than %d bytes", MaxPath)
	}
	if len(c.DiskRoot) == 0 || len(c.DiskRoot) >= MaxPath {
		return invalidf("disk_root must be non-empty and shorter than %d bytes", MaxPath)
	}
	if c.WriterCount < 1 || c.WriterCount > MaxWorkers {
		return invalidf("writer_count must be in [1, %d], got %d", MaxWorkers, c.WriterCount)
	}
	if c.WriterBufferSize == 0 || c.WriterBufferSize%512 != 0 {
		return invalidf("writer_buffer_size must be a non-zero multiple of 512, got %d", c.WriterBufferSize)
	}
	if c.WriterBuffers != nil && len(c.WriterBuffers) != c.WriterCount {
		return invalidf("writer_buffers must have writer_count entries, got %d want %d", len(c.WriterBuffers), c.WriterCount)
	}
	segSize := c.segmentSize()
	if segSize <= 0 {
		return invalidf("segment_size must be positive, got %d", segSize)
	}
	if c.NVQuota%segSize != 0 {
		return invalidf("nv_quota must be a multiple of segment_size")
	}
	n := c.NVQuota / segSize
	if n < 2 {
		return invalidf("nv_quota must be at least 2*segment_size, got %d segments", n)
	}
	if n > MaxActiveSegments {
		return invalidf("nv_quota implies %d segments, exceeding MaxActiveSegments=%d", n, MaxActiveSegments)
	}
	pageSize := c.mdsPageSize()
	if pageSize%512 != 0 {
		return invalidf("mds_page_size must be a multiple of 512, got %d", pageSize)
	}
	fc := c.frameCount()
	if fc < minFrameCount {
		return invalidf("frame_count must be at least %d, got %d", minFrameCount, fc)
	}
	return nil
}
