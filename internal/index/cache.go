package index

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
)

// Normalized records are cached as deterministic CBOR compressed with
// zstd. The encoder and decoder are safe for concurrent EncodeAll and
// DecodeAll calls, so one of each serves every worker.
var (
	encMode     cbor.EncMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("index: CBOR encoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("index: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("index: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeFile(f *parse.File) (blob []byte, rawSize int, digest string, err error) {
	raw, err := encMode.Marshal(f)
	if err != nil {
		return nil, 0, "", fmt.Errorf("encode records: %w", err)
	}
	sum := blake3.Sum256(raw)
	return zstdEncoder.EncodeAll(raw, nil), len(raw), hex.EncodeToString(sum[:]), nil
}

func decodeFile(blob []byte, rawSize int, digest string) (*parse.File, error) {
	raw, err := zstdDecoder.DecodeAll(blob, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("decompress records: %w", err)
	}
	sum := blake3.Sum256(raw)
	if hex.EncodeToString(sum[:]) != digest {
		return nil, fmt.Errorf("cached records digest mismatch")
	}
	var f parse.File
	if err := cbor.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return &f, nil
}

// FileCache stores normalized files keyed by path, mtime and size. The
// variant records the normalizer settings; entries written under other
// settings are misses.
type FileCache struct {
	db      *DB
	variant string
}

func (d *DB) FileCache(opts parse.Options) *FileCache {
	tools := opts.DelegationTools
	if tools == nil {
		tools = parse.DefaultDelegationTools
	}
	return &FileCache{db: d, variant: "tools=" + strings.Join(tools, ",")}
}

// Load returns the cached normalization of path when it is still
// current. Damaged entries count as misses.
func (c *FileCache) Load(path string, mtime, size int64) (*parse.File, bool) {
	var (
		variant string
		m, s    int64
		rawSize int
		digest  string
		blob    []byte
	)
	err := c.db.db.QueryRow(
		"SELECT variant, mtime, size, raw_size, digest, blob FROM files WHERE path = ?", path,
	).Scan(&variant, &m, &s, &rawSize, &digest, &blob)
	if err != nil {
		return nil, false
	}
	if variant != c.variant || m != mtime || s != size {
		return nil, false
	}
	f, err := decodeFile(blob, rawSize, digest)
	if err != nil {
		return nil, false
	}
	f.Path = path
	return f, true
}

func (c *FileCache) Store(f *parse.File) error {
	blob, rawSize, digest, err := encodeFile(f)
	if err != nil {
		return err
	}
	_, err = c.db.db.Exec(
		`INSERT OR REPLACE INTO files (path, variant, mtime, size, raw_size, digest, blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.Path, c.variant, f.Mtime.UnixNano(), f.Size, rawSize, digest, blob,
	)
	if err != nil {
		return fmt.Errorf("cache %s: %w", f.Path, err)
	}
	return nil
}

// PruneFiles drops cache entries for paths not in seen.
func (d *DB) PruneFiles(seen map[string]struct{}) (int, error) {
	rows, err := d.db.Query("SELECT path FROM files")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := seen[p]; !ok {
			stale = append(stale, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, p := range stale {
		if _, err := tx.Exec("DELETE FROM files WHERE path = ?", p); err != nil {
			return 0, err
		}
	}
	return len(stale), tx.Commit()
}
