package runtime

import (
	"encoding/binary"
	stdErrors "errors"

	"DDXF-Market/internal/codec"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/storage"
)

const (
	contractNamespace byte = 'c'
	runtimeNamespace  byte = 'r'
)

// Key 构造状态键：标签后跟若干带长度前缀的部分，不同部分之间不会产生歧义。
func Key(tag string, parts ...[]byte) []byte {
	size := len(tag)
	for _, p := range parts {
		size += binary.MaxVarintLen64 + len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, tag...)
	for _, p := range parts {
		out = binary.AppendUvarint(out, uint64(len(p)))
		out = append(out, p...)
	}
	return out
}

// Storage 是单个合约可见的存储分区。
type Storage struct {
	tx     *storage.Tx
	prefix []byte
}

func newStorage(tx *storage.Tx, prefix []byte) *Storage {
	return &Storage{tx: tx, prefix: prefix}
}

func (s *Storage) key(k []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// Get 读取原始字节，不存在时返回 storage.ErrNotFound。
func (s *Storage) Get(key []byte) ([]byte, error) {
	return s.tx.Get(s.key(key))
}

// Has 判断键是否存在。
func (s *Storage) Has(key []byte) (bool, error) {
	return s.tx.Has(s.key(key))
}

// Put 写入原始字节。
func (s *Storage) Put(key, value []byte) error {
	return s.tx.Put(s.key(key), value)
}

// Delete 删除键。
func (s *Storage) Delete(key []byte) error {
	return s.tx.Delete(s.key(key))
}

// Load 读取并解码 CBOR 值，返回值表示键是否存在。
func (s *Storage) Load(key []byte, v any) (bool, error) {
	raw, err := s.Get(key)
	if err != nil {
		if stdErrors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码状态失败")
	}
	return true, nil
}

// Save 以 CBOR 编码写入值。
func (s *Storage) Save(key []byte, v any) error {
	raw, err := codec.Marshal(v)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码状态失败")
	}
	return s.Put(key, raw)
}
