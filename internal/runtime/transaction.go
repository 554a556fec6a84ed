package runtime

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	xerrors "DDXF-Market/internal/errors"
)

// Transaction 是一次外部调用请求。
type Transaction struct {
	Contract   common.Address
	Method     string
	Args       []byte
	Nonce      uint64
	Timestamp  uint64
	Signatures [][]byte
}

type unsignedTransaction struct {
	Contract  common.Address
	Method    string
	Args      []byte
	Nonce     uint64
	Timestamp uint64
}

// Hash 返回未签名字段 RLP 编码的 Keccak256 摘要。
func (tx *Transaction) Hash() common.Hash {
	payload, err := rlp.EncodeToBytes(unsignedTransaction{
		Contract:  tx.Contract,
		Method:    tx.Method,
		Args:      tx.Args,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
	})
	if err != nil {
		// 所有字段类型都可编码。
		panic("runtime: encode transaction: " + err.Error())
	}
	return crypto.Keccak256Hash(payload)
}

// Sign 使用私钥对交易追加一个签名。
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	hash := tx.Hash()
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "签名交易失败")
	}
	tx.Signatures = append(tx.Signatures, sig)
	return nil
}

// Signers 从签名中恢复出见证地址集合，重复签名只计一次。
func (tx *Transaction) Signers() ([]common.Address, error) {
	hash := tx.Hash()
	seen := make(map[common.Address]struct{}, len(tx.Signatures))
	signers := make([]common.Address, 0, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		if len(sig) != crypto.SignatureLength {
			return nil, xerrors.Unauthorized("signature %d has invalid length %d", i, len(sig))
		}
		pub, err := crypto.SigToPub(hash[:], sig)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUnauthorized, err, "恢复签名者失败")
		}
		addr := crypto.PubkeyToAddress(*pub)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		signers = append(signers, addr)
	}
	return signers, nil
}

// Encode 返回包含签名的完整 RLP 编码。
func (tx *Transaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// DecodeTransaction 解析 Encode 的输出。
func DecodeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := rlp.DecodeBytes(data, &tx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析交易失败")
	}
	return &tx, nil
}
