// Package codec 提供合约状态值的确定性 CBOR 编解码。
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode 采用 Core Deterministic Encoding：map 键排序、最短整数编码、
// 不使用不定长项。相同的数据总是得到相同的字节。
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.BigIntConvert = cbor.BigIntConvertShortest
	encMode, err = opts.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal 使用确定性编码序列化 v。
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal 将 CBOR 数据解码到 v。
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage 是尚未解码的 CBOR 值。
type RawMessage = cbor.RawMessage

// Diagnose 返回 CBOR 诊断表示，用于调试状态内容。
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
