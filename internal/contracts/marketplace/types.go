// Package marketplace 实现数据商品目录与购买编排合约。
//
// 卖家发布商品（ResourceDDO 描述管理者与可选的合约引用，DTokenItem 描述
// 价格、库存、有效期与关联的令牌模板）；买家购买后由账本合约为其发放
// 使用额度。费用按以下顺序选择路由：代收合约、结算合约托管、直接转账。
// 一次购买中的任何失败都会回滚整笔交易。
package marketplace

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/currency"
)

// ResourceDDO 描述商品的管理者与依赖的合约。为空的引用使用默认值：
// Ledger 为空使用默认账本；Accountant 与 SplitPolicy 为空表示不启用。
type ResourceDDO struct {
	Manager      common.Address  `cbor:"manager"`
	ItemMetaHash common.Hash     `cbor:"item_meta_hash"`
	Ledger       *common.Address `cbor:"ledger" rlp:"nil"`
	Accountant   *common.Address `cbor:"accountant" rlp:"nil"`
	SplitPolicy  *common.Address `cbor:"split_policy" rlp:"nil"`
}

// DTokenItem 是商品的售卖条款。
type DTokenItem struct {
	Fee         currency.Fee `cbor:"fee"`
	Expiry      uint64       `cbor:"expiry"`
	Stock       uint64       `cbor:"stock"`
	TemplateIDs []string     `cbor:"template_ids"`
}

// HasTemplate 判断模板是否属于该商品。
func (i *DTokenItem) HasTemplate(id string) bool {
	return slices.Contains(i.TemplateIDs, id)
}

// ResourceItem 是目录中的一条商品记录。
type ResourceItem struct {
	ResourceID string      `cbor:"resource_id"`
	DDO        ResourceDDO `cbor:"ddo"`
	Item       DTokenItem  `cbor:"item"`
	Sold       uint64      `cbor:"sold"`
	Frozen     bool        `cbor:"frozen"`
}
