// Package runtime 是合约的宿主环境。
//
// 它为合约提供三种能力：事务性键值存储（按合约地址分区）、见证校验
// （secp256k1 签名恢复出的签名者集合）以及同步的跨合约调用。每笔交易
// 在全局互斥锁下串行执行，成功则整体提交，任何一层调用失败则整体回滚，
// 通知在提交之后才会交给发布器。
package runtime
