package metrics

import "time"

var (
	txTotal = newCounterVec("ddxf_transactions_total",
		"Transactions executed by method and result code.", "method", "code")
	txLatency = newHistogramVec("ddxf_transaction_duration_seconds",
		"Transaction execution time in seconds.", "method")
)

// ObserveTransaction 记录一次交易执行，code 为空表示成功。
func ObserveTransaction(method, code string, duration time.Duration) {
	if code == "" {
		code = "OK"
	}
	txTotal.inc(method, code)
	txLatency.observe(duration.Seconds(), method)
}
