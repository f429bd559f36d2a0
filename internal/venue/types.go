// Package venue margin-trading venue http client
package venue

// InstrumentMeta 交易对约束
type InstrumentMeta struct {
	Pair        string `json:"pair"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	MinNotional string `json:"minNotional"`
	MaxLeverage int    `json:"maxLeverage"`
}

// OrderSpec 下单请求
type OrderSpec struct {
	Pair     string `json:"pair"`
	Side     string `json:"side"` // BUY / SELL
	Qty      string `json:"qty"`
	Price    string `json:"price"`
	Leverage int    `json:"leverage"`
	Margin   string `json:"margin"`
}

// OrderResult 下单响应
type OrderResult struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LedgerEntry 交易所流水。parent_id 关联订单，position_id 关联仓位。
type LedgerEntry struct {
	EntryID    string `json:"entryId"`
	ParentID   string `json:"parent_id"`
	PositionID string `json:"position_id"`
	Amount     string `json:"amount"`
	Kind       string `json:"kind"`
	TimeMs     int64  `json:"timeMs"`
}
