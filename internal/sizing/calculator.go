// Package sizing 风险预算仓位计算
package sizing

import (
	"strings"

	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/decimal"
	"github.com/copytrade/mirror/pkg/errors"
)

// 计算中间值统一采用 8 位小数精度
const workScale = 8

// 需要整数数量的交易对（交易所对这些合约不接受小数仓位）
var wholeQtyPairs = map[string]struct{}{
	"DOGEUSDT":     {},
	"XRPUSDT":      {},
	"1000PEPEUSDT": {},
	"1000SHIBUSDT": {},
}

// 提交前按交易所惯例收敛显示精度的交易对
var qtyPrecisionOverrides = map[string]int{
	"BTCUSDT": 3,
	"ETHUSDT": 3,
}

// Input 仓位计算输入
type Input struct {
	Pair     string
	Entry    *decimal.Decimal
	StopLoss *decimal.Decimal
	Fund     *decimal.Decimal
	RiskPct  *decimal.Decimal
}

// Result 仓位计算结果
type Result struct {
	Qty            *decimal.Decimal
	Leverage       int
	Notional       *decimal.Decimal
	RequiredMargin *decimal.Decimal
	Warnings       []string
}

// Calculate 把跟单者的风险预算换算成符合交易所约束的
// (数量, 杠杆, 保证金)。纯函数：不做 I/O，同样的输入和元数据
// 快照必然得到同样的输出。
func Calculate(in Input, meta *venue.InstrumentMeta) (*Result, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := venue.ValidateMeta(meta); err != nil {
		return nil, errors.Newf(errors.CodeMetaUnavailable, "instrument metadata unavailable for %s", in.Pair)
	}

	step := decimal.MustNew(meta.StepSize)
	minQty := decimal.MustNew(meta.MinQty)
	minNotional := decimal.MustNew(meta.MinNotional)

	// 1. 风险金额与单位风险
	riskAmount := in.Fund.Mul(in.RiskPct).Div(decimal.FromInt(100), workScale)
	perUnitRisk := in.Entry.Sub(in.StopLoss).Abs()

	// 2. 原始数量，向下对齐到步长倍数
	rawQty := riskAmount.Div(perUnitRisk, workScale)
	qty := rawQty.RoundDownToStep(step)

	// 3. 低于最小数量时改用向上对齐到步长的最小数量，
	//    绝不提交不在步长格点上的 minQty
	if qty.Cmp(minQty) < 0 {
		qty = minQty.RoundUpToStep(step)
	}

	// 4. 交易对级覆盖：整数数量与显示精度，覆盖结果以覆盖为准
	qty = applyOverrides(in.Pair, qty)
	if !qty.IsPositive() {
		return nil, errors.Newf(errors.CodeQtyTooSmall, "computed quantity %s below tradable minimum for %s", qty.String(), in.Pair)
	}
	if qty.Cmp(minQty) < 0 {
		return nil, errors.Newf(errors.CodeQtyTooSmall, "quantity %s below instrument minimum %s", qty.String(), minQty.String())
	}

	// 5. 名义价值、杠杆、保证金
	notional := qty.Mul(in.Entry)
	leverage := int(notional.DivCeilInt(in.Fund))
	if leverage < 1 {
		leverage = 1
	}
	requiredMargin := notional.Div(decimal.FromInt(int64(leverage)), workScale)

	if notional.Cmp(minNotional) < 0 {
		return nil, errors.Newf(errors.CodeNotionalTooSmall, "notional %s below venue minimum %s", notional.String(), minNotional.String())
	}
	if requiredMargin.Cmp(in.Fund) > 0 {
		return nil, errors.Newf(errors.CodeInsufficientMargin, "required margin %s exceeds follower fund %s", requiredMargin.String(), in.Fund.String())
	}

	result := &Result{
		Qty:            qty,
		Leverage:       leverage,
		Notional:       notional,
		RequiredMargin: requiredMargin,
	}

	// 杠杆超限只告警不拒绝，是否交给交易所拒单由调用方决定
	if meta.MaxLeverage > 0 && leverage > meta.MaxLeverage {
		result.Warnings = append(result.Warnings,
			errors.Newf(errors.CodeLeverageExceeded, "computed leverage %dx exceeds venue maximum %dx", leverage, meta.MaxLeverage).Error())
	}

	return result, nil
}

func validateInput(in Input) error {
	if strings.TrimSpace(in.Pair) == "" {
		return errors.New(errors.CodeInvalidParam, "pair required")
	}
	if in.Entry == nil || !in.Entry.IsPositive() {
		return errors.New(errors.CodeInvalidPrice, "entry price must be positive")
	}
	if in.StopLoss == nil || !in.StopLoss.IsPositive() {
		return errors.New(errors.CodeInvalidPrice, "stop loss must be positive")
	}
	if in.Entry.Equal(in.StopLoss) {
		return errors.New(errors.CodeInvalidPrice, "entry and stop loss must differ")
	}
	if in.Fund == nil || !in.Fund.IsPositive() {
		return errors.New(errors.CodeInvalidParam, "fund must be positive")
	}
	if in.RiskPct == nil || !in.RiskPct.IsPositive() || in.RiskPct.Cmp(decimal.FromInt(100)) > 0 {
		return errors.New(errors.CodeInvalidParam, "risk percent must be in (0, 100]")
	}
	return nil
}

// applyOverrides 提交前的最终取整，独立于步长合规
func applyOverrides(pair string, qty *decimal.Decimal) *decimal.Decimal {
	if _, ok := wholeQtyPairs[pair]; ok {
		return qty.Truncate(0)
	}
	if precision, ok := qtyPrecisionOverrides[pair]; ok {
		return qty.Truncate(precision)
	}
	return qty
}
