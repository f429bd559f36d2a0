package sizing

import (
	"strings"
	"testing"

	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/decimal"
	"github.com/copytrade/mirror/pkg/errors"
)

func testMeta() *venue.InstrumentMeta {
	return &venue.InstrumentMeta{
		Pair:        "SOLUSDT",
		StepSize:    "0.001",
		MinQty:      "0.001",
		MinNotional: "5",
		MaxLeverage: 50,
	}
}

func testInput() Input {
	return Input{
		Pair:     "SOLUSDT",
		Entry:    decimal.MustNew("45000"),
		StopLoss: decimal.MustNew("44000"),
		Fund:     decimal.MustNew("100"),
		RiskPct:  decimal.MustNew("5"),
	}
}

func TestCalculateBasic(t *testing.T) {
	// fund=100 risk=5% entry=45000 stop=44000:
	// riskAmount=5, perUnitRisk=1000, rawQty=0.005
	// notional=225, leverage=ceil(225/100)=3, margin=75
	result, err := Calculate(testInput(), testMeta())
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !result.Qty.Equal(decimal.MustNew("0.005")) {
		t.Errorf("Qty = %s, want 0.005", result.Qty.String())
	}
	if result.Leverage != 3 {
		t.Errorf("Leverage = %d, want 3", result.Leverage)
	}
	if !result.Notional.Equal(decimal.MustNew("225")) {
		t.Errorf("Notional = %s, want 225", result.Notional.String())
	}
	if !result.RequiredMargin.Equal(decimal.MustNew("75")) {
		t.Errorf("RequiredMargin = %s, want 75", result.RequiredMargin.String())
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestCalculateStepAlignment(t *testing.T) {
	// rawQty = 5 / 1500 = 0.00333... 必须向下对齐到 0.003
	in := testInput()
	in.StopLoss = decimal.MustNew("43500")

	result, err := Calculate(in, testMeta())
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !result.Qty.Equal(decimal.MustNew("0.003")) {
		t.Errorf("Qty = %s, want 0.003", result.Qty.String())
	}
	step := decimal.MustNew(testMeta().StepSize)
	if !result.Qty.IsMultipleOf(step) {
		t.Errorf("Qty %s not a multiple of step %s", result.Qty.String(), step.String())
	}
}

func TestCalculateMinQtyFloor(t *testing.T) {
	// 风险预算太小时数量归零，改用向上对齐到步长的最小数量
	meta := testMeta()
	meta.StepSize = "0.01"
	meta.MinQty = "0.005"
	meta.MinNotional = "1"

	in := testInput()
	in.Entry = decimal.MustNew("100")
	in.StopLoss = decimal.MustNew("50")
	in.Fund = decimal.MustNew("10")
	in.RiskPct = decimal.MustNew("1")
	// rawQty = 0.1/50 = 0.002 < minQty=0.005, RoundUpToStep(0.01) => 0.01

	result, err := Calculate(in, meta)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !result.Qty.Equal(decimal.MustNew("0.01")) {
		t.Errorf("Qty = %s, want 0.01", result.Qty.String())
	}
	// 成功结果恒满足 requiredMargin <= fund
	if result.RequiredMargin.Cmp(in.Fund) > 0 {
		t.Errorf("RequiredMargin %s exceeds fund %s", result.RequiredMargin.String(), in.Fund.String())
	}
}

func TestCalculateLeverageFloorOne(t *testing.T) {
	// 名义价值低于资金时杠杆取 1 而不是 0
	meta := testMeta()
	meta.MinNotional = "1"

	in := testInput()
	in.Entry = decimal.MustNew("2000")
	in.StopLoss = decimal.MustNew("1000")
	in.Fund = decimal.MustNew("100")
	in.RiskPct = decimal.MustNew("10")
	// rawQty = 10/1000 = 0.01, notional = 20 < fund

	result, err := Calculate(in, meta)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if result.Leverage != 1 {
		t.Errorf("Leverage = %d, want 1", result.Leverage)
	}
	if !result.RequiredMargin.Equal(decimal.MustNew("20")) {
		t.Errorf("RequiredMargin = %s, want 20", result.RequiredMargin.String())
	}
}

func TestCalculateLeverageWarning(t *testing.T) {
	// 超过交易所最大杠杆时只产生告警，不拒绝
	meta := testMeta()
	meta.MaxLeverage = 2

	result, err := Calculate(testInput(), meta)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if result.Leverage != 3 {
		t.Errorf("Leverage = %d, want 3", result.Leverage)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0], "LEVERAGE_EXCEEDED") {
		t.Errorf("warning %q missing leverage code", result.Warnings[0])
	}
}

func TestCalculateRejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Input, *venue.InstrumentMeta)
		wantCode errors.Code
	}{
		{
			name: "notional below venue minimum",
			mutate: func(in *Input, meta *venue.InstrumentMeta) {
				meta.MinNotional = "500"
			},
			wantCode: errors.CodeNotionalTooSmall,
		},
		{
			name: "entry equals stop loss",
			mutate: func(in *Input, meta *venue.InstrumentMeta) {
				in.StopLoss = in.Entry
			},
			wantCode: errors.CodeInvalidPrice,
		},
		{
			name: "non-positive entry",
			mutate: func(in *Input, meta *venue.InstrumentMeta) {
				in.Entry = decimal.MustNew("0")
			},
			wantCode: errors.CodeInvalidPrice,
		},
		{
			name: "zero fund",
			mutate: func(in *Input, meta *venue.InstrumentMeta) {
				in.Fund = decimal.MustNew("0")
			},
			wantCode: errors.CodeInvalidParam,
		},
		{
			name: "risk percent above 100",
			mutate: func(in *Input, meta *venue.InstrumentMeta) {
				in.RiskPct = decimal.MustNew("150")
			},
			wantCode: errors.CodeInvalidParam,
		},
		{
			name: "missing pair",
			mutate: func(in *Input, meta *venue.InstrumentMeta) {
				in.Pair = "  "
			},
			wantCode: errors.CodeInvalidParam,
		},
		{
			name: "fallback-shaped metadata",
			mutate: func(in *Input, meta *venue.InstrumentMeta) {
				meta.StepSize = "1"
				meta.MinQty = "1"
				meta.MaxLeverage = 1
			},
			wantCode: errors.CodeMetaUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput()
			meta := testMeta()
			tt.mutate(&in, meta)

			_, err := Calculate(in, meta)
			if err == nil {
				t.Fatal("expected rejection, got nil")
			}
			bizErr, ok := err.(*errors.Error)
			if !ok {
				t.Fatalf("expected *errors.Error, got %T", err)
			}
			if bizErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", bizErr.Code, tt.wantCode)
			}
		})
	}
}

func TestCalculateWholeQtyOverride(t *testing.T) {
	meta := &venue.InstrumentMeta{
		Pair:        "DOGEUSDT",
		StepSize:    "0.1",
		MinQty:      "1",
		MinNotional: "5",
		MaxLeverage: 25,
	}
	in := Input{
		Pair:     "DOGEUSDT",
		Entry:    decimal.MustNew("0.25"),
		StopLoss: decimal.MustNew("0.20"),
		Fund:     decimal.MustNew("100"),
		RiskPct:  decimal.MustNew("5"),
	}
	// rawQty = 5/0.05 = 100, 整数覆盖后仍为 100

	result, err := Calculate(in, meta)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !result.Qty.Equal(decimal.MustNew("100")) {
		t.Errorf("Qty = %s, want 100", result.Qty.String())
	}
	if result.Qty.Scale() != 0 {
		t.Errorf("Qty scale = %d, want 0", result.Qty.Scale())
	}
}

func TestCalculatePrecisionOverride(t *testing.T) {
	meta := &venue.InstrumentMeta{
		Pair:        "BTCUSDT",
		StepSize:    "0.0001",
		MinQty:      "0.0001",
		MinNotional: "5",
		MaxLeverage: 125,
	}
	in := Input{
		Pair:     "BTCUSDT",
		Entry:    decimal.MustNew("60000"),
		StopLoss: decimal.MustNew("57000"),
		Fund:     decimal.MustNew("500"),
		RiskPct:  decimal.MustNew("7"),
	}
	// rawQty = 35/3000 = 0.01166..., step 对齐 0.0116, 精度覆盖到 3 位 => 0.011

	result, err := Calculate(in, meta)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !result.Qty.Equal(decimal.MustNew("0.011")) {
		t.Errorf("Qty = %s, want 0.011", result.Qty.String())
	}
}

func TestCalculateOverrideRevalidation(t *testing.T) {
	// 整数覆盖把数量归零时必须拒绝而不是提交 0
	meta := &venue.InstrumentMeta{
		Pair:        "XRPUSDT",
		StepSize:    "0.1",
		MinQty:      "0.1",
		MinNotional: "0.1",
		MaxLeverage: 25,
	}
	in := Input{
		Pair:     "XRPUSDT",
		Entry:    decimal.MustNew("0.50"),
		StopLoss: decimal.MustNew("0.40"),
		Fund:     decimal.MustNew("1"),
		RiskPct:  decimal.MustNew("5"),
	}
	// rawQty = 0.05/0.1 = 0.5, 对齐后 0.5, 整数覆盖 => 0

	_, err := Calculate(in, meta)
	if err == nil {
		t.Fatal("expected rejection, got nil")
	}
	bizErr, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if bizErr.Code != errors.CodeQtyTooSmall {
		t.Errorf("code = %s, want %s", bizErr.Code, errors.CodeQtyTooSmall)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	first, err := Calculate(testInput(), testMeta())
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	second, err := Calculate(testInput(), testMeta())
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !first.Qty.Equal(second.Qty) || first.Leverage != second.Leverage {
		t.Errorf("same input diverged: (%s,%d) vs (%s,%d)",
			first.Qty.String(), first.Leverage, second.Qty.String(), second.Leverage)
	}
}
