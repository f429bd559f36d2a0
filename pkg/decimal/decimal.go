// Package decimal 精度计算工具
package decimal

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimal 高精度十进制数
type Decimal struct {
	value *big.Int // 内部值（最小单位整数）
	scale int      // 小数位数
}

// Zero 零值
var Zero = &Decimal{value: big.NewInt(0), scale: 0}

// New 从字符串创建
func New(s string) (*Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, nil
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) > 1 {
		fracPart = parts[1]
	}

	// 符号剥离后只允许纯数字，且至少要有一位
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}

	combined := intPart + fracPart
	value := new(big.Int)
	if _, ok := value.SetString(combined, 10); !ok {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}

	if negative {
		value.Neg(value)
	}

	return &Decimal{value: value, scale: len(fracPart)}, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MustNew 从字符串创建，panic on error
func MustNew(s string) *Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt 从整数创建
func FromInt(v int64) *Decimal {
	return &Decimal{value: big.NewInt(v), scale: 0}
}

// FromIntWithScale 从最小单位整数创建
func FromIntWithScale(v int64, scale int) *Decimal {
	return &Decimal{value: big.NewInt(v), scale: scale}
}

// String 转字符串
func (d *Decimal) String() string {
	if d == nil || d.value == nil {
		return "0"
	}

	s := d.value.String()
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	if d.scale > 0 {
		for len(s) <= d.scale {
			s = "0" + s
		}
		pos := len(s) - d.scale
		s = s[:pos] + "." + s[pos:]
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}

	if negative {
		return "-" + s
	}
	return s
}

// Scale 返回小数位数
func (d *Decimal) Scale() int {
	return d.scale
}

// Cmp 比较：-1 (d < other), 0 (d == other), 1 (d > other)
func (d *Decimal) Cmp(other *Decimal) int {
	d1, d2 := d.alignScale(other)
	return d1.value.Cmp(d2.value)
}

// Equal 精确相等（数值比较，与表示精度无关）
func (d *Decimal) Equal(other *Decimal) bool {
	return d.Cmp(other) == 0
}

// Add 加法
func (d *Decimal) Add(other *Decimal) *Decimal {
	d1, d2 := d.alignScale(other)
	return &Decimal{value: new(big.Int).Add(d1.value, d2.value), scale: d1.scale}
}

// Sub 减法
func (d *Decimal) Sub(other *Decimal) *Decimal {
	d1, d2 := d.alignScale(other)
	return &Decimal{value: new(big.Int).Sub(d1.value, d2.value), scale: d1.scale}
}

// Mul 乘法
func (d *Decimal) Mul(other *Decimal) *Decimal {
	return &Decimal{
		value: new(big.Int).Mul(d.value, other.value),
		scale: d.scale + other.scale,
	}
}

// Div 除法（指定精度，向下截断）
func (d *Decimal) Div(other *Decimal, scale int) *Decimal {
	if other.value.Sign() == 0 {
		// 避免生产环境 panic：返回 0，由调用方自行处理业务含义
		return &Decimal{value: big.NewInt(0), scale: scale}
	}

	targetScale := scale + other.scale
	scaleDiff := targetScale - d.scale

	dividend := new(big.Int).Set(d.value)
	if scaleDiff > 0 {
		dividend.Mul(dividend, pow10(scaleDiff))
	} else if scaleDiff < 0 {
		dividend.Quo(dividend, pow10(-scaleDiff))
	}

	return &Decimal{value: dividend.Quo(dividend, other.value), scale: scale}
}

// DivCeilInt 除法向上取整，返回整数结果（用于杠杆计算）
func (d *Decimal) DivCeilInt(other *Decimal) int64 {
	if other.value.Sign() == 0 {
		return 0
	}
	d1, d2 := d.alignScale(other)
	quo, rem := new(big.Int).QuoRem(d1.value, d2.value, new(big.Int))
	if rem.Sign() != 0 && (d1.value.Sign() > 0) == (d2.value.Sign() > 0) {
		quo.Add(quo, big.NewInt(1))
	}
	return quo.Int64()
}

// Neg 取负
func (d *Decimal) Neg() *Decimal {
	return &Decimal{value: new(big.Int).Neg(d.value), scale: d.scale}
}

// Abs 绝对值
func (d *Decimal) Abs() *Decimal {
	return &Decimal{value: new(big.Int).Abs(d.value), scale: d.scale}
}

// IsZero 是否为零
func (d *Decimal) IsZero() bool {
	return d.value.Sign() == 0
}

// IsPositive 是否为正
func (d *Decimal) IsPositive() bool {
	return d.value.Sign() > 0
}

// IsNegative 是否为负
func (d *Decimal) IsNegative() bool {
	return d.value.Sign() < 0
}

// Truncate 截断到指定精度（向下）
func (d *Decimal) Truncate(scale int) *Decimal {
	if scale >= d.scale {
		return d
	}
	result := new(big.Int).Quo(d.value, pow10(d.scale-scale))
	return &Decimal{value: result, scale: scale}
}

// RoundDownToStep 向下取整到 step 的整数倍。
// 按 step 精度放大为最小单位整数后整除再还原，不经过二进制浮点。
func (d *Decimal) RoundDownToStep(step *Decimal) *Decimal {
	if step == nil || step.value.Sign() <= 0 {
		return d
	}
	d1, s1 := d.alignScale(step)
	multiple := new(big.Int).Quo(d1.value, s1.value)
	return &Decimal{
		value: multiple.Mul(multiple, s1.value),
		scale: d1.scale,
	}
}

// RoundUpToStep 向上取整到 step 的整数倍
func (d *Decimal) RoundUpToStep(step *Decimal) *Decimal {
	if step == nil || step.value.Sign() <= 0 {
		return d
	}
	d1, s1 := d.alignScale(step)
	quo, rem := new(big.Int).QuoRem(d1.value, s1.value, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return &Decimal{
		value: quo.Mul(quo, s1.value),
		scale: d1.scale,
	}
}

// IsMultipleOf step 整数倍判定（精确十进制比较）
func (d *Decimal) IsMultipleOf(step *Decimal) bool {
	if step == nil || step.value.Sign() <= 0 {
		return false
	}
	d1, s1 := d.alignScale(step)
	rem := new(big.Int).Rem(d1.value, s1.value)
	return rem.Sign() == 0
}

// ToInt 转为最小单位整数
func (d *Decimal) ToInt(scale int) int64 {
	return d.setScale(scale).value.Int64()
}

// Float64 转为 float64（只用于展示与日志，不参与计算）
func (d *Decimal) Float64() float64 {
	f, _ := new(big.Rat).SetFrac(d.value, pow10(d.scale)).Float64()
	return f
}

func (d *Decimal) alignScale(other *Decimal) (*Decimal, *Decimal) {
	if d.scale == other.scale {
		return d, other
	}
	if d.scale > other.scale {
		return d, other.setScale(d.scale)
	}
	return d.setScale(other.scale), other
}

func (d *Decimal) setScale(scale int) *Decimal {
	if scale == d.scale {
		return d
	}

	result := new(big.Int).Set(d.value)
	if diff := scale - d.scale; diff > 0 {
		result.Mul(result, pow10(diff))
	} else {
		result.Quo(result, pow10(-diff))
	}
	return &Decimal{value: result, scale: scale}
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Min 返回较小值
func Min(a, b *Decimal) *Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max 返回较大值
func Max(a, b *Decimal) *Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
