package quant

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		step  string
		want  string
	}{
		{"유효 자릿수 기준 내림", 0.123456, "0.00001000", "0.12345"},
		{"step 그대로", 0.0001, "0.00010000", "0.0001"},
		{"step 미만은 0", 0.00008, "0.00010000", "0.0000"},
		{"정수 step", 17.9, "1", "17"},
		{"소수 2자리 가격", 105.126, "0.01", "105.12"},
		{"이진 표현 불가 step", 0.123456789, "0.00000100", "0.123456"},
		{"정확히 배수인 값", 0.00080, "0.00010000", "0.0008"},
		{"0 값", 0, "0.001", "0.000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FloorToStep(tt.value, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCeilToStep(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		step  string
		want  string
	}{
		{"올림", 105.121, "0.01", "105.13"},
		{"배수는 그대로", 106.00, "0.01", "106.00"},
		{"step 미만도 한 단위로 올림", 0.00003, "0.00010000", "0.0001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CeilToStep(tt.value, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// 내림 결과는 항상 step의 정수배이고, value 이하이며, 차이가 step 미만이어야 합니다
func TestFloorToStepProperties(t *testing.T) {
	steps := []string{"0.00000100", "0.00001000", "0.001", "0.01", "0.5", "1"}
	values := []float64{0, 0.000001, 0.123456, 1.999999, 42.0, 12345.6789}

	for _, stepStr := range steps {
		step, err := NewStep(stepStr)
		require.NoError(t, err)

		for _, v := range values {
			got := step.Quantize(v, RoundDown)

			d, err := decimal.NewFromString(got)
			require.NoError(t, err)

			assert.True(t, step.IsMultiple(d), "step %s, value %v: %s는 배수가 아님", stepStr, v, got)

			vd := decimal.NewFromFloat(v)
			assert.True(t, d.LessThanOrEqual(vd), "step %s, value %v: %s > value", stepStr, v, got)
			assert.True(t, vd.Sub(d).LessThan(step.Size()), "step %s, value %v: 잔차가 step 이상", stepStr, v)
		}
	}
}

func TestFloorToStepIdempotent(t *testing.T) {
	first, err := FloorToStep(0.123456789, "0.00001000")
	require.NoError(t, err)

	d, err := decimal.NewFromString(first)
	require.NoError(t, err)
	f, _ := d.Float64()

	second, err := FloorToStep(f, "0.00001000")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewStepInvalid(t *testing.T) {
	_, err := NewStep("0")
	assert.Error(t, err)

	_, err = NewStep("-0.01")
	assert.Error(t, err)

	_, err = NewStep("abc")
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero("0.0000"))
	assert.True(t, IsZero("0"))
	assert.False(t, IsZero("0.0008"))
}
